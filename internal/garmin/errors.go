package garmin

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx response from the Garmin Health API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("garmin api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("garmin api returned status %d: %s", e.StatusCode, e.Body)
}

func statusIs(err error, pred func(int) bool) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return pred(httpErr.StatusCode)
	}
	return false
}

// IsUnauthorized reports whether err is a 401 or 403 from the API
func IsUnauthorized(err error) bool {
	return statusIs(err, func(code int) bool {
		return code == http.StatusUnauthorized || code == http.StatusForbidden
	})
}

// IsTooManyRequests reports whether err is a 429 from the API
func IsTooManyRequests(err error) bool {
	return statusIs(err, func(code int) bool { return code == http.StatusTooManyRequests })
}

// IsServerError reports whether err is a 5xx from the API
func IsServerError(err error) bool {
	return statusIs(err, func(code int) bool { return code >= 500 })
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	return statusIs(err, func(code int) bool { return code == http.StatusNotFound })
}
