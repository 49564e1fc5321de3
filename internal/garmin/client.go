package garmin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stridelab-garmin-sync/internal/metrics"
)

// maxQueryWindowSeconds is the widest (start, end) span the Health API
// accepts on windowed endpoints. Wider requests are chunked.
const maxQueryWindowSeconds = 86_400

// Client is a Garmin Health API client
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// NewClient creates a new Garmin Health API client
func NewClient(baseURL, tokenURL, clientID, clientSecret string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

// TokenResponse represents the response from a token exchange or refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExpiresAt computes the absolute expiry from ExpiresIn
func (t *TokenResponse) ExpiresAt(now time.Time) int64 {
	return now.Unix() + t.ExpiresIn
}

// ExchangeToken exchanges an authorization code for access and refresh tokens
func (c *Client) ExchangeToken(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"redirect_uri":  {redirectURI},
	}
	return c.postToken(ctx, metrics.OpExchangeCode, form)
}

// RefreshToken refreshes an access token using a refresh token
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	return c.postToken(ctx, metrics.OpRefreshToken, form)
}

func (c *Client) postToken(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("token request failed", "operation", op, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	c.observe(op, resp.StatusCode, duration)
	c.logger.Info("garmin_token_request", "operation", op, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp.Body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access token")
	}

	return &tokenResp, nil
}

// getJSON performs a bearer-authenticated GET and decodes the response
// into out. Non-2xx responses surface as *HTTPError.
func (c *Client) getJSON(ctx context.Context, op, path, accessToken string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("request failed", "operation", op, "path", path, "error", err)
		return fmt.Errorf("garmin api request failed: %w", err)
	}
	defer resp.Body.Close()

	c.observe(op, resp.StatusCode, duration)
	c.logger.Debug("garmin_api_request", "operation", op, "path", path, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := decodeJSON(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getRowsWindowed fetches a windowed endpoint, chunking any span wider
// than the API's 86,400-second maximum into sequential requests.
func (c *Client) getRowsWindowed(ctx context.Context, op, path, accessToken string, start, end int64) ([]map[string]any, error) {
	if end < start {
		return nil, nil
	}

	var rows []map[string]any
	for chunkStart := start; chunkStart <= end; chunkStart += maxQueryWindowSeconds {
		chunkEnd := min(chunkStart+maxQueryWindowSeconds-1, end)

		query := url.Values{
			"uploadStartTimeInSeconds": {fmt.Sprintf("%d", chunkStart)},
			"uploadEndTimeInSeconds":   {fmt.Sprintf("%d", chunkEnd)},
		}

		var chunk []map[string]any
		if err := c.getJSON(ctx, op, path, accessToken, query, &chunk); err != nil {
			return nil, err
		}
		rows = append(rows, chunk...)
	}

	return rows, nil
}

func (c *Client) observe(op string, status int, duration time.Duration) {
	code := fmt.Sprintf("%d", status)
	metrics.GarminAPIRequestsTotal.WithLabelValues(op, code).Inc()
	metrics.GarminAPIRequestDuration.WithLabelValues(op, code).Observe(duration.Seconds())
}
