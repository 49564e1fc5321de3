package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"stridelab-garmin-sync/internal/metrics"
)

// Dataset keys as they appear in webhook payloads and dataset endpoints
const (
	DatasetActivities    = "activities"
	DatasetSleeps        = "sleeps"
	DatasetDailies       = "dailies"
	DatasetUserMetrics   = "userMetrics"
	DatasetBodyComps     = "bodyComps"
	DatasetHRV           = "hrv"
	DatasetStressDetails = "stressDetails"
)

// datasetPaths maps dataset keys to their Health API summary endpoints
var datasetPaths = map[string]struct {
	path string
	op   string
}{
	DatasetActivities:    {"/wellness-api/rest/activities", metrics.OpListActivities},
	DatasetSleeps:        {"/wellness-api/rest/sleeps", metrics.OpListSleeps},
	DatasetDailies:       {"/wellness-api/rest/dailies", metrics.OpListDailies},
	DatasetUserMetrics:   {"/wellness-api/rest/userMetrics", metrics.OpListUserMetrics},
	DatasetBodyComps:     {"/wellness-api/rest/bodyComps", metrics.OpListBodyComps},
	DatasetHRV:           {"/wellness-api/rest/hrv", metrics.OpListHRV},
	DatasetStressDetails: {"/wellness-api/rest/stressDetails", metrics.OpListStress},
}

// Datasets returns the dataset keys the client can fetch, in a stable order
func Datasets() []string {
	return []string{
		DatasetActivities, DatasetSleeps, DatasetDailies, DatasetUserMetrics,
		DatasetBodyComps, DatasetHRV, DatasetStressDetails,
	}
}

// IsKnownDataset reports whether key names a dataset the client can fetch
func IsKnownDataset(key string) bool {
	_, ok := datasetPaths[key]
	return ok
}

// FetchDataset fetches one dataset over the (start, end) window, chunking
// as required by the API.
func (c *Client) FetchDataset(ctx context.Context, accessToken, datasetKey string, start, end int64) ([]map[string]any, error) {
	ep, ok := datasetPaths[datasetKey]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", datasetKey)
	}
	return c.getRowsWindowed(ctx, ep.op, ep.path, accessToken, start, end)
}

// GetUserID returns the device-side user identifier for the token's owner
func (c *Client) GetUserID(ctx context.Context, accessToken string) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	if err := c.getJSON(ctx, metrics.OpGetUserID, "/wellness-api/rest/user/id", accessToken, nil, &out); err != nil {
		return "", err
	}
	if out.UserID == "" {
		return "", fmt.Errorf("user id response missing userId")
	}
	return out.UserID, nil
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}
