package syncqueue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// TimeEntryPayload shapes the body enqueued for a time_entry_* operation.
// id is empty for the start operation, which creates a new remote record;
// pause/resume/stop operate on an existing one.
func TimeEntryPayload(id string, extra map[string]interface{}) ([]byte, error) {
	payload := map[string]interface{}{}
	for k, v := range extra {
		payload[k] = v
	}
	if id != "" {
		payload["id"] = id
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("syncqueue: marshal time entry payload: %w", err)
	}
	return b, nil
}

// ScreenshotPayload base64-encodes raw image bytes into a data URL and
// pairs it with the time entry it belongs to, matching the shape the
// remote API expects for screenshot uploads.
func ScreenshotPayload(pngData []byte, timeEntryID string) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(pngData)
	payload := map[string]interface{}{
		"imageData":   "data:image/jpeg;base64," + encoded,
		"timeEntryId": timeEntryID,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("syncqueue: marshal screenshot payload: %w", err)
	}
	return b, nil
}
