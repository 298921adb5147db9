package syncqueue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeEntryPayload_Start(t *testing.T) {
	b, err := TimeEntryPayload("", map[string]interface{}{"project": "acme"})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "acme", decoded["project"])
	_, hasID := decoded["id"]
	assert.False(t, hasID)
}

func TestTimeEntryPayload_WithID(t *testing.T) {
	b, err := TimeEntryPayload("entry-123", nil)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "entry-123", decoded["id"])
}

func TestScreenshotPayload(t *testing.T) {
	b, err := ScreenshotPayload([]byte("fake-png-bytes"), "entry-123")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "entry-123", decoded["timeEntryId"])
	assert.Contains(t, decoded["imageData"], "data:image/jpeg;base64,")
}
