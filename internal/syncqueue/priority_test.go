package syncqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityFromEntityType(t *testing.T) {
	tests := []struct {
		entityType string
		expected   Priority
	}{
		{"time_entry_start", PriorityCritical},
		{"time_entry_stop", PriorityCritical},
		{"time_entry_pause", PriorityHigh},
		{"time_entry_resume", PriorityHigh},
		{"screenshot", PriorityNormal},
		{"activity", PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.entityType, func(t *testing.T) {
			assert.Equal(t, tt.expected, PriorityFromEntityType(tt.entityType))
		})
	}
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "normal", PriorityNormal.String())
}
