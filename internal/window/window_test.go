package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsOpen_NoInboundMessage(t *testing.T) {
	assert.False(t, IsOpen(nil, time.Now()))
}

func TestIsOpen_Boundaries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		last time.Duration
		want bool
	}{
		{"just received", time.Second, true},
		{"one minute before close", 23*time.Hour + 59*time.Minute, true},
		{"exactly 24h is closed", 24 * time.Hour, false},
		{"one second past", 24*time.Hour + time.Second, false},
		{"30 hours ago", 30 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := now.Add(-tt.last)
			assert.Equal(t, tt.want, IsOpen(&last, now))
		})
	}
}

func TestClosesAt(t *testing.T) {
	assert.True(t, ClosesAt(nil).IsZero())

	last := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, last.Add(24*time.Hour), ClosesAt(&last))
}
