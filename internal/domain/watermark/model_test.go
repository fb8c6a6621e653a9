package watermark

import (
	"testing"
	"time"
)

func TestCursorBefore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Cursor{SourceID: "pa_requests", LastSeenTimestamp: base, LastSeenID: 100}

	tests := []struct {
		name string
		ts   time.Time
		id   int64
		want bool
	}{
		{"later timestamp", base.Add(time.Second), 1, true},
		{"same timestamp higher id", base, 101, true},
		{"same position", base, 100, false},
		{"same timestamp lower id", base, 99, false},
		{"earlier timestamp higher id", base.Add(-time.Second), 999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Before(tt.ts, tt.id); got != tt.want {
				t.Errorf("Before(%v, %d) = %v, want %v", tt.ts, tt.id, got, tt.want)
			}
		})
	}
}
