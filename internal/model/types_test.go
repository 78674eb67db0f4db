package model

import (
	"testing"
	"time"
)

func TestEventDayUsesUTC(t *testing.T) {
	// 23:30 in UTC-5 is 04:30 the next day in UTC.
	loc := time.FixedZone("EST", -5*3600)
	e := Event{Timestamp: time.Date(2026, 1, 15, 23, 30, 0, 0, loc)}
	if got := e.Day(); got != "2026-01-16" {
		t.Errorf("Day() = %q, want 2026-01-16", got)
	}
}

func TestBatchStatusTerminal(t *testing.T) {
	tests := []struct {
		status BatchStatus
		want   bool
	}{
		{StatusUploaded, false},
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
