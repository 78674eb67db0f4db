// Package model defines the pipeline's core records: ingested events,
// batch lifecycle state, and daily aggregates.
package model

import "time"

// BatchStatus is the lifecycle state of an uploaded batch. Transitions are
// monotonic forward: uploaded → queued → processing → completed | failed.
// The only backward edge is the explicit retry path from failed back to
// processing when a job is redelivered.
type BatchStatus string

const (
	StatusUploaded   BatchStatus = "uploaded"
	StatusQueued     BatchStatus = "queued"
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s BatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event is one candidate-test occurrence ingested from a batch.
// (BatchID, EventID) is unique; duplicates are rejected at insert.
type Event struct {
	EventID     string    `json:"event_id"`
	BatchID     string    `json:"batch_id"`
	CandidateID string    `json:"candidate_id"`
	TestID      string    `json:"test_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Processed   bool      `json:"processed"`
	CreatedAt   time.Time `json:"created_at"`
}

// DayFormat is the calendar-day key layout used by daily aggregates.
const DayFormat = "2006-01-02"

// Day returns the UTC calendar day the event's timestamp falls on.
func (e Event) Day() string {
	return e.Timestamp.UTC().Format(DayFormat)
}

// Batch is one uploaded unit of events tracked through the status lifecycle.
type Batch struct {
	BatchID     string      `json:"batch_id"`
	FileName    string      `json:"file_name"`
	TotalEvents int         `json:"total_events"`
	Status      BatchStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DailyAggregate is the per-day count of processed events by event type.
type DailyAggregate struct {
	Date    string           `json:"date"`
	Metrics map[string]int64 `json:"metrics"`
}
