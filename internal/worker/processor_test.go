package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/internal/aggregate"
	"github.com/assessly-hq/assessment-event-pipeline/internal/dispatch"
	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
	apperrors "github.com/assessly-hq/assessment-event-pipeline/pkg/errors"
)

// fakeStore implements Store in memory and records the calls the processor
// makes, so tests can assert both outcomes and side effects.
type fakeStore struct {
	batch  *model.Batch
	events []model.Event

	claimOK  bool
	claimErr error

	committed  *aggregate.Accumulator
	commits    int
	completed  int
	failed     int
	commitErr  error
	batchErr   error
	eventsErr  error
	markedFail bool
}

func (f *fakeStore) Batch(ctx context.Context, batchID string) (*model.Batch, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batch, nil
}

func (f *fakeStore) ClaimProcessing(ctx context.Context, batchID string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	return f.claimOK, nil
}

func (f *fakeStore) UnprocessedEvents(ctx context.Context, batchID string) ([]model.Event, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events, nil
}

func (f *fakeStore) CommitBatchAggregation(ctx context.Context, batchID string, acc *aggregate.Accumulator) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = acc
	f.commits++
	// Committed events are no longer unprocessed on redelivery.
	f.events = nil
	return nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, batchID string) error {
	f.completed++
	if f.batch != nil {
		f.batch.Status = model.StatusCompleted
	}
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, batchID string) error {
	f.failed++
	f.markedFail = true
	return nil
}

func testBatch(status model.BatchStatus) *model.Batch {
	return &model.Batch{
		BatchID:     "batch-1",
		FileName:    "events.csv",
		TotalEvents: 3,
		Status:      status,
	}
}

func testEvents() []model.Event {
	day1 := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 16, 9, 30, 0, 0, time.UTC)
	return []model.Event{
		{EventID: "e1", BatchID: "batch-1", EventType: "test_started", Timestamp: day1},
		{EventID: "e2", BatchID: "batch-1", EventType: "test_started", Timestamp: day1},
		{EventID: "e3", BatchID: "batch-1", EventType: "test_completed", Timestamp: day2},
	}
}

func job() dispatch.Job {
	return dispatch.Job{ID: "job-1", BatchID: "batch-1", Attempt: 1, EnqueuedAt: time.Now()}
}

func TestProcessAggregatesAndCompletes(t *testing.T) {
	store := &fakeStore{batch: testBatch(model.StatusQueued), events: testEvents(), claimOK: true}
	p := New(store, nil)

	if err := p.Process(context.Background(), job()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if store.commits != 1 {
		t.Fatalf("commits = %d, want 1", store.commits)
	}
	if got := store.committed.Counts("2026-01-15")["test_started"]; got != 2 {
		t.Errorf("test_started on 2026-01-15 = %d, want 2", got)
	}
	if got := store.committed.Counts("2026-01-16")["test_completed"]; got != 1 {
		t.Errorf("test_completed on 2026-01-16 = %d, want 1", got)
	}
	if store.completed != 1 {
		t.Errorf("completed marks = %d, want 1", store.completed)
	}
}

// Redelivering a job for a completed batch must be a clean no-op: the message
// is acknowledged and no counts change.
func TestProcessRedeliveryAfterCompletion(t *testing.T) {
	store := &fakeStore{batch: testBatch(model.StatusQueued), events: testEvents(), claimOK: true}
	p := New(store, nil)

	if err := p.Process(context.Background(), job()); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := p.Process(context.Background(), job()); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if store.commits != 1 {
		t.Errorf("commits after redelivery = %d, want 1", store.commits)
	}
	if store.completed != 1 {
		t.Errorf("completed marks after redelivery = %d, want 1", store.completed)
	}
}

func TestProcessUnknownBatchAcks(t *testing.T) {
	store := &fakeStore{batchErr: apperrors.ErrBatchNotFound}
	p := New(store, nil)
	if err := p.Process(context.Background(), job()); err != nil {
		t.Fatalf("unknown batch should ack, got error: %v", err)
	}
	if store.commits != 0 || store.completed != 0 {
		t.Error("unknown batch must have no side effects")
	}
}

func TestProcessClaimDeniedSkips(t *testing.T) {
	store := &fakeStore{batch: testBatch(model.StatusProcessing), claimOK: false}
	p := New(store, nil)
	if err := p.Process(context.Background(), job()); err != nil {
		t.Fatalf("denied claim should ack, got error: %v", err)
	}
	if store.commits != 0 || store.completed != 0 {
		t.Error("denied claim must have no side effects")
	}
}

// A claimed batch with nothing left to process still finishes `completed`
// instead of stranding in `processing`.
func TestProcessEmptyBatchCompletes(t *testing.T) {
	store := &fakeStore{batch: testBatch(model.StatusQueued), claimOK: true}
	p := New(store, nil)
	if err := p.Process(context.Background(), job()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if store.commits != 0 {
		t.Errorf("commits = %d, want 0", store.commits)
	}
	if store.completed != 1 {
		t.Errorf("completed marks = %d, want 1", store.completed)
	}
}

func TestProcessCommitErrorPropagates(t *testing.T) {
	store := &fakeStore{
		batch:     testBatch(model.StatusQueued),
		events:    testEvents(),
		claimOK:   true,
		commitErr: errors.New("tx aborted"),
	}
	p := New(store, nil)
	if err := p.Process(context.Background(), job()); err == nil {
		t.Fatal("commit failure must surface so the job is retried")
	}
	if store.completed != 0 {
		t.Error("batch must not complete after a failed commit")
	}
}

func TestFailMarksBatchFailed(t *testing.T) {
	store := &fakeStore{batch: testBatch(model.StatusProcessing)}
	p := New(store, nil)
	p.Fail(context.Background(), job(), errors.New("exhausted"))
	if !store.markedFail {
		t.Error("terminal failure must mark the batch failed")
	}
}
