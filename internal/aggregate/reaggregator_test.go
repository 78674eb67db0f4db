package aggregate

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// fakeSource replays a fixed stream of (day, type, count) rows, grouped and
// ordered by day the way the store produces them.
type fakeSource struct {
	rows [][3]any
}

func (f *fakeSource) ProcessedCountsByDay(ctx context.Context, fn func(day, eventType string, count int64) error) error {
	for _, row := range f.rows {
		if err := fn(row[0].(string), row[1].(string), row[2].(int64)); err != nil {
			return err
		}
	}
	return nil
}

// fakeSink records every ReplaceDay call.
type fakeSink struct {
	replaced map[string]map[string]int64
	order    []string
	err      error
}

func (f *fakeSink) ReplaceDay(ctx context.Context, day string, counts map[string]int64) error {
	if f.err != nil {
		return f.err
	}
	if f.replaced == nil {
		f.replaced = make(map[string]map[string]int64)
	}
	copied := make(map[string]int64, len(counts))
	for k, v := range counts {
		copied[k] = v
	}
	f.replaced[day] = copied
	f.order = append(f.order, day)
	return nil
}

func TestReaggregatorRun(t *testing.T) {
	source := &fakeSource{rows: [][3]any{
		{"2026-01-15", "test_started", int64(10)},
		{"2026-01-15", "test_completed", int64(7)},
		{"2026-01-16", "test_started", int64(3)},
		{"2026-01-17", "answer_submitted", int64(42)},
	}}
	sink := &fakeSink{}

	re := NewReaggregator(source, sink, nil)
	if err := re.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantOrder := []string{"2026-01-15", "2026-01-16", "2026-01-17"}
	if !reflect.DeepEqual(sink.order, wantOrder) {
		t.Errorf("replace order = %v, want %v", sink.order, wantOrder)
	}
	want := map[string]int64{"test_started": 10, "test_completed": 7}
	if !reflect.DeepEqual(sink.replaced["2026-01-15"], want) {
		t.Errorf("2026-01-15 counts = %v, want %v", sink.replaced["2026-01-15"], want)
	}
}

// Two runs over the same source must produce identical replacements: the
// rebuild overwrites per day instead of accumulating across runs.
func TestReaggregatorRunIsIdempotent(t *testing.T) {
	source := &fakeSource{rows: [][3]any{
		{"2026-01-15", "test_started", int64(5)},
	}}
	sink := &fakeSink{}
	re := NewReaggregator(source, sink, nil)

	for i := 0; i < 2; i++ {
		if err := re.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i+1, err)
		}
	}
	if got := sink.replaced["2026-01-15"]["test_started"]; got != 5 {
		t.Errorf("count after repeated runs = %d, want 5", got)
	}
}

func TestReaggregatorEmptySource(t *testing.T) {
	sink := &fakeSink{}
	re := NewReaggregator(&fakeSource{}, sink, nil)
	if err := re.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.order) != 0 {
		t.Errorf("empty source replaced %d days, want 0", len(sink.order))
	}
}

func TestReaggregatorSinkError(t *testing.T) {
	source := &fakeSource{rows: [][3]any{
		{"2026-01-15", "test_started", int64(1)},
		{"2026-01-16", "test_started", int64(1)},
	}}
	sink := &fakeSink{err: errors.New("replace failed")}
	re := NewReaggregator(source, sink, nil)
	if err := re.Run(context.Background()); err == nil {
		t.Fatal("Run should propagate sink errors")
	}
}
