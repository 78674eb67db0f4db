// Package aggregate holds the daily-metrics accumulator shared by the
// incremental batch worker and the authoritative reaggregation job, plus the
// reaggregation scheduler itself.
package aggregate

import "sort"

// Accumulator counts events keyed by (calendar day, event type). The batch
// worker merges its counts into stored aggregates (add); the reaggregator
// replaces stored aggregates wholesale. Counter increments are associative,
// so accumulators built from disjoint batches commute.
type Accumulator struct {
	counts map[string]map[string]int64
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{counts: make(map[string]map[string]int64)}
}

// Observe records a single event occurrence for the given day and type.
func (a *Accumulator) Observe(day, eventType string) {
	a.Add(day, eventType, 1)
}

// Add records n occurrences for the given day and type.
func (a *Accumulator) Add(day, eventType string, n int64) {
	byType, ok := a.counts[day]
	if !ok {
		byType = make(map[string]int64)
		a.counts[day] = byType
	}
	byType[eventType] += n
}

// Merge folds another accumulator's counts into this one.
func (a *Accumulator) Merge(other *Accumulator) {
	for day, byType := range other.counts {
		for eventType, n := range byType {
			a.Add(day, eventType, n)
		}
	}
}

// Days returns the distinct days observed, sorted ascending.
func (a *Accumulator) Days() []string {
	days := make([]string, 0, len(a.counts))
	for day := range a.counts {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// Counts returns a copy of the per-type counts for the given day.
func (a *Accumulator) Counts(day string) map[string]int64 {
	byType, ok := a.counts[day]
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(byType))
	for eventType, n := range byType {
		out[eventType] = n
	}
	return out
}

// Empty reports whether nothing has been observed.
func (a *Accumulator) Empty() bool {
	return len(a.counts) == 0
}

// Total returns the total number of observations across all days and types.
func (a *Accumulator) Total() int64 {
	var total int64
	for _, byType := range a.counts {
		for _, n := range byType {
			total += n
		}
	}
	return total
}
