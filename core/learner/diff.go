package learner

import (
	"sync/atomic"
)

// ReadStats carries the per-read parser counters reported for observability.
type ReadStats struct {
	Valid      int
	Duplicates int
	Skipped    int
}

// PassSummary aggregates the counters of a single parse pass.
type PassSummary struct {
	New        int
	Updated    int
	Removed    int
	Duplicates int
	Invalid    int
	Skipped    int
}

func (s PassSummary) HasChanges() bool {
	return s.New > 0 || s.Updated > 0 || s.Removed > 0
}

// Differ compares each new snapshot against the last accepted one and infers
// insert/update/removal events. The accepted snapshot is held behind an atomic
// value so that status queries never block a pass in progress; it is replaced
// only after all events for the pass have been computed.
type Differ struct {
	current atomic.Value // *Snapshot
}

func NewDiffer() *Differ {
	d := &Differ{}
	d.current.Store(NewSnapshot())
	return d
}

// Current returns the last accepted snapshot. Safe to call concurrently with Diff.
func (d *Differ) Current() *Snapshot {
	return d.current.Load().(*Snapshot)
}

// Diff classifies next against the last accepted snapshot and swaps it in.
//
// Events are emitted in a stable order: new and updated records in snapshot
// iteration (file) order, removals last carrying the old record, so that a
// consumer applying events in arrival order converges to the source file.
// Invalid records are counted and never emitted, and they never enter the
// accepted snapshot: a record that flickers invalid and back is reported as
// new_student again once it heals, and one that stays invalid until it
// disappears is never reported removed. Only state that was actually announced
// downstream can be retracted. Intra-pass duplicates are filtered by the
// parser already and re-checked here.
func (d *Differ) Diff(next *Snapshot) ([]Event, PassSummary) {
	prev := d.Current()

	var summary PassSummary
	events := make([]Event, 0, next.Len())
	processed := make(map[string]struct{}, next.Len())
	accepted := NewSnapshot()

	for _, key := range next.Keys() {
		if _, seen := processed[key]; seen {
			summary.Duplicates++
			continue
		}
		processed[key] = struct{}{}

		rec, _ := next.Get(key)
		if !rec.Valid() {
			summary.Invalid++
			continue
		}
		accepted.Add(rec)

		old, existed := prev.Get(key)
		switch {
		case !existed:
			summary.New++
			events = append(events, Event{Type: EventNewStudent, AdmissionNo: rec.AdmissionNo, Record: rec})
		case !old.Equal(rec):
			summary.Updated++
			events = append(events, Event{Type: EventStudentUpdated, AdmissionNo: rec.AdmissionNo, Record: rec})
		}
	}

	// anything previously accepted but absent from this pass was removed;
	// the event carries the last known state
	for _, key := range prev.Keys() {
		if _, ok := processed[key]; ok {
			continue
		}
		old, _ := prev.Get(key)
		summary.Removed++
		events = append(events, Event{Type: EventStudentRemoved, AdmissionNo: old.AdmissionNo, Record: old})
	}

	d.current.Store(accepted)
	return events, summary
}
