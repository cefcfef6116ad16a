package learner

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/tabiasoft/orodha/core"
)

var (
	// errors
	ErrNotFound = errors.New("learner not found")

	dateShapeRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Event types inferred by diffing two snapshots of the source file.
const (
	EventNewStudent     = "new_student"
	EventStudentUpdated = "student_updated"
	EventStudentRemoved = "student_removed"
)

// KnownEventType reports whether t is one of the three event kinds
// a consumer is expected to handle.
func KnownEventType(t string) bool {
	switch t {
	case EventNewStudent, EventStudentUpdated, EventStudentRemoved:
		return true
	}
	return false
}

type (
	// Record is the immutable unit of change detection: one learner row as
	// read from the source spreadsheet, already normalized.
	Record struct {
		AdmissionNo string `json:"admission_number"`
		FullName    string `json:"full_name"`
		GradeName   string `json:"grade_name"`
		DateJoined  string `json:"date_joined_school"` // YYYY-MM-DD once normalized
		Gender      string `json:"gender"`
		Status      string `json:"status"`
	}

	// Event is one inferred insert, update or removal. For removals, Record
	// carries the last known state of the learner.
	Event struct {
		Type        string
		AdmissionNo string
		Record      Record
	}

	// Change is an Event destined for the persistence collaborator.
	Change struct {
		Type   string
		Record Record
	}

	// Repository persists batches of inferred changes. Implementations must be
	// transactional (all-or-nothing per batch) and idempotent on admission number.
	Repository interface {
		ApplyChanges(ctx context.Context, changes []Change) error
	}

	// FileState is the cheap change fingerprint checked before paying the cost
	// of a full parse. It is updated only after a successful parse.
	FileState struct {
		ModTime time.Time
		Size    int64
	}
)

// Key returns the normalized (lower-cased, trimmed) admission number used as
// the record's natural key.
func (r Record) Key() string {
	return core.CleanString(r.AdmissionNo, true /* lower */)
}

// Equal reports structural equality over all fields.
func (r Record) Equal(other Record) bool {
	return r == other
}

// Valid reports whether the record may be emitted downstream. A record missing
// a name or grade, or whose join date does not have the YYYY-MM-DD shape, is
// rejected before comparison.
func (r Record) Valid() bool {
	if core.CleanString(r.FullName) == "" || core.CleanString(r.GradeName) == "" {
		return false
	}
	return dateShapeRegex.MatchString(r.DateJoined)
}

func (fs FileState) Equal(other FileState) bool {
	return fs.Size == other.Size && fs.ModTime.Equal(other.ModTime)
}

// Snapshot is the complete, deduplicated view of the source file's records at
// the last successful parse. Keys are unique: the first occurrence in file
// order wins and later duplicates are dropped. A Snapshot is never mutated
// after being built; readers may hold a reference while a new one is built.
type Snapshot struct {
	keys    []string // file order
	records map[string]Record
}

func NewSnapshot() *Snapshot {
	return &Snapshot{records: make(map[string]Record)}
}

// Add inserts rec under its normalized key, preserving insertion order.
// It reports false when the key is already present (rec is dropped).
func (s *Snapshot) Add(rec Record) bool {
	key := rec.Key()
	if key == "" {
		return false
	}
	if _, dup := s.records[key]; dup {
		return false
	}
	s.keys = append(s.keys, key)
	s.records[key] = rec
	return true
}

func (s *Snapshot) Get(key string) (Record, bool) {
	rec, ok := s.records[key]
	return rec, ok
}

// Keys returns the snapshot's keys in file order.
func (s *Snapshot) Keys() []string {
	return append([]string(nil), s.keys...)
}

func (s *Snapshot) Len() int {
	return len(s.keys)
}
