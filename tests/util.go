package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
)

// NewConfig returns a configuration suitable for tests: test mode on, short
// retry budgets, no external endpoints.
func NewConfig() *core.Config {
	return &core.Config{
		TestMode: true,
		Env:      "TEST",
		AppName:  "Orodha",
		Source: core.SourceConfig{
			File:           "register.xlsx",
			ImportEnabled:  true,
			PollInterval:   5 * time.Second,
			LockRetries:    2,
			LockRetryDelay: time.Millisecond,
			ReadRetries:    2,
			ReadRetryDelay: time.Millisecond,
		},
		Server:          core.ServerConfig{Port: 8000},
		ShutdownTimeout: time.Second,
	}
}

// NewRecord builds a valid learner record with sensible defaults.
func NewRecord(admissionNo, fullName string) learner.Record {
	return learner.Record{
		AdmissionNo: admissionNo,
		FullName:    fullName,
		GradeName:   "Grade 4",
		DateJoined:  "2020-02-02",
		Gender:      "F",
		Status:      "active",
	}
}

// NewSnapshot builds a snapshot from recs, failing the test on duplicates.
func NewSnapshot(t *testing.T, recs ...learner.Record) *learner.Snapshot {
	t.Helper()
	snap := learner.NewSnapshot()
	for _, rec := range recs {
		if !snap.Add(rec) {
			t.Fatalf("NewSnapshot() failed: duplicate record %q", rec.AdmissionNo)
		}
	}
	return snap
}

// Logger satisfies core.Logger and discards everything.
type Logger struct{}

var _ core.Logger = (*Logger)(nil)

func (Logger) Debug(msg string, args ...interface{}) {}
func (Logger) Info(msg string, args ...interface{})  {}
func (Logger) Warn(msg string, args ...interface{})  {}
func (Logger) Error(msg string, args ...interface{}) {}
func (Logger) Fatal(msg string, args ...interface{}) {}

func MarchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("MarchallObj() failed: %v", err)
	}
	return data
}
