package webhook

import (
	"time"

	"github.com/tabiasoft/orodha/core/learner"
)

// EventSource marks events originating from the spreadsheet watcher.
const EventSource = "excel-file"

// Payload is the wire entity POSTed to webhook consumers. It is constructed by
// the dispatcher and exclusively owned until serialized.
type Payload struct {
	EventType   string `json:"event_type"`
	AdmissionNo string `json:"admission_number"`
	FullName    string `json:"full_name"`
	GradeName   string `json:"grade_name"`
	DateJoined  string `json:"date_joined_school"`
	Gender      string `json:"gender"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source"`
}

func NewPayload(evt learner.Event, source string) Payload {
	return Payload{
		EventType:   evt.Type,
		AdmissionNo: evt.AdmissionNo,
		FullName:    evt.Record.FullName,
		GradeName:   evt.Record.GradeName,
		DateJoined:  evt.Record.DateJoined,
		Gender:      evt.Record.Gender,
		Status:      evt.Record.Status,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Source:      source,
	}
}
