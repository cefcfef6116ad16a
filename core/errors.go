package core

import "github.com/pkg/errors"

// FieldError pins a validation failure to the setting or field that caused it.
type FieldError struct {
	Field string
	Error string
}

// ValidationError aggregates the per-field failures of a validation pass,
// such as Config.Validate rejecting a partially-configured service.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

// NewShutdownError returns an error signaling an unrecoverable state, such as
// the source watcher dying underneath the monitor. The API error handler
// reacts to it by triggering a graceful shutdown.
func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
