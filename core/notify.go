package core

// Notifier is any service that can surface a human-readable notification
// (import summaries, sync failures) to an operator.
type Notifier interface {
	Notify(title, message string)
}

// Authorizer decides whether the current actor may trigger an import.
// A negative answer must be treated as a silent no-op by callers: an
// unauthorized actor must not learn whether the source file changed.
type Authorizer interface {
	CanImport() bool
	// AuditImport records an import attempt by the current actor.
	AuditImport(action, detail string)
}
