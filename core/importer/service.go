// Package importer watches the learner register file and drives the
// parse -> diff -> dispatch pipeline whenever the file changes.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
)

var (
	passesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orodha_import_passes_total",
		Help: "Import passes by outcome.",
	}, []string{"outcome"})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orodha_learner_events_total",
		Help: "Inferred learner change events by type.",
	}, []string{"event_type"})

	lockContentionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orodha_source_lock_contention_total",
		Help: "Times the source file was found locked by its producer.",
	})

	droppedRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orodha_dropped_rows_total",
		Help: "Source rows dropped per pass by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(passesTotal, eventsTotal, lockContentionTotal, droppedRowsTotal)
}

type (
	// Parser reads the source file into a deduplicated snapshot.
	Parser interface {
		Read(ctx context.Context, path string) (*learner.Snapshot, learner.ReadStats, error)
	}

	// Dispatcher hands one inferred event to the downstream consumer.
	Dispatcher interface {
		Dispatch(evt learner.Event)
	}

	// Monitor owns the watch loop. Two triggers converge on the same pass:
	// a fixed-interval poll and filesystem notifications for the source file's
	// directory. Passes are serialized and fingerprint-gated, so redundant
	// triggers are cheap no-ops.
	Monitor struct {
		path        string
		interval    time.Duration
		lockRetries int
		lockDelay   time.Duration
		stopTimeout time.Duration

		parser     Parser
		differ     *learner.Differ
		repo       learner.Repository
		dispatcher Dispatcher
		auth       core.Authorizer
		notifier   core.Notifier
		logger     core.Logger

		mu      sync.Mutex // guards running/cancel/fatal
		running bool
		cancel  context.CancelFunc
		fatal   error
		wg      sync.WaitGroup

		passMu    sync.Mutex // serializes passes
		fileState learner.FileState
		haveState bool
	}
)

func NewMonitor(
	conf *core.Config,
	parser Parser,
	differ *learner.Differ,
	repo learner.Repository,
	dispatcher Dispatcher,
	auth core.Authorizer,
	notifier core.Notifier,
	logger core.Logger,
) *Monitor {
	return &Monitor{
		path:        filepath.Clean(conf.Source.File),
		interval:    conf.Source.PollInterval,
		lockRetries: conf.Source.LockRetries,
		lockDelay:   conf.Source.LockRetryDelay,
		stopTimeout: conf.ShutdownTimeout,
		parser:      parser,
		differ:      differ,
		repo:        repo,
		dispatcher:  dispatcher,
		auth:        auth,
		notifier:    notifier,
		logger:      logger,
	}
}

// Start launches the watch loop and runs an immediate first pass.
// Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating file watcher")
	}
	// the directory, not the file: editors replace the file on save
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return errors.Wrapf(err, "watching %s", dir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(ctx, watcher)
	return nil
}

// Stop cancels the watch loop, interrupting any in-flight lock back-off, and
// waits up to the shutdown timeout for it to exit; a pass stuck in outbound
// delivery is abandoned rather than held onto. Calling Stop on a stopped
// monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()

	timeout := m.stopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn(fmt.Sprintf("watch loop still busy after %s; abandoning it", timeout))
	}
}

func (m *Monitor) fail(err error) {
	m.mu.Lock()
	if m.fatal == nil {
		m.fatal = err
	}
	m.mu.Unlock()
	m.logger.Error("monitor entered an unrecoverable state", err)
}

// Err reports the unrecoverable error the watch loop died with, if any.
// Surfaced through the health endpoint so the app can restart cleanly.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// Healthy reports whether the monitor is running and the source file is
// readable and not held by its producer.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return false
	}

	f, err := os.Open(m.path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return !IsLocked(m.path)
}

func (m *Monitor) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.wg.Done()
	defer func() { _ = watcher.Close() }()

	m.reload(ctx) // pick up the file's current contents right away

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reload(ctx)
		case evt, ok := <-watcher.Events:
			if !ok {
				if ctx.Err() == nil {
					m.fail(core.NewShutdownError("source file watcher terminated"))
				}
				return
			}
			if m.concernsSource(evt) {
				m.reload(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				if ctx.Err() == nil {
					m.fail(core.NewShutdownError("source file watcher terminated"))
				}
				return
			}
			m.logger.Warn("file watcher error", err)
		}
	}
}

func (m *Monitor) concernsSource(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != m.path {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// reload runs one pass: authorization gate, fingerprint gate, lock back-off,
// parse, diff, dispatch, persist. The fingerprint only advances on a pass
// that parsed successfully, so a transient failure is retried on the next
// trigger.
func (m *Monitor) reload(ctx context.Context) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	if !m.auth.CanImport() {
		// an unauthorized actor learns nothing, not even that nothing changed
		passesTotal.WithLabelValues("denied").Inc()
		return
	}

	info, err := os.Stat(m.path)
	if err != nil {
		passesTotal.WithLabelValues("stat_error").Inc()
		m.logger.Warn(fmt.Sprintf("stat %s", m.path), err)
		return
	}
	state := learner.FileState{ModTime: info.ModTime(), Size: info.Size()}
	if m.haveState && state.Equal(m.fileState) {
		passesTotal.WithLabelValues("unchanged").Inc()
		return
	}

	if !m.waitUnlocked(ctx) {
		passesTotal.WithLabelValues("locked").Inc()
		m.logger.Warn(fmt.Sprintf("%s still locked after %d attempts, pass deferred", m.path, m.lockRetries))
		return
	}

	snapshot, stats, err := m.parser.Read(ctx, m.path)
	if err != nil {
		passesTotal.WithLabelValues("read_error").Inc()
		m.logger.Error(fmt.Sprintf("reading %s", m.path), err)
		return
	}

	events, summary := m.differ.Diff(snapshot)
	summary.Duplicates += stats.Duplicates
	summary.Skipped += stats.Skipped
	droppedRowsTotal.WithLabelValues("duplicate").Add(float64(summary.Duplicates))
	droppedRowsTotal.WithLabelValues("invalid").Add(float64(summary.Invalid))
	droppedRowsTotal.WithLabelValues("skipped").Add(float64(summary.Skipped))

	m.auth.AuditImport("import", fmt.Sprintf(
		"%s: %d records, %d new, %d updated, %d removed",
		filepath.Base(m.path), snapshot.Len(), summary.New, summary.Updated, summary.Removed,
	))

	if len(events) > 0 {
		changes := make([]learner.Change, 0, len(events))
		for _, evt := range events {
			m.dispatcher.Dispatch(evt)
			eventsTotal.WithLabelValues(evt.Type).Inc()
			changes = append(changes, learner.Change{Type: evt.Type, Record: evt.Record})
		}
		if err := m.repo.ApplyChanges(ctx, changes); err != nil {
			// events are already out and the accepted snapshot has advanced;
			// surface the persistence failure instead of replaying the pass
			passesTotal.WithLabelValues("apply_error").Inc()
			m.logger.Error("applying changes", err)
			m.notifier.Notify("Learner sync failure", fmt.Sprintf("persisting %d changes: %v", len(changes), err))
		}
	}

	m.fileState = state
	m.haveState = true
	passesTotal.WithLabelValues("ok").Inc()
	m.logger.Info(fmt.Sprintf(
		"pass complete: %d valid, %d new, %d updated, %d removed, %d duplicates, %d invalid, %d skipped",
		stats.Valid, summary.New, summary.Updated, summary.Removed, summary.Duplicates, summary.Invalid, summary.Skipped,
	))

	if summary.HasChanges() {
		m.notifier.Notify("Learner register updated", fmt.Sprintf(
			"%s: %d new, %d updated, %d removed (%d records total)",
			filepath.Base(m.path), summary.New, summary.Updated, summary.Removed, snapshot.Len(),
		))
	}
}

// waitUnlocked probes the producer lock with a fixed, cancelable delay between
// attempts. It reports false when the lock outlasts the retry budget or ctx
// is canceled.
func (m *Monitor) waitUnlocked(ctx context.Context) bool {
	for attempt := 1; attempt <= m.lockRetries; attempt++ {
		if !IsLocked(m.path) {
			return true
		}
		lockContentionTotal.Inc()
		m.logger.Debug(fmt.Sprintf("%s is locked (attempt %d/%d)", m.path, attempt, m.lockRetries))
		if attempt == m.lockRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.lockDelay):
		}
	}
	return false
}
