package importer

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
	inmemdb "github.com/tabiasoft/orodha/storage/database/inmem"
	testutil "github.com/tabiasoft/orodha/tests"
)

type stubParser struct {
	snap  *learner.Snapshot
	stats learner.ReadStats
	err   error
	reads int
}

func (p *stubParser) Read(ctx context.Context, path string) (*learner.Snapshot, learner.ReadStats, error) {
	p.reads++
	return p.snap, p.stats, p.err
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []learner.Event
}

func (d *captureDispatcher) Dispatch(evt learner.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *captureDispatcher) all() []learner.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]learner.Event(nil), d.events...)
}

type stubAuthorizer struct {
	allowed bool
	audits  []string
}

func (a *stubAuthorizer) CanImport() bool { return a.allowed }
func (a *stubAuthorizer) AuditImport(action, detail string) {
	a.audits = append(a.audits, action+": "+detail)
}

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "register.xlsx")
	if err := ioutil.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writeSourceFile() failed: %v", err)
	}
	return path
}

func newTestMonitor(t *testing.T, path string, parser Parser, auth *stubAuthorizer) (*Monitor, *captureDispatcher, *notifysvcSpy) {
	t.Helper()
	conf := testutil.NewConfig()
	conf.Source.File = path

	dispatcher := &captureDispatcher{}
	notifier := &notifysvcSpy{}
	m := NewMonitor(conf, parser, learner.NewDiffer(), inmemdb.NewLearnerRepository(), dispatcher, auth, notifier, testutil.Logger{})
	return m, dispatcher, notifier
}

type notifysvcSpy struct {
	mu   sync.Mutex
	sent []string
}

func (n *notifysvcSpy) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, title)
}

func (n *notifysvcSpy) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func Test_Monitor_reload(t *testing.T) {
	path := writeSourceFile(t, "v1")
	parser := &stubParser{snap: testutil.NewSnapshot(t, testutil.NewRecord("A1", "Jane"))}
	auth := &stubAuthorizer{allowed: true}
	m, dispatcher, notifier := newTestMonitor(t, path, parser, auth)

	m.reload(context.Background())

	events := dispatcher.all()
	if len(events) != 1 || events[0].Type != learner.EventNewStudent {
		t.Fatalf("events = %+v; want one new_student", events)
	}
	if len(auth.audits) != 1 {
		t.Errorf("audits = %v; want one entry", auth.audits)
	}
	if titles := notifier.titles(); len(titles) != 1 {
		t.Errorf("notifications = %v; want one summary", titles)
	}
}

func Test_Monitor_reload_unchangedFingerprintSkipsParse(t *testing.T) {
	path := writeSourceFile(t, "v1")
	parser := &stubParser{snap: testutil.NewSnapshot(t, testutil.NewRecord("A1", "Jane"))}
	m, dispatcher, _ := newTestMonitor(t, path, parser, &stubAuthorizer{allowed: true})

	m.reload(context.Background())
	m.reload(context.Background()) // file untouched

	if parser.reads != 1 {
		t.Errorf("parser.reads = %d; want 1 (second pass fingerprint-gated)", parser.reads)
	}
	if events := dispatcher.all(); len(events) != 1 {
		t.Errorf("events = %d; want 1", len(events))
	}
}

func Test_Monitor_reload_deniedIsSilent(t *testing.T) {
	path := writeSourceFile(t, "v1")
	parser := &stubParser{snap: testutil.NewSnapshot(t, testutil.NewRecord("A1", "Jane"))}
	auth := &stubAuthorizer{allowed: false}
	m, dispatcher, notifier := newTestMonitor(t, path, parser, auth)

	m.reload(context.Background())

	if parser.reads != 0 {
		t.Errorf("parser.reads = %d; want 0", parser.reads)
	}
	if len(dispatcher.all()) != 0 || len(notifier.titles()) != 0 || len(auth.audits) != 0 {
		t.Error("denied pass leaked events, notifications or audit entries")
	}
}

func Test_Monitor_reload_lockedFileDefersPass(t *testing.T) {
	path := writeSourceFile(t, "v1")
	if err := ioutil.WriteFile(path+".lock", nil, 0o644); err != nil {
		t.Fatalf("creating lock marker: %v", err)
	}

	parser := &stubParser{snap: testutil.NewSnapshot(t, testutil.NewRecord("A1", "Jane"))}
	m, dispatcher, _ := newTestMonitor(t, path, parser, &stubAuthorizer{allowed: true})

	m.reload(context.Background())

	if parser.reads != 0 {
		t.Errorf("parser.reads = %d; want 0 while locked", parser.reads)
	}
	if len(dispatcher.all()) != 0 {
		t.Error("locked pass emitted events")
	}
}

func Test_Monitor_StartStop(t *testing.T) {
	path := writeSourceFile(t, "v1")
	parser := &stubParser{snap: learner.NewSnapshot()}
	m, _, _ := newTestMonitor(t, path, parser, &stubAuthorizer{allowed: true})

	if err := m.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := m.Start(); err != nil { // second Start is a no-op
		t.Fatalf("Start() again failed: %v", err)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false for a running monitor on a readable file")
	}

	m.Stop()
	m.Stop() // second Stop is a no-op
	if m.Healthy() {
		t.Error("Healthy() = true after Stop()")
	}
}

type blockingDispatcher struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDispatcher) Dispatch(evt learner.Event) {
	d.entered <- struct{}{}
	<-d.release
}

func Test_Monitor_Stop_boundedWait(t *testing.T) {
	path := writeSourceFile(t, "v1")
	conf := testutil.NewConfig()
	conf.Source.File = path
	conf.ShutdownTimeout = 50 * time.Millisecond

	snap := testutil.NewSnapshot(t, testutil.NewRecord("A1", "Jane"))
	parser := &stubParser{snap: snap, stats: learner.ReadStats{Valid: 1}}
	dispatcher := &blockingDispatcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewMonitor(conf, parser, learner.NewDiffer(), inmemdb.NewLearnerRepository(), dispatcher, &stubAuthorizer{allowed: true}, &notifysvcSpy{}, testutil.Logger{})

	if err := m.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	<-dispatcher.entered // first pass is now stuck mid-delivery

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within the shutdown timeout")
	}
	close(dispatcher.release) // let the abandoned pass finish
}

func Test_Monitor_Err(t *testing.T) {
	path := writeSourceFile(t, "v1")
	m, _, _ := newTestMonitor(t, path, &stubParser{snap: learner.NewSnapshot()}, &stubAuthorizer{allowed: true})

	if err := m.Err(); err != nil {
		t.Fatalf("Err() = %v before any failure; want nil", err)
	}

	m.fail(core.NewShutdownError("source file watcher terminated"))
	if !core.IsShutdown(m.Err()) {
		t.Errorf("Err() = %v; want a shutdown error", m.Err())
	}

	// the first failure wins
	m.fail(core.NewShutdownError("later failure"))
	if got := m.Err().Error(); got != "source file watcher terminated" {
		t.Errorf("Err() = %q; want the first recorded failure", got)
	}
}

func Test_IsLocked_markerFile(t *testing.T) {
	path := writeSourceFile(t, "v1")
	if IsLocked(path) {
		t.Error("IsLocked() = true without a lock marker; want false")
	}

	if err := ioutil.WriteFile(path+".lock", nil, 0o644); err != nil {
		t.Fatalf("creating lock marker: %v", err)
	}
	if !IsLocked(path) {
		t.Error("IsLocked() = false with a lock marker; want true")
	}
}
