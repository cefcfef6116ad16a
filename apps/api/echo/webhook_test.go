package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
	"github.com/tabiasoft/orodha/core/webhook"
	testutil "github.com/tabiasoft/orodha/tests"
)

type eventSink struct {
	events chan learner.Event
}

func newEventSink() *eventSink {
	return &eventSink{events: make(chan learner.Event, 8)}
}

func (s *eventSink) listen(evt learner.Event) {
	s.events <- evt
}

func (s *eventSink) wait(t *testing.T) learner.Event {
	t.Helper()
	select {
	case evt := <-s.events:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event reached the listener")
		return learner.Event{}
	}
}

func setup(t *testing.T, mutate func(conf *core.Config)) (Server, *eventSink) {
	t.Helper()
	conf := testutil.NewConfig()
	conf.Webhook.APIKey = "k3y"
	conf.Webhook.HMACSecret = "s3cret"
	if mutate != nil {
		mutate(conf)
	}

	sink := newEventSink()
	app := NewServer(&Options{
		Conf:           conf,
		Logger:         testutil.Logger{},
		Listener:       sink.listen,
		DisableReqLogs: true,
	})
	return app, sink
}

func validPayload(t *testing.T) []byte {
	return testutil.MarchallObj(t, webhook.NewPayload(learner.Event{
		Type:        learner.EventNewStudent,
		AdmissionNo: "A1",
		Record:      testutil.NewRecord("A1", "Jane Doe"),
	}, "Orodha"))
}

type httpTest struct {
	name        string
	path        string
	body        []byte
	contentType string
	apiKey      string
	signFor     []byte // body to sign; nil signs the request body
	noSign      bool
	headers     map[string]string
	wantCode    int
	wantErrCode string
	wantStatus  string
}

func (tt httpTest) run(t *testing.T, app Server) *httptest.ResponseRecorder {
	t.Helper()

	path := tt.path
	if path == "" {
		path = "/webhook"
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(tt.body))

	contentType := tt.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	if tt.apiKey != "" {
		req.Header.Set("X-API-Key", tt.apiKey)
	}
	if !tt.noSign {
		toSign := tt.signFor
		if toSign == nil {
			toSign = tt.body
		}
		req.Header.Set(webhook.SignatureHeader, webhook.Sign("s3cret", toSign))
	}
	for k, v := range tt.headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != tt.wantCode {
		t.Errorf("code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v; body %s", err, rec.Body.String())
	}
	if tt.wantErrCode != "" {
		if got, _ := body["code"].(string); got != tt.wantErrCode {
			t.Errorf("code field = %q; want %q; body %s", got, tt.wantErrCode, rec.Body.String())
		}
	}
	if tt.wantStatus != "" {
		if got, _ := body["status"].(string); got != tt.wantStatus {
			t.Errorf("status field = %q; want %q; body %s", got, tt.wantStatus, rec.Body.String())
		}
	}
	return rec
}

func Test_webhookApi_receive(t *testing.T) {
	app, sink := setup(t, nil)
	payload := validPayload(t)

	tests := []httpTest{
		{name: "valid event", body: payload, apiKey: "k3y", wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "missing api key", body: payload, wantCode: http.StatusUnauthorized, wantErrCode: "MISSING_API_KEY"},
		{name: "wrong api key", body: payload, apiKey: "nope", wantCode: http.StatusUnauthorized, wantErrCode: "INVALID_API_KEY"},
		{name: "wrong content type", body: payload, apiKey: "k3y", contentType: "text/plain", wantCode: http.StatusBadRequest, wantErrCode: "INVALID_CONTENT_TYPE"},
		{name: "missing signature", body: payload, apiKey: "k3y", noSign: true, wantCode: http.StatusUnauthorized, wantErrCode: "MISSING_SIGNATURE"},
		{name: "tampered signature", body: payload, apiKey: "k3y", signFor: []byte("other body"), wantCode: http.StatusUnauthorized, wantErrCode: "INVALID_SIGNATURE"},
		{name: "empty payload", body: nil, apiKey: "k3y", wantCode: http.StatusBadRequest, wantErrCode: "EMPTY_PAYLOAD"},
		{name: "invalid json", body: []byte("{oops"), apiKey: "k3y", wantCode: http.StatusBadRequest, wantErrCode: "INVALID_JSON"},
		{name: "missing admission number", body: []byte(`{"event_type":"new_student"}`), apiKey: "k3y", wantCode: http.StatusBadRequest, wantErrCode: "INVALID_PAYLOAD"},
		{name: "unknown event type", body: []byte(`{"event_type":"student_expelled","admission_number":"A1"}`), apiKey: "k3y", wantCode: http.StatusBadRequest, wantErrCode: "INVALID_EVENT_TYPE"},
		{name: "malformed admission number", body: []byte(`{"event_type":"new_student","admission_number":"A 1!"}`), apiKey: "k3y", wantCode: http.StatusBadRequest, wantErrCode: "INVALID_PAYLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, app)
			if tt.wantStatus == "ok" {
				evt := sink.wait(t)
				if evt.Type != learner.EventNewStudent || evt.AdmissionNo != "A1" {
					t.Errorf("listener event = %+v; want new_student(A1)", evt)
				}
			}
		})
	}
}

func Test_webhookApi_receive_openAccess(t *testing.T) {
	// no key and no secret configured: anonymous JSON is admitted
	app, sink := setup(t, func(conf *core.Config) {
		conf.Webhook.APIKey = ""
		conf.Webhook.HMACSecret = ""
	})

	tt := httpTest{name: "anonymous", body: validPayload(t), noSign: true, wantCode: http.StatusOK, wantStatus: "ok"}
	tt.run(t, app)
	sink.wait(t)
}

func Test_webhookApi_receive_idempotency(t *testing.T) {
	app, sink := setup(t, nil)
	payload := validPayload(t)
	headers := map[string]string{"Idempotency-Key": "evt-1"}

	first := httpTest{body: payload, apiKey: "k3y", headers: headers, wantCode: http.StatusOK, wantStatus: "ok"}
	first.run(t, app)
	sink.wait(t)

	second := httpTest{body: payload, apiKey: "k3y", headers: headers, wantCode: http.StatusOK, wantStatus: "duplicate_ignored"}
	second.run(t, app)

	select {
	case evt := <-sink.events:
		t.Errorf("duplicate was reprocessed: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func Test_webhookApi_retryReceive_exhaustion(t *testing.T) {
	app, _ := setup(t, nil)
	payload := validPayload(t)
	headers := map[string]string{"X-Retry-ID": "job-42"}

	for attempt := 1; attempt <= webhook.MaxRetryAttempts; attempt++ {
		tt := httpTest{path: "/webhook/retry", body: payload, apiKey: "k3y", headers: headers, wantCode: http.StatusOK, wantStatus: "ok"}
		tt.run(t, app)
	}

	gone := httpTest{path: "/webhook/retry", body: payload, apiKey: "k3y", headers: headers, wantCode: http.StatusGone, wantErrCode: "RETRY_EXHAUSTED"}
	gone.run(t, app)
}

func Test_server_health(t *testing.T) {
	app, _ := setup(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %v; want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "Orodha", body["service"])
	assert.Equal(t, true, body["authentication"])
	assert.Equal(t, true, body["hmac_validation"])
}

func Test_server_metrics(t *testing.T) {
	app, _ := setup(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %v; want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("orodha_webhook_received_total")) {
		t.Error("metrics output does not include the receiver counter")
	}
	for _, endpoint := range []string{"# endpoint: GET /health", "# endpoint: GET /metrics", "# endpoint: POST /webhook"} {
		if !bytes.Contains(rec.Body.Bytes(), []byte(endpoint)) {
			t.Errorf("metrics output does not list %q", endpoint)
		}
	}
}

func Test_server_health_shutdownError(t *testing.T) {
	conf := testutil.NewConfig()
	shutdownCalled := make(chan struct{}, 1)
	app := NewServer(&Options{
		Conf:           conf,
		Logger:         testutil.Logger{},
		DisableReqLogs: true,
		HealthCheck:    func() error { return core.NewShutdownError("source file watcher terminated") },
		Shutdown:       func() { shutdownCalled <- struct{}{} },
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %v; want 500", rec.Code)
	}
	select {
	case <-shutdownCalled:
	default:
		t.Error("an unrecoverable health check did not trigger shutdown")
	}
}
