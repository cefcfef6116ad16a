package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
)

const (
	apiKeyHeader         = "X-API-Key"
	eventSourceHeader    = "X-Event-Source"
	idempotencyKeyHeader = "Idempotency-Key"
)

var dispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orodha_webhook_dispatched_total",
	Help: "Outbound webhook deliveries by event type and outcome.",
}, []string{"event_type", "outcome"})

func init() {
	prometheus.MustRegister(dispatchedTotal)
}

// Dispatcher reliably hands each inferred change event to the configured
// webhook consumer. Delivery is fire-and-forget: a slow or erroring consumer
// must never stall the detection pipeline, so every failure is logged and
// swallowed.
type Dispatcher struct {
	target    *url.URL
	apiKey    string
	secret    string
	source    string
	userAgent string
	client    *http.Client
	logger    core.Logger
	loopback  bool
}

// NewDispatcher validates the destination at construction; a malformed webhook
// URL is a fatal configuration error, not something to discover mid-pass.
func NewDispatcher(conf *core.Config, logger core.Logger) (*Dispatcher, error) {
	raw := core.CleanString(conf.Webhook.URL)
	if raw == "" {
		return nil, errors.New("webhook URL is required")
	}
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.Errorf("invalid webhook URL %q", raw)
	}
	return &Dispatcher{
		target:    target,
		apiKey:    conf.Webhook.APIKey,
		secret:    conf.Webhook.HMACSecret,
		source:    conf.AppName,
		userAgent: fmt.Sprintf("%s-sync/1.0", core.CleanString(conf.AppName, true)),
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
		loopback:  isLoopbackHost(target.Hostname()) && !conf.TestMode,
	}, nil
}

// Dispatch signs and POSTs one event. Skipped entirely for loopback
// destinations: when producer and consumer share a process the local listener
// is already notified directly and self-delivery would only loop.
func (d *Dispatcher) Dispatch(evt learner.Event) {
	if d.loopback {
		dispatchedTotal.WithLabelValues(evt.Type, "skipped_local").Inc()
		d.logger.Debug(fmt.Sprintf("webhook %s for %s skipped: local consumer", evt.Type, evt.AdmissionNo))
		return
	}

	body, err := json.Marshal(NewPayload(evt, d.source))
	if err != nil {
		dispatchedTotal.WithLabelValues(evt.Type, "error").Inc()
		d.logger.Error("marshaling webhook payload", errors.Wrap(err, "marshaling webhook payload"))
		return
	}

	req, err := http.NewRequest(http.MethodPost, d.target.String(), bytes.NewReader(body))
	if err != nil {
		dispatchedTotal.WithLabelValues(evt.Type, "error").Inc()
		d.logger.Error("building webhook request", errors.Wrap(err, "building webhook request"))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(apiKeyHeader, d.apiKey)
	req.Header.Set(eventSourceHeader, EventSource)
	req.Header.Set(idempotencyKeyHeader, uuid.New().String())
	if d.secret != "" {
		// signing is controlled purely by the presence of a secret
		req.Header.Set(SignatureHeader, Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		dispatchedTotal.WithLabelValues(evt.Type, "network_error").Inc()
		d.logger.Warn(fmt.Sprintf("webhook %s for %s failed: %v", evt.Type, evt.AdmissionNo, err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		dispatchedTotal.WithLabelValues(evt.Type, "ok").Inc()
		d.logger.Debug(fmt.Sprintf("webhook %s for %s delivered: %d", evt.Type, evt.AdmissionNo, resp.StatusCode))
		return
	}
	dispatchedTotal.WithLabelValues(evt.Type, "rejected").Inc()
	d.logger.Warn(fmt.Sprintf("webhook %s for %s rejected: %d", evt.Type, evt.AdmissionNo, resp.StatusCode))
}

// Local reports whether the destination is a loopback address.
func (d *Dispatcher) Local() bool {
	return d.loopback
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
