package echoapi

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
	"github.com/tabiasoft/orodha/core/webhook"
)

const (
	apiKeyHeader         = "X-API-Key"
	idempotencyKeyHeader = "Idempotency-Key"
	retryIDHeader        = "X-Retry-ID"
)

var receivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orodha_webhook_received_total",
	Help: "Inbound webhook requests by event type and outcome.",
}, []string{"event_type", "outcome"})

func init() {
	prometheus.MustRegister(receivedTotal)
}

type webhookApi struct {
	apiKey   string
	secret   string
	listener Listener
	seen     *webhook.KeyCache
	retries  *webhook.RetryCounter
	validate *validator.Validate
	logger   core.Logger
}

func registerWebhookAPI(
	g *echo.Group,
	conf *core.Config,
	logger core.Logger,
	listener Listener,
	validate *validator.Validate,
) {
	if listener == nil {
		listener = func(learner.Event) {}
	}
	api := webhookApi{
		apiKey:   conf.Webhook.APIKey,
		secret:   conf.Webhook.HMACSecret,
		listener: listener,
		seen:     webhook.NewKeyCache(0, 0),
		retries:  webhook.NewRetryCounter(webhook.MaxRetryAttempts),
		validate: validate,
		logger:   logger,
	}

	g.POST("/webhook", api.receive)
	g.POST("/webhook/retry", api.retryReceive)
}

func webhookError(status int, code, msg string) *echo.HTTPError {
	return echo.NewHTTPError(status, echo.Map{"error": msg, "code": code})
}

// receive admits one pushed event. The checks run in a fixed order, each able
// to short-circuit with a structured error: API key, content type, signature
// over the raw body, idempotency, then payload shape. Network input is never
// trusted past the stage that validated it.
func (api *webhookApi) receive(ctx echo.Context) error {
	start := time.Now()
	req := ctx.Request()

	if api.apiKey != "" {
		key := req.Header.Get(apiKeyHeader)
		if key == "" {
			receivedTotal.WithLabelValues("", "unauthorized").Inc()
			return webhookError(http.StatusUnauthorized, "MISSING_API_KEY", "API key is required")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(api.apiKey)) != 1 {
			receivedTotal.WithLabelValues("", "unauthorized").Inc()
			return webhookError(http.StatusUnauthorized, "INVALID_API_KEY", "API key mismatch")
		}
	}

	if !strings.Contains(strings.ToLower(req.Header.Get(echo.HeaderContentType)), echo.MIMEApplicationJSON) {
		receivedTotal.WithLabelValues("", "rejected").Inc()
		return webhookError(http.StatusBadRequest, "INVALID_CONTENT_TYPE", "Content-Type must be application/json")
	}

	body, err := ioutil.ReadAll(req.Body)
	if err != nil {
		return errors.Wrap(err, "reading request body")
	}

	if api.secret != "" {
		sig := req.Header.Get(webhook.SignatureHeader)
		if sig == "" {
			receivedTotal.WithLabelValues("", "unauthorized").Inc()
			return webhookError(http.StatusUnauthorized, "MISSING_SIGNATURE", "signature is required")
		}
		if !webhook.VerifySignature(api.secret, body, sig) {
			receivedTotal.WithLabelValues("", "unauthorized").Inc()
			return webhookError(http.StatusUnauthorized, "INVALID_SIGNATURE", "signature mismatch")
		}
	}

	if api.seen.Seen(req.Header.Get(idempotencyKeyHeader)) {
		receivedTotal.WithLabelValues("", "duplicate").Inc()
		return ctx.JSON(http.StatusOK, echo.Map{"status": "duplicate_ignored"})
	}

	if len(bytes.TrimSpace(body)) == 0 {
		receivedTotal.WithLabelValues("", "rejected").Inc()
		return webhookError(http.StatusBadRequest, "EMPTY_PAYLOAD", "request body is empty")
	}

	var payload webhook.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		receivedTotal.WithLabelValues("", "rejected").Inc()
		return webhookError(http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
	}

	if payload.EventType == "" || payload.AdmissionNo == "" {
		receivedTotal.WithLabelValues(payload.EventType, "rejected").Inc()
		return webhookError(http.StatusBadRequest, "INVALID_PAYLOAD", "event_type and admission_number are required")
	}
	if !learner.KnownEventType(payload.EventType) {
		receivedTotal.WithLabelValues(payload.EventType, "rejected").Inc()
		return webhookError(http.StatusBadRequest, "INVALID_EVENT_TYPE", fmt.Sprintf("unknown event type %q", payload.EventType))
	}
	if err := api.validate.Var(payload.AdmissionNo, "admission_no"); err != nil {
		receivedTotal.WithLabelValues(payload.EventType, "rejected").Inc()
		return webhookError(http.StatusBadRequest, "INVALID_PAYLOAD", "admission_number is malformed")
	}

	evt := learner.Event{
		Type:        payload.EventType,
		AdmissionNo: payload.AdmissionNo,
		Record: learner.Record{
			AdmissionNo: payload.AdmissionNo,
			FullName:    payload.FullName,
			GradeName:   payload.GradeName,
			DateJoined:  payload.DateJoined,
			Gender:      payload.Gender,
			Status:      payload.Status,
		},
	}
	// respond before the listener necessarily finishes
	go api.listener(evt)

	receivedTotal.WithLabelValues(payload.EventType, "ok").Inc()
	return ctx.JSON(http.StatusOK, echo.Map{
		"status":             "ok",
		"processing_time_ms": time.Since(start).Milliseconds(),
	})
}

// retryReceive behaves like receive until the caller's retry budget for the
// given retry id is spent, after which it answers Gone so the caller stops.
func (api *webhookApi) retryReceive(ctx echo.Context) error {
	if api.retries.Exhausted(ctx.Request().Header.Get(retryIDHeader)) {
		receivedTotal.WithLabelValues("", "retry_exhausted").Inc()
		return webhookError(http.StatusGone, "RETRY_EXHAUSTED", "retry attempts exhausted, stop retrying")
	}
	return api.receive(ctx)
}
