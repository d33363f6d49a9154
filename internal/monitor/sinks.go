package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	cebinding "github.com/cloudevents/sdk-go/v2/binding"
	ceevent "github.com/cloudevents/sdk-go/v2/event"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
)

// AlertKind names the threshold an alert crossed.
type AlertKind string

const (
	AlertLatency   AlertKind = "latency"
	AlertErrorRate AlertKind = "error_rate"
)

// AlertEventType is the CloudEvents type of published alerts.
const AlertEventType = "dev.triad.store.alert"

// Alert is raised when a store crosses a threshold.
type Alert struct {
	Store     string    `json:"store"`
	Kind      AlertKind `json:"kind"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Sink delivers alerts.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// LogSink writes alerts to a logger at Warn.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Send(_ context.Context, a Alert) error {
	s.Log.Warn("store alert", "store", a.Store, "kind", a.Kind, "value", a.Value,
		"threshold", a.Threshold, "message", a.Message)
	return nil
}

// CloudEventSink POSTs alerts as structured-mode CloudEvents.
type CloudEventSink struct {
	url    string
	source string
	client *http.Client
}

// NewCloudEventSink returns a sink posting to url. source identifies this
// instance in the event envelope.
func NewCloudEventSink(url, source string, client *http.Client) (*CloudEventSink, error) {
	if url == "" {
		return nil, fmt.Errorf("monitor: alert webhook url is required")
	}
	if source == "" {
		source = "triad"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CloudEventSink{url: url, source: source, client: client}, nil
}

func (s *CloudEventSink) Send(ctx context.Context, a Alert) error {
	e := ceevent.New()
	e.SetID(uuid.NewString())
	e.SetSource(s.source)
	e.SetType(AlertEventType)
	e.SetSubject(a.Store)
	e.SetTime(a.At)
	if err := e.SetData(ceevent.ApplicationJSON, a); err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid alert event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, nil)
	if err != nil {
		return fmt.Errorf("alert request: %w", err)
	}
	ctx = cebinding.WithForceStructured(ctx)
	if err := cehttp.WriteRequest(ctx, cebinding.ToMessage(&e), req); err != nil {
		return fmt.Errorf("write alert event: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post alert: %s", resp.Status)
	}
	return nil
}
