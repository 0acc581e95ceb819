// Package webhook delivers gateway events to the automation backend.
// Delivery is at-most-once and fire-and-forget: failures are logged and
// swallowed, never propagated, and nothing is queued or retried.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event names produced by the gateway.
const (
	EventQRGenerated          = "qr_generated"
	EventConnectionOpen       = "connection_open"
	EventConnectionClose      = "connection_close"
	EventConnectionFailed     = "connection_failed"
	EventMessageReceived      = "message_received"
	EventMessageStatus        = "message_status"
	EventMessageError         = "message_error"
	EventPairingCodeGenerated = "pairing_code_generated"
)

// Envelope is the wire shape of one webhook delivery.
type Envelope struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Dispatcher posts event envelopes to the configured endpoint. The endpoint
// can be swapped at runtime; in-flight deliveries keep the endpoint they
// started with.
type Dispatcher struct {
	client *http.Client
	source string
	logger *slog.Logger

	mu       sync.RWMutex
	endpoint string

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher targeting endpoint with the given
// per-delivery timeout.
func NewDispatcher(log *slog.Logger, endpoint, source string, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		client:   &http.Client{Timeout: timeout},
		source:   source,
		endpoint: endpoint,
		logger:   log.With(slog.String("component", "webhook")),
	}
}

// Endpoint returns the current delivery target.
func (d *Dispatcher) Endpoint() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endpoint
}

// SetEndpoint replaces the delivery target at runtime.
func (d *Dispatcher) SetEndpoint(url string) {
	d.mu.Lock()
	d.endpoint = url
	d.mu.Unlock()
	d.logger.Info("webhook endpoint updated", slog.String("url", url))
}

// Dispatch delivers one event asynchronously. It returns immediately; the
// caller is never blocked by or informed of delivery failures.
func (d *Dispatcher) Dispatch(event string, payload any) {
	endpoint := d.Endpoint()
	if endpoint == "" {
		return
	}
	envelope := Envelope{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UTC(),
		Source:    d.source,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.deliver(endpoint, envelope); err != nil {
			d.logger.Warn("webhook delivery failed",
				slog.String("event", event),
				slog.String("url", endpoint),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until all in-flight deliveries finish. Used by tests and
// shutdown; normal operation never waits.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(endpoint string, envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	resp, err := d.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
