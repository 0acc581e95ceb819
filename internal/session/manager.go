// Package session owns the single active chat-network session: the
// connect/reconnect/pairing state machine, the per-identity retry counters,
// and the pump that feeds protocol events into normalization and webhooks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zapgate/zapgate/internal/protocol"
	"github.com/zapgate/zapgate/internal/webhook"
)

// State is the gateway's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
)

// Retry counters are keyed by session identity; before the identity is known
// the attempts accrue under this sentinel key.
const unknownIdentity = "unknown"

var (
	// ErrAlreadyConnected rejects a pairing request while the session is open.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrPairingInProgress rejects a pairing request while another is outstanding.
	ErrPairingInProgress = errors.New("pairing request already in progress")
	// ErrNotInitialized reports that the session did not come up in time to
	// serve a pairing request.
	ErrNotInitialized = errors.New("session failed to initialize")
)

// EventSink receives lifecycle events for webhook delivery.
type EventSink interface {
	Dispatch(event string, payload any)
}

// Inbound consumes raw message and receipt events pumped off the session.
type Inbound interface {
	HandleMessage(ctx context.Context, dl protocol.Downloader, raw protocol.RawMessage)
	HandleReceipt(ctx context.Context, receipt protocol.ReceiptEvent)
}

// Config tunes the lifecycle manager.
type Config struct {
	// PhoneNumber is the account number used for automatic pairing requests.
	PhoneNumber string
	// Backoff bounds the reconnect retry policy.
	Backoff Backoff
	// SettleDelay is how long to let an unregistered socket stabilize before
	// the automatic pairing-code request fires.
	SettleDelay time.Duration
	// InitWait bounds how long the HTTP pairing path waits for a freshly
	// triggered connection to produce a session.
	InitWait time.Duration
}

// Status is a point-in-time snapshot of the connection.
type Status struct {
	State      State  `json:"state"`
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Registered bool   `json:"registered"`
}

// Manager supervises the process-wide session handle. The handle is
// replace-only: a reconnect produces a new session and atomically swaps the
// reference; nothing mutates a session in place. A single in-progress flag
// serializes connection attempts.
type Manager struct {
	dialer  protocol.Dialer
	auth    protocol.AuthStore
	sink    EventSink
	inbound Inbound
	cfg     Config
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	sess       protocol.Session
	connecting bool
	pairing    bool
	retries    map[string]int
	identity   protocol.Identity
	retryTimer *time.Timer
	pairTimer  *time.Timer
}

// NewManager creates a Manager. The inbound consumer may be nil, in which
// case message events are dropped (used by tests exercising lifecycle only).
func NewManager(log *slog.Logger, dialer protocol.Dialer, auth protocol.AuthStore, sink EventSink, inbound Inbound, cfg Config) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = DefaultBackoff().Base
	}
	if cfg.Backoff.MaxRetries <= 0 {
		cfg.Backoff.MaxRetries = DefaultBackoff().MaxRetries
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 40 * time.Second
	}
	if cfg.InitWait <= 0 {
		cfg.InitWait = 5 * time.Second
	}
	return &Manager{
		dialer:  dialer,
		auth:    auth,
		sink:    sink,
		inbound: inbound,
		cfg:     cfg,
		state:   StateDisconnected,
		retries: map[string]int{},
		logger:  log.With(slog.String("component", "session")),
	}
}

// Connect triggers connection establishment. It is idempotent: while an
// attempt is in flight or a session exists it does nothing, so a scheduled
// retry firing during a manual connect is a no-op.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.connecting || m.sess != nil {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	m.state = StateConnecting
	m.mu.Unlock()

	// Establishment outlives the triggering request.
	go m.establish(context.WithoutCancel(ctx))
}

// Disconnect terminates the active session and clears the handle. Pending
// retry and pairing timers are cancelled; this is the explicit management
// action, so no reconnect is scheduled.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.connecting = false
	m.pairing = false
	m.stopTimersLocked()
	if sess == nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosing
	m.mu.Unlock()

	m.logger.Info("session disconnect requested")
	err := sess.Close(ctx)

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.sink.Dispatch(webhook.EventConnectionClose, map[string]any{
		"reason": "closed-by-request",
	})
	return err
}

// Session returns the current session handle, or nil when none is active.
func (m *Manager) Session() protocol.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Status returns a snapshot of the connection state and identity.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State: m.state,
		ID:    m.identity.ID,
		Name:  m.identity.DisplayName,
	}
	if m.sess != nil {
		st.Registered = m.sess.Registered()
	}
	return st
}

// RequestPairingCode serves the HTTP pairing path: it bypasses the automatic
// settle timer, connecting first if no session exists and waiting briefly for
// the socket to initialize. It rejects when already connected or when another
// pairing request is outstanding.
func (m *Manager) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	m.mu.Lock()
	if m.state == StateOpen {
		m.mu.Unlock()
		return "", ErrAlreadyConnected
	}
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		m.Connect(ctx)
		sess = m.awaitSession(m.cfg.InitWait)
		if sess == nil {
			return "", ErrNotInitialized
		}
	}

	m.mu.Lock()
	if m.pairing {
		m.mu.Unlock()
		return "", ErrPairingInProgress
	}
	m.pairing = true
	if m.pairTimer != nil {
		m.pairTimer.Stop()
		m.pairTimer = nil
	}
	m.mu.Unlock()

	code, err := sess.RequestPairingCode(ctx, phoneNumber)
	if err != nil {
		m.mu.Lock()
		m.pairing = false
		m.mu.Unlock()
		return "", fmt.Errorf("request pairing code: %w", err)
	}
	formatted := FormatPairingCode(code)
	m.sink.Dispatch(webhook.EventPairingCodeGenerated, map[string]any{
		"code":  formatted,
		"phone": phoneNumber,
	})
	return formatted, nil
}

func (m *Manager) establish(ctx context.Context) {
	authState, err := m.auth.Load(ctx)
	if err != nil {
		m.connectFailed(err)
		return
	}
	sess, err := m.dialer.Dial(ctx, authState)
	if err != nil {
		m.connectFailed(err)
		return
	}

	m.mu.Lock()
	m.sess = sess
	m.connecting = false
	m.mu.Unlock()

	go m.pump(ctx, sess)
	m.schedulePairing(ctx, sess)
}

// connectFailed counts the failed attempt and schedules backoff; dial errors
// never propagate past here.
func (m *Manager) connectFailed(err error) {
	m.logger.Error("connection attempt failed", slog.Any("error", err))
	m.mu.Lock()
	m.connecting = false
	m.state = StateDisconnected
	m.scheduleRetryLocked()
	m.mu.Unlock()
}

// pump drains the session's event stream in emission order. Message and
// receipt handling fan out per event; lifecycle transitions stay on the pump
// goroutine so they observe events in order.
func (m *Manager) pump(ctx context.Context, sess protocol.Session) {
	for ev := range sess.Events() {
		switch ev := ev.(type) {
		case protocol.ConnectionEvent:
			m.handleConnection(ctx, sess, ev)
		case protocol.CredsEvent:
			if err := m.auth.Save(ctx, ev.Creds); err != nil {
				m.logger.Error("persist credentials failed", slog.Any("error", err))
			}
		case protocol.MessageEvent:
			if m.inbound != nil {
				go m.inbound.HandleMessage(ctx, sess, ev.Raw)
			}
		case protocol.ReceiptEvent:
			if m.inbound != nil {
				go m.inbound.HandleReceipt(ctx, ev)
			}
		}
	}
}

func (m *Manager) handleConnection(ctx context.Context, sess protocol.Session, ev protocol.ConnectionEvent) {
	if ev.QR != "" {
		m.sink.Dispatch(webhook.EventQRGenerated, map[string]any{"qr": ev.QR})
	}
	switch ev.State {
	case protocol.ConnOpen:
		m.handleOpen(sess)
	case protocol.ConnClose:
		m.handleClose(ctx, sess, ev.Reason)
	}
}

func (m *Manager) handleOpen(sess protocol.Session) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.state = StateOpen
	m.identity = sess.Identity()
	delete(m.retries, m.retryKeyLocked())
	// Attempts accrued before the identity was known count for this identity.
	delete(m.retries, unknownIdentity)
	m.pairing = false
	id := m.identity
	m.mu.Unlock()

	m.logger.Info("connection open",
		slog.String("id", id.ID),
		slog.String("name", id.DisplayName),
	)
	m.sink.Dispatch(webhook.EventConnectionOpen, map[string]any{
		"id":    id.ID,
		"name":  id.DisplayName,
		"phone": m.cfg.PhoneNumber,
	})
}

func (m *Manager) handleClose(ctx context.Context, sess protocol.Session, reason protocol.DisconnectReason) {
	m.mu.Lock()
	if m.sess != sess {
		// Close from a handle that was already replaced or discarded.
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.state = StateDisconnected
	// Pairing state belongs to the closed session; a reconnect arms its own
	// timer.
	m.pairing = false
	if m.pairTimer != nil {
		m.pairTimer.Stop()
		m.pairTimer = nil
	}
	if reason.Retryable() {
		m.scheduleRetryLocked()
	}
	m.mu.Unlock()

	m.logger.Warn("connection closed", slog.String("reason", reason.String()))
	if reason.Terminal() {
		if err := m.auth.Clear(ctx); err != nil {
			m.logger.Error("clear auth state failed", slog.Any("error", err))
		}
	}
	m.sink.Dispatch(webhook.EventConnectionClose, map[string]any{
		"reason": reason.String(),
	})
}

// scheduleRetryLocked increments the identity's attempt counter and arms the
// backoff timer, or emits connection_failed once the budget is spent.
// Callers hold m.mu.
func (m *Manager) scheduleRetryLocked() {
	key := m.retryKeyLocked()
	attempt := m.retries[key]
	if m.cfg.Backoff.Exhausted(attempt) {
		m.logger.Error("reconnect attempts exhausted",
			slog.String("identity", key),
			slog.Int("attempts", attempt),
		)
		m.sink.Dispatch(webhook.EventConnectionFailed, map[string]any{
			"identity": key,
			"attempts": attempt,
		})
		return
	}
	m.retries[key] = attempt + 1
	delay := m.cfg.Backoff.Delay(attempt)
	m.logger.Info("reconnect scheduled",
		slog.String("identity", key),
		slog.Int("attempt", attempt+1),
		slog.Duration("delay", delay),
	)
	m.retryTimer = time.AfterFunc(delay, func() {
		m.Connect(context.Background())
	})
}

func (m *Manager) retryKeyLocked() string {
	if m.identity.ID != "" {
		return m.identity.ID
	}
	return unknownIdentity
}

// schedulePairing arms the automatic pairing-code request for an
// unregistered session after the settle delay. The pairing flag is set only
// when a request is actually issued; the armed timer dedups re-arming.
func (m *Manager) schedulePairing(ctx context.Context, sess protocol.Session) {
	if sess.Registered() || strings.TrimSpace(m.cfg.PhoneNumber) == "" {
		return
	}
	m.mu.Lock()
	if m.pairing || m.pairTimer != nil {
		m.mu.Unlock()
		return
	}
	m.pairTimer = time.AfterFunc(m.cfg.SettleDelay, func() {
		m.autoPair(ctx, sess)
	})
	m.mu.Unlock()
}

func (m *Manager) autoPair(ctx context.Context, sess protocol.Session) {
	m.mu.Lock()
	m.pairTimer = nil
	if m.sess != sess || sess.Registered() || m.pairing {
		m.mu.Unlock()
		return
	}
	m.pairing = true
	m.mu.Unlock()

	code, err := sess.RequestPairingCode(ctx, m.cfg.PhoneNumber)
	if err != nil {
		// Reset so a later attempt can retry.
		m.logger.Error("pairing code request failed", slog.Any("error", err))
		m.mu.Lock()
		m.pairing = false
		m.mu.Unlock()
		return
	}
	formatted := FormatPairingCode(code)
	m.logger.Info("pairing code generated", slog.String("code", formatted))
	m.sink.Dispatch(webhook.EventPairingCodeGenerated, map[string]any{
		"code":  formatted,
		"phone": m.cfg.PhoneNumber,
	})
}

func (m *Manager) awaitSession(timeout time.Duration) protocol.Session {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		sess := m.sess
		connecting := m.connecting
		m.mu.Unlock()
		if sess != nil {
			return sess
		}
		if !connecting {
			// The attempt already failed; no point waiting out the deadline.
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func (m *Manager) stopTimersLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.pairTimer != nil {
		m.pairTimer.Stop()
		m.pairTimer = nil
	}
}

// FormatPairingCode groups an alphanumeric pairing code into 4-character
// blocks, e.g. "ABCD1234" -> "ABCD-1234".
func FormatPairingCode(code string) string {
	code = strings.TrimSpace(code)
	if len(code) <= 4 {
		return code
	}
	var b strings.Builder
	for i := 0; i < len(code); i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 4
		if end > len(code) {
			end = len(code)
		}
		b.WriteString(code[i:end])
	}
	return b.String()
}
