// Package outbound translates send requests into protocol payloads against
// the active session handle.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/zapgate/zapgate/internal/media"
	"github.com/zapgate/zapgate/internal/protocol"
)

var (
	// ErrNotConnected reports that no session is active to send through.
	ErrNotConnected = errors.New("no active session")
	// ErrUnsupportedKind rejects media kinds outside the send whitelist.
	ErrUnsupportedKind = errors.New("unsupported media kind")
	// ErrNoSource reports a media request with neither a URL nor a file path.
	ErrNoSource = errors.New("no media source provided")
)

// SessionSource yields the current session handle, nil when disconnected.
type SessionSource interface {
	Session() protocol.Session
}

// MediaRequest describes one outbound media send. Exactly one of URL or Path
// supplies the payload.
type MediaRequest struct {
	Kind     protocol.MediaKind
	URL      string
	Path     string
	Mime     string
	Caption  string
	FileName string
}

// Sender validates and forwards outbound sends. Media payloads are fetched,
// persisted to the local store, then handed to the session.
type Sender struct {
	sessions SessionSource
	store    *media.Store
	client   *http.Client
	suffix   string
	logger   *slog.Logger
}

// NewSender creates a Sender. suffix is the default user-address suffix
// appended to destinations lacking one.
func NewSender(log *slog.Logger, sessions SessionSource, store *media.Store, suffix string) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if suffix == "" {
		suffix = "@s.whatsapp.net"
	}
	return &Sender{
		sessions: sessions,
		store:    store,
		client:   &http.Client{Timeout: 30 * time.Second},
		suffix:   suffix,
		logger:   log.With(slog.String("component", "outbound")),
	}
}

// NormalizeDestination appends the default address suffix to identifiers that
// carry no domain part.
func (s *Sender) NormalizeDestination(to string) string {
	to = strings.TrimSpace(to)
	if to == "" || strings.Contains(to, "@") {
		return to
	}
	return to + s.suffix
}

// SendText sends a plain text message and returns the protocol message id.
func (s *Sender) SendText(ctx context.Context, to, text string) (string, error) {
	sess := s.sessions.Session()
	if sess == nil {
		return "", ErrNotConnected
	}
	dest := s.NormalizeDestination(to)
	id, err := sess.SendText(ctx, dest, text)
	if err != nil {
		return "", fmt.Errorf("send text to %s: %w", dest, err)
	}
	s.logger.Info("text sent", slog.String("to", dest), slog.String("id", id))
	return id, nil
}

// SendMedia resolves the payload, persists a copy, and sends it. Validation
// failures surface before any network send is attempted.
func (s *Sender) SendMedia(ctx context.Context, to string, req MediaRequest) (string, error) {
	switch req.Kind {
	case protocol.MediaImage, protocol.MediaAudio, protocol.MediaVideo, protocol.MediaDocument:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, req.Kind)
	}
	sess := s.sessions.Session()
	if sess == nil {
		return "", ErrNotConnected
	}

	data, mime, err := s.loadSource(ctx, req)
	if err != nil {
		return "", err
	}
	ref, err := s.store.Persist(data, mime)
	if err != nil {
		return "", fmt.Errorf("persist outbound media: %w", err)
	}
	s.logger.Debug("outbound media persisted", slog.String("file", ref.Filename))

	dest := s.NormalizeDestination(to)
	id, err := sess.SendMedia(ctx, dest, protocol.OutgoingMedia{
		Kind:     req.Kind,
		Data:     data,
		Mime:     mime,
		Caption:  req.Caption,
		FileName: req.FileName,
	})
	if err != nil {
		return "", fmt.Errorf("send %s to %s: %w", req.Kind, dest, err)
	}
	s.logger.Info("media sent",
		slog.String("kind", string(req.Kind)),
		slog.String("to", dest),
		slog.String("id", id),
	)
	return id, nil
}

func (s *Sender) loadSource(ctx context.Context, req MediaRequest) ([]byte, string, error) {
	switch {
	case req.URL != "":
		return s.fetch(ctx, req.URL, req.Mime)
	case req.Path != "":
		if _, err := os.Stat(req.Path); err != nil {
			return nil, "", fmt.Errorf("media source %s: %w", req.Path, err)
		}
		data, err := os.ReadFile(req.Path)
		if err != nil {
			return nil, "", fmt.Errorf("read media source: %w", err)
		}
		if int64(len(data)) > s.store.MaxBytes() {
			return nil, "", fmt.Errorf("media source %s: %w", req.Path, media.ErrTooLarge)
		}
		return data, req.Mime, nil
	default:
		return nil, "", ErrNoSource
	}
}

func (s *Sender) fetch(ctx context.Context, url, declaredMime string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media fetch request: %w", err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media from %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch media from %s: status %d", url, resp.StatusCode)
	}

	limit := s.store.MaxBytes()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("fetch media from %s: %w", url, media.ErrTooLarge)
	}

	mime := declaredMime
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	return data, mime, nil
}
