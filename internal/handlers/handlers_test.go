package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/zapgate/zapgate/internal/media"
	"github.com/zapgate/zapgate/internal/outbound"
	"github.com/zapgate/zapgate/internal/protocol"
	"github.com/zapgate/zapgate/internal/session"
	"github.com/zapgate/zapgate/internal/webhook"
)

type fakeSession struct {
	protocol.Session

	pairCalls int
	sendCalls int
	lastTo    string
}

func (s *fakeSession) Identity() protocol.Identity {
	return protocol.Identity{ID: "123@s.whatsapp.net"}
}

func (s *fakeSession) Registered() bool { return false }

func (s *fakeSession) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	s.pairCalls++
	return "ABCD1234", nil
}

func (s *fakeSession) SendText(ctx context.Context, to, text string) (string, error) {
	s.sendCalls++
	s.lastTo = to
	return "msg-7", nil
}

func (s *fakeSession) SendMedia(ctx context.Context, to string, m protocol.OutgoingMedia) (string, error) {
	s.sendCalls++
	s.lastTo = to
	return "msg-8", nil
}

func (s *fakeSession) Events() <-chan protocol.Event   { return make(chan protocol.Event) }
func (s *fakeSession) Close(ctx context.Context) error { return nil }

type fakeDialer struct {
	sess *fakeSession
}

func (d *fakeDialer) Dial(ctx context.Context, auth protocol.AuthState) (protocol.Session, error) {
	return d.sess, nil
}

type memAuthStore struct{}

func (memAuthStore) Load(ctx context.Context) (protocol.AuthState, error) {
	return protocol.AuthState{}, nil
}
func (memAuthStore) Save(ctx context.Context, creds []byte) error { return nil }
func (memAuthStore) Clear(ctx context.Context) error              { return nil }

type nopSink struct{}

func (nopSink) Dispatch(event string, payload any) {}

type fixedSource struct {
	sess protocol.Session
}

func (f fixedSource) Session() protocol.Session { return f.sess }

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewRequestValidator()
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newManager(sess *fakeSession) *session.Manager {
	return session.NewManager(nil, &fakeDialer{sess: sess}, memAuthStore{}, nopSink{}, nil, session.Config{
		Backoff:     session.Backoff{Base: time.Millisecond, MaxRetries: 1},
		SettleDelay: time.Hour,
		InitWait:    time.Second,
	})
}

func TestHealth(t *testing.T) {
	e := newEcho()
	NewHealthHandler(nil).Register(e)

	rec := doJSON(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusDisconnected(t *testing.T) {
	e := newEcho()
	NewGatewayHandler(nil, newManager(&fakeSession{})).Register(e)

	rec := doJSON(e, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["state"] != "disconnected" {
		t.Fatalf("state = %v", body["state"])
	}
}

func TestPairingCodeRejectsShortPhone(t *testing.T) {
	sess := &fakeSession{}
	e := newEcho()
	NewGatewayHandler(nil, newManager(sess)).Register(e)

	rec := doJSON(e, http.MethodPost, "/pairing-code", `{"phoneNumber":"notaphone"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if sess.pairCalls != 0 {
		t.Fatal("pairing request issued despite invalid phone")
	}
}

func TestPairingCodeSuccess(t *testing.T) {
	sess := &fakeSession{}
	e := newEcho()
	NewGatewayHandler(nil, newManager(sess)).Register(e)

	rec := doJSON(e, http.MethodPost, "/pairing-code", `{"phoneNumber":"+55 11 99999-9999"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["code"] != "ABCD-1234" {
		t.Fatalf("code = %q", body["code"])
	}
	if sess.pairCalls != 1 {
		t.Fatalf("pair calls = %d", sess.pairCalls)
	}
}

func newSendHandler(t *testing.T, sess protocol.Session) (*echo.Echo, *media.Store) {
	t.Helper()
	store, err := media.NewStore(nil, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sender := outbound.NewSender(nil, fixedSource{sess: sess}, store, "@s.whatsapp.net")
	e := newEcho()
	NewSendHandler(nil, sender).Register(e)
	return e, store
}

func TestSendMessageNoSession(t *testing.T) {
	e, _ := newSendHandler(t, nil)

	rec := doJSON(e, http.MethodPost, "/send-message", `{"to":"5511999999999","message":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestSendMessageSuccess(t *testing.T) {
	sess := &fakeSession{}
	e, _ := newSendHandler(t, sess)

	rec := doJSON(e, http.MethodPost, "/send-message", `{"to":"5511999999999","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["messageId"] != "msg-7" {
		t.Fatalf("messageId = %q", body["messageId"])
	}
	if sess.lastTo != "5511999999999@s.whatsapp.net" {
		t.Fatalf("destination = %q", sess.lastTo)
	}
	if sess.sendCalls != 1 {
		t.Fatalf("send calls = %d", sess.sendCalls)
	}
}

func TestSendMessageMissingFields(t *testing.T) {
	e, _ := newSendHandler(t, &fakeSession{})

	rec := doJSON(e, http.MethodPost, "/send-message", `{"to":"5511999999999"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendImageFromURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
	}))
	defer ts.Close()

	sess := &fakeSession{}
	e, _ := newSendHandler(t, sess)

	rec := doJSON(e, http.MethodPost, "/send-image",
		`{"to":"5511999999999","imageUrl":"`+ts.URL+`","caption":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if sess.sendCalls != 1 {
		t.Fatalf("send calls = %d", sess.sendCalls)
	}
}

func TestSendImageBadURL(t *testing.T) {
	e, _ := newSendHandler(t, &fakeSession{})

	rec := doJSON(e, http.MethodPost, "/send-image", `{"to":"5511999999999","imageUrl":"not a url"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMediaRetrieval(t *testing.T) {
	store, err := media.NewStore(nil, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ref, err := store.Persist([]byte("stored bytes"), "text/plain")
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	e := newEcho()
	NewMediaHandler(nil, store).Register(e)

	rec := doJSON(e, http.MethodGet, "/media/"+ref.Filename, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "stored bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestMediaTraversalForbidden(t *testing.T) {
	store, err := media.NewStore(nil, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	e := newEcho()
	NewMediaHandler(nil, store).Register(e)

	rec := doJSON(e, http.MethodGet, "/media/"+url.PathEscape("../../etc/passwd"), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestMediaNotFound(t *testing.T) {
	store, err := media.NewStore(nil, t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	e := newEcho()
	NewMediaHandler(nil, store).Register(e)

	rec := doJSON(e, http.MethodGet, "/media/1700000000-deadbeef.png", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookConfig(t *testing.T) {
	dispatcher := webhook.NewDispatcher(nil, "http://old.invalid/hook", "zapgate", time.Second)
	e := newEcho()
	NewWebhookHandler(nil, dispatcher).Register(e)

	rec := doJSON(e, http.MethodPost, "/webhook/config", `{"webhookUrl":"http://n8n:5678/webhook/whatsapp"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := dispatcher.Endpoint(); got != "http://n8n:5678/webhook/whatsapp" {
		t.Fatalf("endpoint = %q", got)
	}
}

func TestWebhookConfigRejectsBadURL(t *testing.T) {
	dispatcher := webhook.NewDispatcher(nil, "http://old.invalid/hook", "zapgate", time.Second)
	e := newEcho()
	NewWebhookHandler(nil, dispatcher).Register(e)

	rec := doJSON(e, http.MethodPost, "/webhook/config", `{"webhookUrl":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := dispatcher.Endpoint(); got != "http://old.invalid/hook" {
		t.Fatalf("endpoint changed to %q", got)
	}
}

func TestSendDocumentFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	sess := &fakeSession{}
	e, _ := newSendHandler(t, sess)

	rec := doJSON(e, http.MethodPost, "/send-document",
		`{"to":"5511999999999","filePath":"`+path+`","fileName":"invoice.pdf","mimeType":"application/pdf"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if sess.sendCalls != 1 {
		t.Fatalf("send calls = %d", sess.sendCalls)
	}
}
