package normalize

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/zapgate/zapgate/internal/media"
	"github.com/zapgate/zapgate/internal/protocol"
	"github.com/zapgate/zapgate/internal/webhook"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (s *recordingSink) Dispatch(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.data = append(s.data, payload)
}

func (s *recordingSink) last(t *testing.T) (string, any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		t.Fatal("no events dispatched")
	}
	return s.events[len(s.events)-1], s.data[len(s.data)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeDownloader struct {
	data []byte
	err  error
}

func (f *fakeDownloader) Download(_ context.Context, _ *protocol.MediaPayload) ([]byte, error) {
	return f.data, f.err
}

func newTestNormalizer(t *testing.T) (*Normalizer, *recordingSink, *media.Store) {
	t.Helper()
	store, err := media.NewStore(nil, t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sink := &recordingSink{}
	return New(nil, store, sink), sink, store
}

func rawText(text string) protocol.RawMessage {
	return protocol.RawMessage{
		ID:           "msg-1",
		From:         "5511999999999@s.whatsapp.net",
		PushName:     "Alice",
		Timestamp:    time.Unix(1700000000, 0),
		Conversation: text,
	}
}

func TestPlainTextNormalization(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	n.HandleMessage(context.Background(), &fakeDownloader{}, rawText("hello"))

	name, payload := sink.last(t)
	if name != webhook.EventMessageReceived {
		t.Fatalf("expected message_received, got %s", name)
	}
	event := payload.(Event)
	if event.Kind != KindText {
		t.Errorf("expected kind text, got %s", event.Kind)
	}
	if event.Text != "hello" {
		t.Errorf("expected text hello, got %q", event.Text)
	}
	if event.Sender != "5511999999999@s.whatsapp.net" {
		t.Errorf("unexpected sender %s", event.Sender)
	}
}

func TestExtendedTextNormalization(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	raw := protocol.RawMessage{
		ID:           "msg-2",
		From:         "5511999999999@s.whatsapp.net",
		ExtendedText: &protocol.ExtendedTextPayload{Text: "quoted reply", QuotedID: "msg-1"},
	}
	n.HandleMessage(context.Background(), &fakeDownloader{}, raw)

	_, payload := sink.last(t)
	event := payload.(Event)
	if event.Kind != KindText || event.Text != "quoted reply" {
		t.Errorf("expected text/quoted reply, got %s/%q", event.Kind, event.Text)
	}
}

func TestSelfSentMessagesAreSkipped(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	raw := rawText("from myself")
	raw.FromMe = true
	n.HandleMessage(context.Background(), &fakeDownloader{}, raw)

	if sink.count() != 0 {
		t.Errorf("expected no events for self-sent message, got %d", sink.count())
	}
}

func TestImageDownloadSuccess(t *testing.T) {
	n, sink, store := newTestNormalizer(t)

	raw := protocol.RawMessage{
		ID:    "msg-3",
		From:  "5511999999999@s.whatsapp.net",
		Image: &protocol.MediaPayload{Ref: "ref", Mime: "image/png", Caption: "look"},
	}
	n.HandleMessage(context.Background(), &fakeDownloader{data: []byte("png bytes")}, raw)

	_, payload := sink.last(t)
	event := payload.(Event)
	if event.Kind != KindImage {
		t.Fatalf("expected kind image, got %s", event.Kind)
	}
	if event.Media == nil || event.Media.Error != "" {
		t.Fatalf("expected successful media reference, got %+v", event.Media)
	}
	path, err := store.Resolve(event.Media.Filename)
	if err != nil {
		t.Fatalf("persisted file not resolvable: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if string(got) != "png bytes" {
		t.Error("persisted bytes differ from download")
	}
	if event.Text != "look" {
		t.Errorf("expected caption as text, got %q", event.Text)
	}
}

func TestMediaDownloadFailureStillForwardsEvent(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	raw := protocol.RawMessage{
		ID:    "msg-4",
		From:  "5511999999999@s.whatsapp.net",
		Audio: &protocol.MediaPayload{Ref: "ref", Mime: "audio/ogg"},
	}
	n.HandleMessage(context.Background(), &fakeDownloader{err: errors.New("stream reset")}, raw)

	name, payload := sink.last(t)
	if name != webhook.EventMessageReceived {
		t.Fatalf("expected message_received despite download failure, got %s", name)
	}
	event := payload.(Event)
	if event.Kind != KindAudio {
		t.Errorf("expected kind audio, got %s", event.Kind)
	}
	if event.Media == nil || event.Media.Error == "" {
		t.Error("expected error marker on media reference")
	}
}

func TestDocumentCarriesFileName(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	raw := protocol.RawMessage{
		ID:       "msg-5",
		From:     "5511999999999@s.whatsapp.net",
		Document: &protocol.MediaPayload{Ref: "ref", Mime: "application/pdf", FileName: "invoice.pdf"},
	}
	n.HandleMessage(context.Background(), &fakeDownloader{data: []byte("%PDF")}, raw)

	_, payload := sink.last(t)
	event := payload.(Event)
	if event.Kind != KindDocument || event.Text != "invoice.pdf" {
		t.Errorf("expected document/invoice.pdf, got %s/%q", event.Kind, event.Text)
	}
}

func TestContactAndLocationShapes(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)
	ctx := context.Background()
	dl := &fakeDownloader{}

	n.HandleMessage(ctx, dl, protocol.RawMessage{
		ID:      "msg-6",
		From:    "x@s.whatsapp.net",
		Contact: &protocol.ContactPayload{DisplayName: "Bob", VCard: "BEGIN:VCARD"},
	})
	_, payload := sink.last(t)
	event := payload.(Event)
	if event.Kind != KindContact || event.Contact == nil || event.Contact.DisplayName != "Bob" {
		t.Errorf("unexpected contact event %+v", event)
	}

	n.HandleMessage(ctx, dl, protocol.RawMessage{
		ID:       "msg-7",
		From:     "x@s.whatsapp.net",
		Location: &protocol.LocationPayload{Latitude: -23.55, Longitude: -46.63, Name: "SP"},
	})
	_, payload = sink.last(t)
	event = payload.(Event)
	if event.Kind != KindLocation || event.Location == nil || event.Location.Name != "SP" {
		t.Errorf("unexpected location event %+v", event)
	}
}

func TestUnknownShapeIsNotDropped(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	n.HandleMessage(context.Background(), &fakeDownloader{}, protocol.RawMessage{
		ID:   "msg-8",
		From: "x@s.whatsapp.net",
	})

	name, payload := sink.last(t)
	if name != webhook.EventMessageReceived {
		t.Fatalf("expected message_received, got %s", name)
	}
	event := payload.(Event)
	if event.Kind != KindUnknown {
		t.Errorf("expected kind unknown, got %s", event.Kind)
	}
	if event.Media != nil || event.Contact != nil || event.Location != nil || event.Text != "" {
		t.Error("unknown kind must carry no payload")
	}
}

func TestFirstMatchingShapeWins(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	// Conversation text takes precedence over any other populated shape.
	raw := rawText("text wins")
	raw.Image = &protocol.MediaPayload{Ref: "ref", Mime: "image/png"}
	n.HandleMessage(context.Background(), &fakeDownloader{data: []byte("png")}, raw)

	_, payload := sink.last(t)
	event := payload.(Event)
	if event.Kind != KindText || event.Media != nil {
		t.Errorf("expected plain text to win, got %s media=%v", event.Kind, event.Media)
	}
}

func TestPanicBecomesMessageError(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	// A nil downloader dereference inside fetchMedia panics; it must surface
	// as a message_error event, not crash the listener.
	raw := protocol.RawMessage{
		ID:    "msg-9",
		From:  "x@s.whatsapp.net",
		Image: &protocol.MediaPayload{Ref: "ref", Mime: "image/png"},
	}
	n.HandleMessage(context.Background(), nil, raw)

	name, _ := sink.last(t)
	if name != webhook.EventMessageError {
		t.Errorf("expected message_error, got %s", name)
	}
}

func TestReceiptBecomesStatusEvent(t *testing.T) {
	n, sink, _ := newTestNormalizer(t)

	n.HandleReceipt(context.Background(), protocol.ReceiptEvent{
		MessageID: "msg-10",
		From:      "5511999999999@s.whatsapp.net",
		Status:    "read",
		Timestamp: time.Unix(1700000100, 0),
	})

	name, payload := sink.last(t)
	if name != webhook.EventMessageStatus {
		t.Fatalf("expected message_status, got %s", name)
	}
	event := payload.(Event)
	if event.Kind != KindStatus || event.Text != "read" {
		t.Errorf("unexpected status event %+v", event)
	}
}
