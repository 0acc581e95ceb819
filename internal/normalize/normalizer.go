// Package normalize maps raw inbound protocol payloads into the gateway's
// canonical event schema and forwards them to the webhook dispatcher.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapgate/zapgate/internal/media"
	"github.com/zapgate/zapgate/internal/protocol"
	"github.com/zapgate/zapgate/internal/webhook"
)

// Kind labels the normalized payload shape.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindContact  Kind = "contact"
	KindLocation Kind = "location"
	KindStatus   Kind = "status"
	KindUnknown  Kind = "unknown"
)

// Contact is the normalized shared-contact payload.
type Contact struct {
	DisplayName string `json:"display_name"`
	VCard       string `json:"vcard,omitempty"`
}

// Location is the normalized shared-location payload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// Event is the immutable normalized record of one inbound occurrence.
type Event struct {
	Kind      Kind             `json:"kind"`
	MessageID string           `json:"message_id"`
	Sender    string           `json:"sender"`
	PushName  string           `json:"push_name,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	FromGroup bool             `json:"from_group"`
	Text      string           `json:"text,omitempty"`
	Media     *media.Reference `json:"media,omitempty"`
	Contact   *Contact         `json:"contact,omitempty"`
	Location  *Location        `json:"location,omitempty"`
}

// EventSink receives normalized events for delivery.
type EventSink interface {
	Dispatch(event string, payload any)
}

// Normalizer classifies raw inbound messages and forwards the result.
type Normalizer struct {
	store  *media.Store
	sink   EventSink
	logger *slog.Logger
}

// New creates a Normalizer writing media through store and events to sink.
func New(log *slog.Logger, store *media.Store, sink EventSink) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		store:  store,
		sink:   sink,
		logger: log.With(slog.String("component", "normalize")),
	}
}

// HandleMessage processes one raw inbound message: self-sent messages are
// skipped, every other message produces exactly one dispatched event. A
// processing failure produces a message_error event instead of being dropped
// or propagated.
func (n *Normalizer) HandleMessage(ctx context.Context, dl protocol.Downloader, raw protocol.RawMessage) {
	if raw.FromMe {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("normalization panic",
				slog.String("message_id", raw.ID),
				slog.Any("panic", r),
			)
			n.sink.Dispatch(webhook.EventMessageError, map[string]any{
				"message_id": raw.ID,
				"sender":     raw.From,
				"error":      fmt.Sprint(r),
			})
		}
	}()

	event := n.classify(ctx, dl, raw)
	n.sink.Dispatch(webhook.EventMessageReceived, event)
}

// HandleReceipt forwards a delivery/read status change as a message_status event.
func (n *Normalizer) HandleReceipt(_ context.Context, receipt protocol.ReceiptEvent) {
	n.sink.Dispatch(webhook.EventMessageStatus, Event{
		Kind:      KindStatus,
		MessageID: receipt.MessageID,
		Sender:    receipt.From,
		Text:      receipt.Status,
		Timestamp: receipt.Timestamp,
	})
}

// classify picks the first matching payload shape. Unmatched shapes yield
// KindUnknown with a nil payload rather than being dropped.
func (n *Normalizer) classify(ctx context.Context, dl protocol.Downloader, raw protocol.RawMessage) Event {
	event := Event{
		MessageID: raw.ID,
		Sender:    raw.From,
		PushName:  raw.PushName,
		Timestamp: raw.Timestamp,
		FromGroup: raw.FromGroup,
	}

	switch {
	case raw.Conversation != "":
		event.Kind = KindText
		event.Text = raw.Conversation
	case raw.ExtendedText != nil:
		event.Kind = KindText
		event.Text = raw.ExtendedText.Text
	case raw.Image != nil:
		event.Kind = KindImage
		event.Text = raw.Image.Caption
		event.Media = n.fetchMedia(ctx, dl, raw.Image)
	case raw.Audio != nil:
		event.Kind = KindAudio
		event.Media = n.fetchMedia(ctx, dl, raw.Audio)
	case raw.Video != nil:
		event.Kind = KindVideo
		event.Text = raw.Video.Caption
		event.Media = n.fetchMedia(ctx, dl, raw.Video)
	case raw.Document != nil:
		event.Kind = KindDocument
		event.Text = raw.Document.FileName
		event.Media = n.fetchMedia(ctx, dl, raw.Document)
	case raw.Contact != nil:
		event.Kind = KindContact
		event.Contact = &Contact{
			DisplayName: raw.Contact.DisplayName,
			VCard:       raw.Contact.VCard,
		}
	case raw.Location != nil:
		event.Kind = KindLocation
		event.Location = &Location{
			Latitude:  raw.Location.Latitude,
			Longitude: raw.Location.Longitude,
			Name:      raw.Location.Name,
		}
	default:
		event.Kind = KindUnknown
	}
	return event
}

// fetchMedia downloads and persists one media payload. Failure never aborts
// the event: the returned reference carries an error marker instead.
func (n *Normalizer) fetchMedia(ctx context.Context, dl protocol.Downloader, payload *protocol.MediaPayload) *media.Reference {
	data, err := dl.Download(ctx, payload)
	if err != nil {
		n.logger.Warn("media download failed",
			slog.String("mime", payload.Mime),
			slog.Any("error", err),
		)
		ref := media.Failed(err)
		return &ref
	}
	ref, err := n.store.Persist(data, payload.Mime)
	if err != nil {
		n.logger.Warn("media persist failed",
			slog.String("mime", payload.Mime),
			slog.Any("error", err),
		)
		failed := media.Failed(err)
		return &failed
	}
	return &ref
}
