package protocol

import "time"

// Event is one occurrence emitted by a session. It is a closed union:
// ConnectionEvent, CredsEvent, MessageEvent, ReceiptEvent.
type Event interface {
	event()
}

// ConnState labels the connection status carried by a ConnectionEvent.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClose      ConnState = "close"
)

// ConnectionEvent reports a lifecycle transition of the session. QR carries
// the current login QR payload when the session is unregistered.
type ConnectionEvent struct {
	State  ConnState
	Reason DisconnectReason
	QR     string
}

func (ConnectionEvent) event() {}

// CredsEvent carries updated serialized credential material. The gateway
// persists it opaquely through the AuthStore without inspecting it.
type CredsEvent struct {
	Creds []byte
}

func (CredsEvent) event() {}

// MessageEvent wraps one raw inbound message.
type MessageEvent struct {
	Raw RawMessage
}

func (MessageEvent) event() {}

// ReceiptEvent reports a delivery or read status change for a sent message.
type ReceiptEvent struct {
	MessageID string
	From      string
	Status    string
	Timestamp time.Time
}

func (ReceiptEvent) event() {}

// RawMessage is the protocol library's inbound message shape. Exactly one of
// the payload pointers is expected to be set; classification picks the first
// matching shape.
type RawMessage struct {
	ID        string
	From      string
	PushName  string
	FromMe    bool
	FromGroup bool
	Timestamp time.Time

	Conversation string
	ExtendedText *ExtendedTextPayload
	Image        *MediaPayload
	Audio        *MediaPayload
	Video        *MediaPayload
	Document     *MediaPayload
	Contact      *ContactPayload
	Location     *LocationPayload
}

// ExtendedTextPayload is quoted or link-preview text.
type ExtendedTextPayload struct {
	Text     string
	QuotedID string
}

// MediaPayload references an inbound media message. The Ref is an opaque
// handle the driver resolves during Download.
type MediaPayload struct {
	Ref      string
	Mime     string
	Caption  string
	FileName string
	Size     int64
}

// ContactPayload is a shared contact card.
type ContactPayload struct {
	DisplayName string
	VCard       string
}

// LocationPayload is a shared geographic location.
type LocationPayload struct {
	Latitude  float64
	Longitude float64
	Name      string
}
