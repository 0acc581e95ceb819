// Package protocol defines the boundary to the external chat-network
// protocol library. The gateway consumes sessions exclusively through the
// interfaces here; the wire protocol itself (encryption, session negotiation,
// multi-device sync) lives in an external driver that registers a Dialer.
package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Identity is the network-assigned identity of an authenticated session.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// MediaKind classifies outbound media payloads.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// OutgoingMedia is a typed media payload for Session.SendMedia.
type OutgoingMedia struct {
	Kind     MediaKind
	Data     []byte
	Mime     string
	Caption  string
	FileName string
}

// Downloader is the subset of Session used by the inbound media side-channel.
type Downloader interface {
	Download(ctx context.Context, media *MediaPayload) ([]byte, error)
}

// Session is one live authenticated connection to the chat network.
// Implementations are supplied by a protocol driver; the gateway never
// mutates a session in place, a reconnect produces a new one.
type Session interface {
	// Identity returns the network-assigned identity. Before the connection
	// reaches the open state the identity may be zero-valued.
	Identity() Identity
	// Registered reports whether the underlying credentials are paired
	// with an account.
	Registered() bool
	// RequestPairingCode asks the network for an alphanumeric pairing code
	// linking this session to the account owning phoneNumber.
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)
	// SendText delivers a text message and returns the protocol-assigned
	// message identifier.
	SendText(ctx context.Context, to string, text string) (string, error)
	// SendMedia delivers a media message and returns the protocol-assigned
	// message identifier.
	SendMedia(ctx context.Context, to string, media OutgoingMedia) (string, error)
	// Download fetches the raw bytes of an inbound media message.
	Download(ctx context.Context, media *MediaPayload) ([]byte, error)
	// Events returns the session's event stream. The channel is closed when
	// the session terminates; events arrive in the order the library emits
	// them.
	Events() <-chan Event
	// Close terminates the connection.
	Close(ctx context.Context) error
}

// Dialer opens sessions against the chat network using persisted
// authentication material.
type Dialer interface {
	Dial(ctx context.Context, auth AuthState) (Session, error)
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]Dialer{}
)

// RegisterDriver makes a protocol driver available under the given name.
// It panics on duplicate registration, mirroring database/sql.
func RegisterDriver(name string, d Dialer) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("protocol: RegisterDriver with nil dialer")
	}
	if _, dup := drivers[name]; dup {
		panic("protocol: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// OpenDialer returns the registered driver with the given name.
func OpenDialer(name string) (Dialer, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown driver %q (registered: %v)", name, driverNamesLocked())
	}
	return d, nil
}

func driverNamesLocked() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
