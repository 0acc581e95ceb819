package protocol

// DisconnectReason is the standardized reason code attached to a close event.
type DisconnectReason string

const (
	ReasonLoggedOut          DisconnectReason = "logged-out"
	ReasonBadSession         DisconnectReason = "bad-session"
	ReasonConnectionClosed   DisconnectReason = "connection-closed"
	ReasonConnectionLost     DisconnectReason = "connection-lost"
	ReasonConnectionReplaced DisconnectReason = "connection-replaced"
	ReasonRestartRequired    DisconnectReason = "restart-required"
	ReasonTimedOut           DisconnectReason = "timed-out"
	ReasonUnknown            DisconnectReason = "unknown"
)

// String returns the reason code, or "unknown" when unset.
func (r DisconnectReason) String() string {
	if r == "" {
		return string(ReasonUnknown)
	}
	return string(r)
}

// Terminal reports whether the reason invalidates the persisted credentials.
// Terminal closes require an explicit management action to reconnect.
func (r DisconnectReason) Terminal() bool {
	return r == ReasonLoggedOut || r == ReasonBadSession
}

// Replaced reports whether another device took over the session. The session
// is discarded without retry, but credentials stay valid.
func (r DisconnectReason) Replaced() bool {
	return r == ReasonConnectionReplaced
}

// Retryable reports whether an automatic reconnect should be scheduled.
// Unset reasons count as retryable.
func (r DisconnectReason) Retryable() bool {
	return !r.Terminal() && !r.Replaced()
}
