package core

import "time"

// Token is an opaque bearer credential with an optional expiry.
type Token struct {
	// Value is the raw bearer string presented to the server.
	Value string `json:"value"`
	// ExpiresAt is the instant after which the token must not be used. Zero means no known expiry.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsZero reports whether the token carries no value.
func (t Token) IsZero() bool {
	return t.Value == ""
}

// ValidAt reports whether the token is present and not expired at now.
func (t Token) ValidAt(now time.Time) bool {
	if t.IsZero() {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

// CredentialSource supplies the current auth token. The connection core only reads from it
// and asks it to drop tokens that are known to be expired.
type CredentialSource interface {
	// ValidToken returns the current token and true, or a zero token and false if it is absent or expired.
	ValidToken() (Token, bool)
	// ClearIfExpired drops the stored token if it has expired.
	ClearIfExpired()
	// OnCredentialRefreshed registers fn to be called after the token is replaced out of band.
	OnCredentialRefreshed(fn func()) (unsubscribe func())
}

// TransportEvent names a lifecycle event emitted by a TransportHandle.
type TransportEvent string

// Transport events.
const (
	EventConnect      TransportEvent = "connect"
	EventDisconnect   TransportEvent = "disconnect"
	EventConnectError TransportEvent = "connect_error"
	EventMessage      TransportEvent = "message"
)

// DisconnectReason explains why an established transport went away.
type DisconnectReason uint8

// Disconnect reasons.
const (
	// ReasonClientInitiated indicates the local side closed the transport.
	ReasonClientInitiated DisconnectReason = iota
	// ReasonServerInitiated indicates the server sent a close.
	ReasonServerInitiated
	// ReasonTransportClosed indicates the underlying connection dropped.
	ReasonTransportClosed
)

// String returns the string representation of the DisconnectReason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonClientInitiated:
		return "client_initiated"
	case ReasonServerInitiated:
		return "server_initiated"
	case ReasonTransportClosed:
		return "transport_closed"
	default:
		return "unknown"
	}
}

// Retryable reports whether a disconnect with this reason should trigger a reconnect.
func (r DisconnectReason) Retryable() bool {
	return r == ReasonServerInitiated || r == ReasonTransportClosed
}

// Payload carries the data attached to a transport event.
// Reason is set for disconnect, Err for connect_error, and Data for message.
type Payload struct {
	Reason DisconnectReason
	Err    error
	Data   []byte
}

// Listener receives transport events.
type Listener func(Payload)

// TransportOptions configures a transport handle.
type TransportOptions struct {
	Token            Token
	ForceNew         bool
	Transports       []string
	HandshakeTimeout time.Duration
}

// TransportHandle is a single streaming connection attempt.
// Listeners must be attached before Connect; no events are emitted before it is called.
type TransportHandle interface {
	On(event TransportEvent, fn Listener)
	Connect()
	Emit(data []byte) error
	Close()
	RemoveAllListeners()
}

// Dialer creates transport handles.
type Dialer interface {
	Open(url string, opts TransportOptions) TransportHandle
}
