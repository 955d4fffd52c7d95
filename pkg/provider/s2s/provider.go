// Package s2s defines the transport abstraction for realtime speech-to-speech
// (S2S) backends.
//
// An S2S backend accepts streamed audio and text turns and returns synthesised
// audio over a single long-lived duplex connection. The session manager in
// livevoice owns the connection lifecycle (setup, reconnects, teardown) and
// only needs a narrow view of the wire: JSON messages out, raw payloads in,
// keepalive pings and a close code when the connection ends.
//
// Backend-specific protocol types live in sub-packages (e.g., s2s/gemini).
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"fmt"
)

// Close codes with a meaning shared by all transports.
const (
	// StatusNormalClosure is a deliberate, clean close. Never retried.
	StatusNormalClosure = 1000

	// StatusAbnormalClosure is reported when the connection ended without a
	// close frame, including failed dials.
	StatusAbnormalClosure = 1006

	// StatusInternalError is used by the client when it abandons a
	// connection it could not set up.
	StatusInternalError = 1011
)

// ErrUnauthorized is returned by a [Dialer] when the server refuses the
// credential before the connection is upgraded.
var ErrUnauthorized = errors.New("s2s: credential refused by server")

// CloseError reports the close frame that ended a connection.
type CloseError struct {
	Code   int
	Reason string
}

// Error implements error.
func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("s2s: connection closed with code %d", e.Code)
	}
	return fmt.Sprintf("s2s: connection closed with code %d: %s", e.Code, e.Reason)
}

// CloseCode extracts the close code from err. Errors that carry no close frame
// map to [StatusAbnormalClosure]; nil maps to [StatusNormalClosure].
func CloseCode(err error) int {
	if err == nil {
		return StatusNormalClosure
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return StatusAbnormalClosure
}

// Conn is one open duplex connection to an S2S backend.
//
// Send may be called concurrently with Receive. Close must be idempotent.
type Conn interface {
	// Send marshals v as JSON and writes it as one message.
	Send(ctx context.Context, v any) error

	// Receive blocks for the next inbound payload. Binary payloads are
	// returned as-is; callers treat them as UTF-8 JSON text. When the peer
	// closes the connection the error is, or wraps, a [*CloseError].
	Receive(ctx context.Context) ([]byte, error)

	// Ping sends a keepalive and waits for the reply.
	Ping(ctx context.Context) error

	// Close closes the connection with the given code and reason.
	Close(code int, reason string) error
}

// Dialer opens connections to an S2S backend.
type Dialer interface {
	// Dial opens a new connection authenticated with credential. The supplied
	// ctx governs the dial only, not the lifetime of the returned Conn.
	Dial(ctx context.Context, credential string) (Conn, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, credential string) (Conn, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, credential string) (Conn, error) {
	return f(ctx, credential)
}
