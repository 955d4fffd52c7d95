// Package session implements the connection manager for a realtime voice
// session: credential checks, the duplex transport lifecycle, the setup
// handshake, inbound message dispatch and the reconnect policy.
//
// A [Manager] owns at most one live transport at a time. The logical session
// (its ID, observers and configuration) survives reconnects; each transport
// is disposable. Every state transition is published to OnStateChange
// observers after the manager's lock has been released, so observers may call
// back into the manager.
package session

import (
	"errors"
	"time"
)

// State is the connection state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sentinel errors.
var (
	// ErrInvalidCredential is returned when a credential fails the local
	// shape check. No transport is opened.
	ErrInvalidCredential = errors.New("session: invalid credential")

	// ErrCredentialRejected is returned when the remote side refuses the
	// credential, either during pre-validation or via the invalid-credential
	// close code.
	ErrCredentialRejected = errors.New("session: invalid credential (rejected by server)")

	// ErrQuotaExceeded is set when the server closes with the quota code.
	ErrQuotaExceeded = errors.New("session: quota exceeded")

	// ErrMaxReconnects is set once the reconnect cap is reached.
	ErrMaxReconnects = errors.New("session: maximum reconnection attempts reached")

	// ErrNotConnected is returned by send operations outside the connected
	// state.
	ErrNotConnected = errors.New("session: not connected")
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID               string
	State            State
	ReconnectAttempt int
	LastError        error
}

// Role identifies the speaker of a transcript.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Transcript is a recognised fragment of user or model speech.
type Transcript struct {
	Role      Role
	Text      string
	Timestamp time.Time
}
