package session

import (
	"errors"
	"time"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// Default reconnection parameters.
const (
	defaultReconnectDelay        = 2 * time.Second
	defaultMaxAttempts           = 5
	defaultInvalidCredentialCode = 4001
	defaultQuotaExceededCode     = 4029
)

// ReconnectPolicy decides what happens after a transport closes.
//
// Unlike a backoff loop the policy is stateless: the [Manager] owns the
// attempt counter and asks the policy once per closure.
type ReconnectPolicy struct {
	// Delay is the fixed wait before each reconnect. Defaults to 2s if zero.
	Delay time.Duration

	// MaxAttempts caps consecutive reconnects without reaching connected.
	// Defaults to 5 if zero.
	MaxAttempts int

	// InvalidCredentialCode is the close code meaning the credential was
	// refused. Defaults to 4001 if zero.
	InvalidCredentialCode int

	// QuotaExceededCode is the close code meaning the quota is exhausted.
	// Defaults to 4029 if zero.
	QuotaExceededCode int
}

// WithDefaults returns a copy of p with zero fields replaced by defaults.
func (p ReconnectPolicy) WithDefaults() ReconnectPolicy {
	if p.Delay <= 0 {
		p.Delay = defaultReconnectDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InvalidCredentialCode == 0 {
		p.InvalidCredentialCode = defaultInvalidCredentialCode
	}
	if p.QuotaExceededCode == 0 {
		p.QuotaExceededCode = defaultQuotaExceededCode
	}
	return p
}

// Action is the outcome of a [ReconnectPolicy] decision.
type Action int

const (
	// ActionStop means the closure was deliberate; go to disconnected.
	ActionStop Action = iota

	// ActionRetry means schedule one reconnect after the policy delay.
	ActionRetry

	// ActionFail means stop retrying and go to the error state.
	ActionFail
)

// Decide classifies a closure with code after attempts consecutive
// reconnects. For ActionFail the returned error explains why.
func (p ReconnectPolicy) Decide(code, attempts int) (Action, error) {
	p = p.WithDefaults()
	switch {
	case code == s2s.StatusNormalClosure:
		return ActionStop, nil
	case code == p.InvalidCredentialCode:
		return ActionFail, ErrCredentialRejected
	case code == p.QuotaExceededCode:
		return ActionFail, ErrQuotaExceeded
	case attempts >= p.MaxAttempts:
		return ActionFail, ErrMaxReconnects
	default:
		return ActionRetry, nil
	}
}

// DecideError classifies the error that ended a connection or a dial. A
// credential refused before the upgrade fails the session like the
// credential close code does; everything else goes through [Decide].
func (p ReconnectPolicy) DecideError(cause error, attempts int) (Action, error) {
	if errors.Is(cause, s2s.ErrUnauthorized) {
		return ActionFail, ErrCredentialRejected
	}
	return p.Decide(s2s.CloseCode(cause), attempts)
}
