package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

func TestReconnectPolicy_Defaults(t *testing.T) {
	p := ReconnectPolicy{}.WithDefaults()

	if p.Delay != 2*time.Second {
		t.Errorf("expected default delay=2s, got %v", p.Delay)
	}
	if p.MaxAttempts != 5 {
		t.Errorf("expected default max attempts=5, got %d", p.MaxAttempts)
	}
	if p.InvalidCredentialCode != 4001 {
		t.Errorf("expected invalid credential code 4001, got %d", p.InvalidCredentialCode)
	}
	if p.QuotaExceededCode != 4029 {
		t.Errorf("expected quota code 4029, got %d", p.QuotaExceededCode)
	}
}

func TestReconnectPolicy_Decide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     ReconnectPolicy
		code       int
		attempts   int
		wantAction Action
		wantErr    error
	}{
		{name: "normal closure stops", code: 1000, wantAction: ActionStop},
		{name: "normal closure stops even at cap", code: 1000, attempts: 9, wantAction: ActionStop},
		{name: "abnormal closure retries", code: 1006, wantAction: ActionRetry},
		{name: "going away retries", code: 1001, attempts: 4, wantAction: ActionRetry},
		{name: "cap reached fails", code: 1006, attempts: 5, wantAction: ActionFail, wantErr: ErrMaxReconnects},
		{name: "invalid credential fails", code: 4001, wantAction: ActionFail, wantErr: ErrCredentialRejected},
		{name: "quota fails", code: 4029, wantAction: ActionFail, wantErr: ErrQuotaExceeded},
		{
			name:       "custom cap",
			policy:     ReconnectPolicy{MaxAttempts: 2},
			code:       1011,
			attempts:   2,
			wantAction: ActionFail,
			wantErr:    ErrMaxReconnects,
		},
		{
			name:       "custom quota code",
			policy:     ReconnectPolicy{QuotaExceededCode: 4300},
			code:       4300,
			wantAction: ActionFail,
			wantErr:    ErrQuotaExceeded,
		},
		{
			name:       "default quota code no longer terminal when overridden",
			policy:     ReconnectPolicy{QuotaExceededCode: 4300},
			code:       4029,
			wantAction: ActionRetry,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			action, err := tc.policy.Decide(tc.code, tc.attempts)
			if action != tc.wantAction {
				t.Errorf("action = %v, want %v", action, tc.wantAction)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestReconnectPolicy_DecideError(t *testing.T) {
	t.Parallel()

	custom := ReconnectPolicy{InvalidCredentialCode: 4100}
	tests := []struct {
		name       string
		cause      error
		attempts   int
		wantAction Action
		wantErr    error
	}{
		{name: "refused credential fails", cause: fmt.Errorf("dial: %w", s2s.ErrUnauthorized), wantAction: ActionFail, wantErr: ErrCredentialRejected},
		{name: "refused credential fails before cap", cause: s2s.ErrUnauthorized, attempts: 1, wantAction: ActionFail, wantErr: ErrCredentialRejected},
		{name: "plain dial error retries", cause: errors.New("connection refused"), wantAction: ActionRetry},
		{name: "close frame uses its code", cause: &s2s.CloseError{Code: 4100}, wantAction: ActionFail, wantErr: ErrCredentialRejected},
		{name: "default credential code not terminal when overridden", cause: &s2s.CloseError{Code: 4001}, wantAction: ActionRetry},
		{name: "nil cause stops", cause: nil, wantAction: ActionStop},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			action, err := custom.DecideError(tc.cause, tc.attempts)
			if action != tc.wantAction {
				t.Errorf("action = %v, want %v", action, tc.wantAction)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateCredential(t *testing.T) {
	t.Parallel()

	valid := "AIza" + "0123456789abcdefghijklmnopqrstuv"
	tests := []struct {
		name    string
		cred    string
		rules   CredentialRules
		wantErr bool
	}{
		{name: "valid", cred: valid},
		{name: "surrounding whitespace trimmed", cred: "  " + valid + "\n"},
		{name: "empty", cred: "", wantErr: true},
		{name: "whitespace only", cred: "   ", wantErr: true},
		{name: "too short", cred: "AIzaShort", wantErr: true},
		{name: "wrong prefix", cred: "sk-0123456789abcdefghijklmnopqrstuvwxyz", wantErr: true},
		{name: "custom rules", cred: "key-12345", rules: CredentialRules{MinLength: 8, Prefix: "key-"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateCredential(tc.cred, tc.rules)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateCredential() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	want := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateError:        "error",
		State(99):         "unknown",
	}
	for s, name := range want {
		if got := s.String(); got != name {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, name)
		}
	}
}
