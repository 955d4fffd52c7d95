package session

import (
	"fmt"
	"strings"
)

// Default credential shape for Gemini API keys.
const (
	DefaultCredentialMinLength = 30
	DefaultCredentialPrefix    = "AIza"
)

// CredentialRules describe the expected shape of an API credential.
type CredentialRules struct {
	// MinLength defaults to 30 if zero.
	MinLength int

	// Prefix defaults to "AIza" if empty.
	Prefix string
}

func (r CredentialRules) withDefaults() CredentialRules {
	if r.MinLength <= 0 {
		r.MinLength = DefaultCredentialMinLength
	}
	if r.Prefix == "" {
		r.Prefix = DefaultCredentialPrefix
	}
	return r
}

// ValidateCredential checks that credential is non-empty, at least
// MinLength long and starts with Prefix. Failures wrap [ErrInvalidCredential]
// and never echo the credential.
func ValidateCredential(credential string, rules CredentialRules) error {
	rules = rules.withDefaults()
	credential = strings.TrimSpace(credential)
	switch {
	case credential == "":
		return fmt.Errorf("%w: credential is empty", ErrInvalidCredential)
	case len(credential) < rules.MinLength:
		return fmt.Errorf("%w: credential is shorter than %d characters", ErrInvalidCredential, rules.MinLength)
	case !strings.HasPrefix(credential, rules.Prefix):
		return fmt.Errorf("%w: credential does not start with %q", ErrInvalidCredential, rules.Prefix)
	}
	return nil
}
