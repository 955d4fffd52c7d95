package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// ErrKeyRejected is returned by [KeyChecker.Check] when the API refuses the
// credential.
var ErrKeyRejected = errors.New("gemini: api key rejected")

// KeyChecker confirms an API key with a lightweight REST call before a Live
// connection is attempted.
type KeyChecker struct {
	model   string
	baseURL string
}

// KeyCheckerOption configures a [KeyChecker].
type KeyCheckerOption func(*KeyChecker)

// WithKeyCheckBaseURL points the checker at a different REST endpoint.
// Primarily used in tests.
func WithKeyCheckBaseURL(u string) KeyCheckerOption {
	return func(k *KeyChecker) { k.baseURL = u }
}

// NewKeyChecker returns a checker that fetches model metadata for model.
func NewKeyChecker(model string, opts ...KeyCheckerOption) *KeyChecker {
	if model == "" {
		model = DefaultModel
	}
	k := &KeyChecker{model: model}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Check fetches the configured model with apiKey. Authentication failures
// wrap [ErrKeyRejected]; transport failures are returned as-is so the caller
// can tell a bad key from a bad network.
func (k *KeyChecker) Check(ctx context.Context, apiKey string) error {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if k.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: k.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("gemini: key check client: %w", err)
	}

	if _, err := client.Models.Get(ctx, k.model, nil); err != nil {
		if rejected(err) {
			return fmt.Errorf("%w: %v", ErrKeyRejected, err)
		}
		return fmt.Errorf("gemini: key check: %w", err)
	}
	return nil
}

// rejected reports whether err is an API error caused by the credential.
func rejected(err error) bool {
	code := apiErrorCode(err)
	// An invalid key is reported as 400 INVALID_ARGUMENT by the Gemini API.
	return code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden
}

// apiErrorCode walks the wrap chain for a genai API error and returns its
// HTTP status code, or 0.
func apiErrorCode(err error) int {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return v.Code
		case *genai.APIError:
			return v.Code
		}
	}
	return 0
}
