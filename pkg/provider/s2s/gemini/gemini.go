// Package gemini implements the s2s transport for Google's Gemini Live API.
//
// It opens a bidirectional WebSocket connection to the Live endpoint and
// exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio is transmitted as base64-encoded PCM chunks. The protocol message
// types live in protocol.go; key pre-validation via the genai SDK lives in
// keycheck.go.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// Compile-time assertions that Dialer and conn satisfy the s2s interfaces.
var _ s2s.Dialer = (*Dialer)(nil)
var _ s2s.Conn = (*conn)(nil)

const (
	// DefaultBaseURL is the Gemini Live WebSocket root.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// defaultReadLimit bounds a single inbound message. Audio turns exceed
	// the websocket library's 32 KiB default.
	defaultReadLimit = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(d *Dialer) { d.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// WithReadLimit sets the maximum size of one inbound message in bytes.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens Gemini Live connections.
type Dialer struct {
	baseURL    string
	httpClient *http.Client
	readLimit  int64
}

// NewDialer creates a Dialer with the given options.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		baseURL:   DefaultBaseURL,
		readLimit: defaultReadLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [s2s.Dialer]. The credential is passed as the key query
// parameter.
func (d *Dialer) Dial(ctx context.Context, credential string) (s2s.Conn, error) {
	wsURL := d.baseURL + bidiPath + "?key=" + url.QueryEscape(credential)

	ws, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("gemini: dial: %w: %s", s2s.ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	ws.SetReadLimit(d.readLimit)
	return &conn{ws: ws}, nil
}

// Close codes the Live endpoint uses for non-retryable failures.
const (
	StatusInvalidCredential = 4001
	StatusQuotaExceeded     = 4029
)

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
}

// Send marshals v and writes it as a text WebSocket message.
func (c *conn) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("gemini: write: %w", err)
	}
	return nil
}

// Receive reads the next message. Text and binary frames are both returned
// as raw bytes.
func (c *conn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &s2s.CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return nil, fmt.Errorf("gemini: read: %w", err)
	}
	return data, nil
}

func (c *conn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

// Close closes the connection once; later calls are no-ops.
func (c *conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close(websocket.StatusCode(code), reason)
	})
	return err
}
