// Package mock provides test doubles for the s2s package interfaces.
//
// Use Dialer to control what each Dial returns, and Conn to drive inbound
// payloads and close codes and to inspect what the session manager sent.
//
// Example:
//
//	d := &mock.Dialer{}
//	mgr := session.New(d, cfg)
//	_ = mgr.Connect(ctx, key, setup)
//	conn := d.Last()
//	conn.Deliver([]byte(`{"setupComplete":{}}`))
//	conn.CloseWith(1006, "")
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer is a mock implementation of [s2s.Dialer]. Each Dial consumes the
// next entry of Errors (if any); a nil entry or an exhausted list yields a new
// [Conn].
type Dialer struct {
	mu sync.Mutex

	// Errors are returned by successive Dial calls. A nil entry succeeds.
	Errors []error

	// FailAll, if set, is returned by every Dial once Errors is exhausted.
	FailAll error

	// Credentials records the credential passed to each Dial call.
	Credentials []string

	// Conns records every Conn returned, in order.
	Conns []*Conn

	dialed chan struct{}
}

var _ s2s.Dialer = (*Dialer)(nil)

// Dial implements [s2s.Dialer].
func (d *Dialer) Dial(ctx context.Context, credential string) (s2s.Conn, error) {
	d.mu.Lock()
	d.Credentials = append(d.Credentials, credential)
	var err error
	if len(d.Errors) > 0 {
		err, d.Errors = d.Errors[0], d.Errors[1:]
	} else {
		err = d.FailAll
	}
	var c *Conn
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		} else {
			c = NewConn()
			d.Conns = append(d.Conns, c)
		}
	}
	ch := d.signal()
	d.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CallCount returns the number of Dial calls so far.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Credentials)
}

// Last returns the most recently returned Conn, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}

// Dialed returns a channel that receives a value after every Dial call.
func (d *Dialer) Dialed() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signal()
}

func (d *Dialer) signal() chan struct{} {
	if d.dialed == nil {
		d.dialed = make(chan struct{}, 64)
	}
	return d.dialed
}

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock implementation of [s2s.Conn].
type Conn struct {
	mu sync.Mutex

	// SendError, if non-nil, is returned by Send.
	SendError error

	sent     []json.RawMessage
	inbound  chan []byte
	closed   chan struct{}
	closeErr error

	closeOnce  sync.Once
	closeCode  int
	closeCalls int
	pings      int
}

var _ s2s.Conn = (*Conn)(nil)

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

// Send implements [s2s.Conn]. The message is recorded as marshalled JSON.
func (c *Conn) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	select {
	case <-c.closed:
		return errors.New("mock: send on closed conn")
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, data)
	return nil
}

// Receive implements [s2s.Conn]. Queued payloads are drained before the
// close error is reported.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	default:
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping implements [s2s.Conn].
func (c *Conn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

// Close implements [s2s.Conn]. It records the first close code.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.finish(code, &s2s.CloseError{Code: code, Reason: reason})
	return nil
}

// Deliver queues an inbound payload.
func (c *Conn) Deliver(data []byte) {
	c.inbound <- data
}

// CloseWith simulates the peer closing the connection with code. Code
// [s2s.StatusAbnormalClosure] is reported as a plain network error without a
// close frame.
func (c *Conn) CloseWith(code int, reason string) {
	var err error = &s2s.CloseError{Code: code, Reason: reason}
	if code == s2s.StatusAbnormalClosure {
		err = errors.New("mock: connection reset")
	}
	c.finish(code, err)
}

func (c *Conn) finish(code int, err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
	})
}

// Sent returns the JSON of every message sent so far.
func (c *Conn) Sent() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// CloseCode returns the code the connection was closed with, or 0 if open.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// Done is closed once the connection is closed by either side.
func (c *Conn) Done() <-chan struct{} { return c.closed }
