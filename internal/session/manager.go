package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
	"github.com/MrWong99/livevoice/pkg/provider/s2s/gemini"
)

// Default transport timings.
const (
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultKeepaliveInterval = 20 * time.Second
	defaultKeepaliveTimeout  = 5 * time.Second
)

// errSuperseded is returned by an in-flight connect that lost a race with
// Disconnect or a newer Connect.
var errSuperseded = errors.New("session: connect superseded")

// KeyChecker pre-validates a credential against the remote API.
type KeyChecker interface {
	Check(ctx context.Context, apiKey string) error
}

// Config configures a [Manager]. Zero values select defaults.
type Config struct {
	// Credential describes the expected credential shape.
	Credential CredentialRules

	// Reconnect is the reconnect policy.
	Reconnect ReconnectPolicy

	// DialTimeout bounds each dial plus setup send. Defaults to 10s.
	DialTimeout time.Duration

	// WriteTimeout bounds each outbound message. Defaults to 5s.
	WriteTimeout time.Duration

	// KeepaliveInterval between pings. Defaults to 20s; negative disables.
	KeepaliveInterval time.Duration

	// KeepaliveTimeout bounds each ping. Defaults to 5s.
	KeepaliveTimeout time.Duration

	// Greeting, if set, is sent as a text turn after the first successful
	// connect of the manager's lifetime.
	Greeting string
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithKeyChecker enables remote credential pre-validation on Connect.
func WithKeyChecker(kc KeyChecker) Option {
	return func(m *Manager) { m.keyChecker = kc }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// transition is a state change waiting to be published.
type transition struct {
	from, to State
}

// Manager is the connection manager for one logical voice session.
//
// All methods are safe for concurrent use.
type Manager struct {
	dialer     s2s.Dialer
	cfg        Config
	policy     ReconnectPolicy
	keyChecker KeyChecker
	metrics    *observe.Metrics
	id         string
	dropLog    rate.Sometimes

	mu         sync.Mutex
	state      State
	lastErr    error
	attempts   int
	epoch      uint64 // bumped whenever the current transport is abandoned
	conn       s2s.Conn
	stopLoops  context.CancelFunc
	timer      *time.Timer
	credential string
	setup      gemini.SetupConfig
	greeted    bool

	obsMu         sync.Mutex
	stateObs      []func(from, to State)
	msgObs        []func(*gemini.ServerMessage)
	audioObs      []func(audio.AudioFrame)
	transcriptObs []func(Transcript)
}

// New creates a disconnected Manager that opens transports with dialer.
func New(dialer s2s.Dialer, cfg Config, opts ...Option) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaultKeepaliveTimeout
	}
	m := &Manager{
		dialer:  dialer,
		cfg:     cfg,
		policy:  cfg.Reconnect.WithDefaults(),
		id:      uuid.NewString(),
		dropLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		state:   StateDisconnected,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// ── Observers ──────────────────────────────────────────────────────────────────

// OnStateChange registers fn to be called after every state transition.
func (m *Manager) OnStateChange(fn func(from, to State)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.stateObs = append(m.stateObs, fn)
}

// OnMessage registers fn to receive every parsed server message.
func (m *Manager) OnMessage(fn func(*gemini.ServerMessage)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.msgObs = append(m.msgObs, fn)
}

// OnAudio registers fn to receive every decoded inbound audio frame.
func (m *Manager) OnAudio(fn func(audio.AudioFrame)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.audioObs = append(m.audioObs, fn)
}

// OnTranscript registers fn to receive input and output transcriptions.
func (m *Manager) OnTranscript(fn func(Transcript)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.transcriptObs = append(m.transcriptObs, fn)
}

// ── Accessors ──────────────────────────────────────────────────────────────────

// ID returns the logical session ID. It is stable across reconnects.
func (m *Manager) ID() string { return m.id }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent error, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Snapshot returns a consistent view of the session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		ID:               m.id,
		State:            m.state,
		ReconnectAttempt: m.attempts,
		LastError:        m.lastErr,
	}
}

// ── Lifecycle ──────────────────────────────────────────────────────────────────

// Connect validates credential, tears down any existing transport and opens a
// new one, sending the setup message built from setup. The session is
// connected as soon as the transport opens and the setup message is written.
//
// Validation and pre-validation failures move the session to the error state.
// A failed dial goes through the reconnect policy like a closure. A retryable
// failure is returned while the policy reconnects in the background; a
// terminal one is returned wrapped in the policy's error.
func (m *Manager) Connect(ctx context.Context, credential string, setup gemini.SetupConfig) error {
	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, m.id), "session.Connect")
	defer span.End()
	log := observe.Logger(ctx)

	if err := ValidateCredential(credential, m.cfg.Credential); err != nil {
		log.Warn("session: credential rejected locally", "err", err)
		m.fail(err)
		return err
	}
	credential = strings.TrimSpace(credential)

	if m.keyChecker != nil {
		if err := m.keyChecker.Check(ctx, credential); err != nil {
			if errors.Is(err, gemini.ErrKeyRejected) {
				err = fmt.Errorf("%w: %v", ErrCredentialRejected, err)
			} else {
				err = fmt.Errorf("session: credential pre-validation: %w", err)
			}
			log.Warn("session: credential pre-validation failed", "err", err)
			m.fail(err)
			return err
		}
	}

	m.mu.Lock()
	old := m.detachLocked()
	m.credential = credential
	m.setup = setup
	m.attempts = 0
	m.lastErr = nil
	epoch := m.epoch
	tr := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	closeConn(old, "replaced by new connection")
	m.publish(tr)

	log.Info("session: connecting", "model", setup.Model)
	return m.open(ctx, epoch)
}

// Disconnect cancels any pending reconnect, closes the transport with a
// normal closure and resets the session to disconnected. It is safe to call
// from any state and more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.detachLocked()
	m.attempts = 0
	m.lastErr = nil
	tr := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	closeConn(conn, "client disconnect")
	if tr.from != tr.to {
		slog.Info("session: disconnected", "session_id", m.id)
	}
	m.publish(tr)
}

// fail tears down the transport and enters the error state with err.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	conn := m.detachLocked()
	m.lastErr = err
	tr := m.setStateLocked(StateError)
	m.mu.Unlock()

	closeConn(conn, "session error")
	m.publish(tr)
}

// open dials, sends setup and starts the connection's loops. epoch identifies
// the connect attempt; if it is stale by the time the dial returns the new
// transport is closed and discarded.
func (m *Manager) open(ctx context.Context, epoch uint64) error {
	m.mu.Lock()
	credential, setup := m.credential, m.setup
	m.mu.Unlock()

	start := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(dialCtx, credential)
	if err == nil {
		if err = conn.Send(dialCtx, gemini.NewSetupMessage(setup)); err != nil {
			_ = conn.Close(s2s.StatusInternalError, "setup failed")
		}
	}
	if err != nil {
		slog.Warn("session: connect failed", "session_id", m.id, "err", err)
		if action, ferr := m.handleClosed(epoch, err); action == ActionFail {
			return fmt.Errorf("session: connect: %w: %w", ferr, err)
		}
		return fmt.Errorf("session: connect: %w", err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		closeConn(conn, "superseded")
		return errSuperseded
	}
	loopCtx, stop := context.WithCancel(context.Background())
	m.conn = conn
	m.stopLoops = stop
	m.attempts = 0
	m.lastErr = nil
	greet := m.cfg.Greeting != "" && !m.greeted
	if greet {
		m.greeted = true
	}
	tr := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	slog.Info("session: connected", "session_id", m.id, "elapsed", time.Since(start))
	m.publish(tr)

	go m.receiveLoop(loopCtx, epoch, conn)
	if m.cfg.KeepaliveInterval > 0 {
		go m.keepaliveLoop(loopCtx, conn)
	}

	if greet {
		if err := m.SendText(m.cfg.Greeting); err != nil {
			slog.Warn("session: greeting failed", "session_id", m.id, "err", err)
		}
	}
	return nil
}

// handleClosed applies the reconnect policy to cause, the error that ended the
// transport belonging to epoch. Closures of abandoned transports are ignored
// and reported as ActionStop.
func (m *Manager) handleClosed(epoch uint64, cause error) (Action, error) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ActionStop, nil
	}
	conn := m.detachLocked()

	code := s2s.CloseCode(cause)
	action, ferr := m.policy.DecideError(cause, m.attempts)
	var tr transition
	switch action {
	case ActionStop:
		m.attempts = 0
		tr = m.setStateLocked(StateDisconnected)
	case ActionFail:
		m.lastErr = ferr
		tr = m.setStateLocked(StateError)
	case ActionRetry:
		m.attempts++
		next := m.epoch
		m.timer = time.AfterFunc(m.policy.Delay, func() { m.reconnect(next) })
		tr = m.setStateLocked(StateReconnecting)
	}
	attempt := m.attempts
	m.mu.Unlock()

	closeConn(conn, "")

	switch action {
	case ActionStop:
		slog.Info("session: closed by server", "session_id", m.id, "code", code)
	case ActionFail:
		slog.Error("session: giving up", "session_id", m.id, "code", code, "reason", ferr, "cause", cause)
	case ActionRetry:
		m.metrics.ReconnectAttempts.Add(context.Background(), 1)
		slog.Warn("session: connection lost, reconnect scheduled",
			"session_id", m.id,
			"code", code,
			"attempt", attempt,
			"max_attempts", m.policy.MaxAttempts,
			"delay", m.policy.Delay,
			"cause", cause,
		)
	}
	m.publish(tr)
	return action, ferr
}

// reconnect runs on the reconnect timer.
func (m *Manager) reconnect(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	attempt := m.attempts
	m.mu.Unlock()

	slog.Info("session: attempting reconnection", "session_id", m.id, "attempt", attempt)
	_ = m.open(context.Background(), epoch)
}

// detachLocked abandons the current transport: it stops the reconnect timer
// and connection loops, bumps the epoch and returns the transport for the
// caller to close after releasing the lock. m.mu must be held.
func (m *Manager) detachLocked() s2s.Conn {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.stopLoops != nil {
		m.stopLoops()
		m.stopLoops = nil
	}
	m.epoch++
	conn := m.conn
	m.conn = nil
	return conn
}

// setStateLocked records the new state and returns the transition to
// publish. m.mu must be held.
func (m *Manager) setStateLocked(s State) transition {
	tr := transition{from: m.state, to: s}
	m.state = s
	return tr
}

// publish notifies state observers of tr. No-op transitions are dropped.
func (m *Manager) publish(tr transition) {
	if tr.from == tr.to {
		return
	}
	m.metrics.RecordStateTransition(context.Background(), tr.from.String(), tr.to.String())
	slog.Debug("session: state changed", "session_id", m.id, "from", tr.from, "to", tr.to)

	m.obsMu.Lock()
	obs := slices.Clone(m.stateObs)
	m.obsMu.Unlock()
	for _, fn := range obs {
		fn(tr.from, tr.to)
	}
}

func closeConn(c s2s.Conn, reason string) {
	if c == nil {
		return
	}
	_ = c.Close(s2s.StatusNormalClosure, reason)
}

// ── Sending ────────────────────────────────────────────────────────────────────

// liveConn returns the transport if the session is connected.
func (m *Manager) liveConn() (s2s.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// SendText sends text as a complete user turn.
func (m *Manager) SendText(text string) error {
	conn, err := m.liveConn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Send(ctx, gemini.NewTextMessage(text)); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}
	m.metrics.RecordFrameSent(ctx, "text")
	return nil
}

// SendAudio streams frame as a realtime media chunk. Empty frames are
// ignored.
func (m *Manager) SendAudio(frame audio.AudioFrame) error {
	if frame.Empty() {
		return nil
	}
	conn, err := m.liveConn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Send(ctx, gemini.NewAudioMessage(frame)); err != nil {
		return fmt.Errorf("session: send audio: %w", err)
	}
	m.metrics.RecordFrameSent(ctx, "audio")
	return nil
}

// ── Receiving ──────────────────────────────────────────────────────────────────

// receiveLoop reads messages until the transport fails, then hands the close
// code to the reconnect policy.
func (m *Manager) receiveLoop(ctx context.Context, epoch uint64, conn s2s.Conn) {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			m.handleClosed(epoch, err)
			return
		}
		m.dispatch(data)
	}
}

// keepaliveLoop pings the transport until ctx is cancelled. Ping failures
// are left for the receive loop to surface.
func (m *Manager) keepaliveLoop(ctx context.Context, conn s2s.Conn) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.KeepaliveTimeout)
			if err := conn.Ping(pingCtx); err != nil && ctx.Err() == nil {
				slog.Debug("session: keepalive ping failed", "session_id", m.id, "err", err)
			}
			cancel()
		}
	}
}

// dispatch parses one inbound payload and fans it out to observers.
func (m *Manager) dispatch(data []byte) {
	ctx := context.Background()
	msg, err := gemini.ParseServerMessage(data)
	if err != nil {
		m.metrics.RecordDropped(ctx, "unparseable")
		m.dropLog.Do(func() {
			slog.Warn("session: dropping unparseable payload", "session_id", m.id, "bytes", len(data), "err", err)
		})
		return
	}

	m.obsMu.Lock()
	msgObs := slices.Clone(m.msgObs)
	audioObs := slices.Clone(m.audioObs)
	transcriptObs := slices.Clone(m.transcriptObs)
	m.obsMu.Unlock()

	for _, fn := range msgObs {
		fn(msg)
	}

	if msg.SetupComplete != nil {
		slog.Debug("session: setup complete", "session_id", m.id)
	}
	if msg.GoAway != nil {
		slog.Info("session: server going away", "session_id", m.id, "time_left", msg.GoAway.TimeLeft)
	}
	if msg.Error != nil {
		slog.Warn("session: server error", "session_id", m.id, "code", msg.Error.Code, "err", msg.Error)
		m.mu.Lock()
		m.lastErr = msg.Error
		m.mu.Unlock()
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	now := time.Now()
	for _, f := range msg.AudioFrames(now) {
		m.metrics.FramesReceived.Add(ctx, 1)
		for _, fn := range audioObs {
			fn(f)
		}
	}

	var transcripts []Transcript
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		transcripts = append(transcripts, Transcript{Role: RoleUser, Text: sc.InputTranscription.Text, Timestamp: now})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		transcripts = append(transcripts, Transcript{Role: RoleModel, Text: sc.OutputTranscription.Text, Timestamp: now})
	}
	if text := msg.Text(); text != "" {
		transcripts = append(transcripts, Transcript{Role: RoleModel, Text: text, Timestamp: now})
	}
	for _, t := range transcripts {
		for _, fn := range transcriptObs {
			fn(t)
		}
	}

	if sc.TurnComplete {
		slog.Debug("session: turn complete", "session_id", m.id)
	}
	if sc.Interrupted {
		slog.Debug("session: generation interrupted by server", "session_id", m.id)
	}
}
