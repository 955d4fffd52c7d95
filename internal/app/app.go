// Package app wires the livevoice subsystems into a running application.
//
// New builds the session manager, capture and playback pipelines and the
// voice facade from a validated config plus the platform dependencies
// (transport dialer, microphone, speaker). Run connects, starts capture once
// the session is up, serves the observability endpoints and reads console
// commands until ctx is cancelled.
//
// Tests inject mock dependencies through [Deps] and redirect the console via
// [WithConsole].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livevoice/internal/capture"
	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/health"
	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/internal/playback"
	"github.com/MrWong99/livevoice/internal/session"
	"github.com/MrWong99/livevoice/internal/voice"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
	"github.com/MrWong99/livevoice/pkg/provider/s2s/gemini"
)

// shutdownTimeout bounds the HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

// ListenOff disables the HTTP endpoint when used as server.listen_addr.
const ListenOff = "off"

// Deps holds the platform dependencies. Dialer, Microphone and Speaker are
// required; KeyChecker is optional.
type Deps struct {
	Dialer     s2s.Dialer
	KeyChecker session.KeyChecker
	Microphone audio.Microphone
	Speaker    audio.OutputOpener
}

// App owns the voice session and its supporting endpoints.
type App struct {
	cfg        *config.Config
	credential string

	mgr      *session.Manager
	capture  *capture.Pipeline
	playback *playback.Pipeline
	voice    *voice.Voice

	metrics     *observe.Metrics
	metricsHTTP http.Handler
	level       *slog.LevelVar
	in          io.Reader
	out         io.Writer
	started     chan struct{}

	// muted is set by /mute and keeps reconnects from reopening the
	// microphone until /unmute.
	muted atomic.Bool
}

// Option is a functional option for New.
type Option func(*App)

// WithConsole redirects console input and output. Defaults to stdin/stdout.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// WithLevelVar lets hot reloads adjust the log level of the handler built
// around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics sets the metrics sink for every subsystem. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of the default Prometheus
// registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHTTP = h }
}

// New wires a voice session from cfg. credential is checked when Run
// connects, not here.
func New(cfg *config.Config, credential string, deps Deps, opts ...Option) (*App, error) {
	if deps.Dialer == nil || deps.Microphone == nil || deps.Speaker == nil {
		return nil, errors.New("app: dialer, microphone and speaker are required")
	}
	a := &App{
		cfg:        cfg,
		credential: credential,
		level:      new(slog.LevelVar),
		in:         os.Stdin,
		out:        os.Stdout,
		started:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHTTP == nil {
		a.metricsHTTP = promhttp.Handler()
	}

	mgrOpts := []session.Option{session.WithMetrics(a.metrics)}
	if deps.KeyChecker != nil && cfg.Session.ValidateKey {
		mgrOpts = append(mgrOpts, session.WithKeyChecker(deps.KeyChecker))
	}
	a.mgr = session.New(deps.Dialer, SessionConfig(cfg), mgrOpts...)
	a.capture = capture.New(deps.Microphone, a.mgr.SendAudio, CaptureConfig(cfg),
		capture.WithGate(voice.CaptureGate(a.mgr)),
		capture.WithMetrics(a.metrics),
	)
	a.playback = playback.New(deps.Speaker, PlaybackConfig(cfg), playback.WithMetrics(a.metrics))
	a.voice = voice.New(a.mgr, a.capture, a.playback)

	a.mgr.OnTranscript(func(t session.Transcript) {
		fmt.Fprintf(a.out, "[%s] %s\n", t.Role, t.Text)
	})
	a.mgr.OnStateChange(func(_, to session.State) {
		switch to {
		case session.StateConnected:
			go a.startCapture()
		case session.StateError:
			fmt.Fprintf(a.out, "session error: %v (type /reconnect to retry)\n", a.mgr.LastError())
		}
	})
	return a, nil
}

// Voice returns the voice session.
func (a *App) Voice() *voice.Voice { return a.voice }

// Started is closed once Run has issued the initial connect.
func (a *App) Started() <-chan struct{} { return a.started }

func (a *App) startCapture() {
	if a.muted.Load() {
		return
	}
	if err := a.voice.StartCapture(context.Background()); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return
		}
		slog.Warn("app: capture unavailable, text input still works", "err", err)
		fmt.Fprintf(a.out, "microphone: %v\n", err)
		return
	}
	// /mute may have raced the start.
	if a.muted.Load() {
		a.voice.StopCapture()
	}
}

// Setup builds the setup parameters sent on every connect.
func (a *App) Setup() gemini.SetupConfig { return SetupConfig(a.cfg) }

// Run connects the session and blocks until ctx is cancelled, the console
// receives /quit, or the credential is refused locally. The session is
// disconnected before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" && addr != ListenOff {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("app: serving observability endpoints", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err := a.voice.Connect(ctx, a.credential, a.Setup())
	close(a.started)
	switch {
	case errors.Is(err, session.ErrInvalidCredential), errors.Is(err, session.ErrCredentialRejected):
		a.voice.Disconnect()
		return err
	case err != nil && a.mgr.State() == session.StateError:
		slog.Error("app: initial connect failed, type /reconnect to retry", "err", err)
	case err != nil:
		slog.Warn("app: initial connect failed, reconnecting in background", "err", err)
	}

	g.Go(func() error { return a.console(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		a.voice.Disconnect()
		return nil
	})

	err = g.Wait()
	a.voice.Disconnect()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handler returns the HTTP handler serving /metrics, /healthz, /readyz and
// /status.
func (a *App) Handler() http.Handler {
	h := health.New([]health.Checker{{
		Name: "session",
		Check: func(context.Context) error {
			if st := a.mgr.State(); st != session.StateConnected {
				return fmt.Errorf("session is %s", st)
			}
			return nil
		},
	}}, health.WithStatus(func() any { return a.voice.Status() }))

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metricsHTTP)
	h.Register(mux)
	return observe.Middleware(a.metrics, observe.WithQuietPaths("/metrics", "/healthz", "/readyz"))(mux)
}

// Reload applies the hot-reloadable parts of a config change and logs the
// sections that need a restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(LogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdsChanged {
		a.playback.SetThresholds(Thresholds(new.Playback))
		slog.Info("app: playback thresholds changed", "steps", len(d.NewFlushSteps), "fallback", d.NewFallbackDelay)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes require a restart", "sections", d.RestartRequired)
	}
}
