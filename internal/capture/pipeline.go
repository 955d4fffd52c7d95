// Package capture turns microphone input into 16 kHz int16 frames for the
// session.
//
// A [Pipeline] opens the microphone, meters the input level, optionally
// applies a noise gate, resamples to the target rate and hands each
// resulting [audio.AudioFrame] to a sink, normally the session manager's
// SendAudio. Frames are only produced while the gate reports the session as
// connected; audio captured during a reconnect gap is dropped.
//
// Blocks are processed on the device's realtime callback when the device
// supports it ([StrategyCallback]). Otherwise each block is copied onto a
// bounded queue and processed by a worker goroutine ([StrategyQueued]).
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
)

// Strategy selects where captured blocks are processed.
type Strategy int

const (
	// StrategyCallback processes blocks inline on the device callback.
	StrategyCallback Strategy = iota

	// StrategyQueued copies blocks to a worker goroutine.
	StrategyQueued
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case StrategyCallback:
		return "callback"
	case StrategyQueued:
		return "queued"
	default:
		return "unknown"
	}
}

const defaultQueueSize = 32

// FrameSink receives every frame produced while the gate is open.
type FrameSink func(audio.AudioFrame) error

// Config configures a [Pipeline]. Zero values select defaults.
type Config struct {
	// TargetRate of produced frames. Defaults to 16 kHz.
	TargetRate int

	// NoiseGate enables zeroing of samples below GateThreshold.
	NoiseGate bool

	// GateThreshold defaults to [audio.DefaultGateThreshold].
	GateThreshold float32

	// LevelScale is passed to [audio.Level]. Defaults to 5.
	LevelScale float64

	// QueueSize bounds the block queue of [StrategyQueued]. Defaults to 32.
	QueueSize int

	// ForceQueued disables [StrategyCallback] even on realtime devices.
	ForceQueued bool

	// Constraints requested from the microphone. Defaults to
	// [audio.DefaultConstraints].
	Constraints *audio.Constraints
}

func (c Config) withDefaults() Config {
	if c.TargetRate <= 0 {
		c.TargetRate = audio.CaptureRate
	}
	if c.GateThreshold <= 0 {
		c.GateThreshold = audio.DefaultGateThreshold
	}
	if c.LevelScale <= 0 {
		c.LevelScale = audio.DefaultLevelScale
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Constraints == nil {
		dc := audio.DefaultConstraints()
		c.Constraints = &dc
	}
	return c
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithGate sets the predicate that decides whether frames are forwarded.
// Without one every frame is forwarded.
func WithGate(open func() bool) Option {
	return func(p *Pipeline) { p.gate = open }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline is the capture pipeline.
//
// All exported methods are safe for concurrent use.
type Pipeline struct {
	mic     audio.Microphone
	sink    FrameSink
	gate    func() bool
	cfg     Config
	metrics *observe.Metrics
	dropLog rate.Sometimes

	level atomic.Uint64 // math.Float64bits of the last block level

	startMu sync.Mutex // serializes Start

	mu        sync.Mutex
	stopGen   uint64 // bumped by Stop so an in-flight Start backs out
	stream    audio.InputStream
	strategy  Strategy
	recording bool
	err       error
	done      chan struct{} // closed when the current capture ends
	wg        sync.WaitGroup
}

// New creates a stopped Pipeline reading from mic and writing to sink.
func New(mic audio.Microphone, sink FrameSink, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:     mic,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		dropLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Start opens the microphone and begins producing frames. Calling Start
// while recording is a no-op, and concurrent calls open the device once. A
// Stop issued while Start is still opening the device wins: the new stream is
// closed again. Device failures are returned as [*audio.DeviceError] and also
// reported by [Pipeline.Err].
func (p *Pipeline) Start(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.mu.Lock()
	if p.recording {
		p.mu.Unlock()
		return nil
	}
	gen := p.stopGen
	p.mu.Unlock()

	stream, err := p.mic.Open(ctx, *p.cfg.Constraints)
	if err != nil {
		return p.startFailed(ctx, err)
	}

	format := stream.Format()
	conv := &audio.FormatConverter{Target: audio.Format{SampleRate: p.cfg.TargetRate, Channels: 1}}
	done := make(chan struct{})

	strategy := StrategyQueued
	if stream.Capabilities().RealtimeCallback && !p.cfg.ForceQueued {
		strategy = StrategyCallback
	}

	if strategy == StrategyCallback {
		err = stream.Start(func(block []float32) { p.process(block, format, conv) }, true)
		if errors.Is(err, audio.ErrCallbackUnsupported) {
			slog.Info("capture: realtime callback unavailable, falling back to queued processing")
			strategy = StrategyQueued
			err = nil
		}
	}
	if err == nil && strategy == StrategyQueued {
		queue := make(chan []float32, p.cfg.QueueSize)
		p.wg.Add(1)
		go p.worker(queue, done, format, conv)
		err = stream.Start(func(block []float32) { p.enqueue(queue, block) }, false)
	}
	if err != nil {
		close(done)
		_ = stream.Close()
		p.wg.Wait()
		return p.startFailed(ctx, err)
	}

	p.mu.Lock()
	if p.stopGen != gen {
		p.mu.Unlock()
		close(done)
		_ = stream.Close()
		p.wg.Wait()
		slog.Info("capture: stopped before start completed")
		return nil
	}
	p.stream = stream
	p.strategy = strategy
	p.recording = true
	p.err = nil
	p.done = done
	p.mu.Unlock()

	go p.watchErrors(stream.Errors(), done)

	slog.Info("capture: started",
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"target_rate", p.cfg.TargetRate,
		"strategy", strategy,
		"noise_gate", p.cfg.NoiseGate,
	)
	return nil
}

func (p *Pipeline) startFailed(ctx context.Context, err error) error {
	de := audio.ClassifyDeviceError(err)
	p.metrics.RecordDeviceError(ctx, de.Kind.String())
	slog.Warn("capture: start failed", "kind", de.Kind, "err", err)

	p.mu.Lock()
	p.err = de
	p.mu.Unlock()
	return de
}

// Stop ends capture and releases the device. It is idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopGen++
	stream := p.detachLocked()
	p.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			slog.Warn("capture: closing stream failed", "err", err)
		}
		slog.Info("capture: stopped")
	}
	p.wg.Wait()
	p.setLevel(0)
}

// Recording reports whether the microphone is open and producing blocks.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// Strategy returns the processing strategy of the current or last capture.
func (p *Pipeline) Strategy() Strategy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strategy
}

// Err returns the error that ended or prevented the last capture, or nil.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Level returns the input level of the most recent block in [0, 1].
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

func (p *Pipeline) setLevel(v float64) {
	p.level.Store(math.Float64bits(v))
}

// detachLocked marks capture stopped and returns the stream to close.
// p.mu must be held.
func (p *Pipeline) detachLocked() audio.InputStream {
	if !p.recording {
		return nil
	}
	p.recording = false
	close(p.done)
	stream := p.stream
	p.stream = nil
	return stream
}

// fail stops capture after a mid-stream failure. The session is untouched.
func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	stream := p.detachLocked()
	if stream != nil {
		p.err = err
	}
	p.mu.Unlock()

	if stream == nil {
		return
	}
	slog.Error("capture: stopped after failure", "err", err)
	_ = stream.Close()
	p.setLevel(0)
}

// watchErrors stops capture on the first asynchronous device error.
func (p *Pipeline) watchErrors(errs <-chan error, done <-chan struct{}) {
	if errs == nil {
		return
	}
	select {
	case err, ok := <-errs:
		if !ok || err == nil {
			return
		}
		de := audio.ClassifyDeviceError(err)
		p.metrics.RecordDeviceError(context.Background(), de.Kind.String())
		p.fail(de)
	case <-done:
	}
}

func (p *Pipeline) enqueue(queue chan<- []float32, block []float32) {
	select {
	case queue <- slices.Clone(block):
	default:
		p.metrics.RecordDropped(context.Background(), "capture_queue_full")
		p.dropLog.Do(func() {
			slog.Warn("capture: processing queue full, dropping block", "samples", len(block))
		})
	}
}

func (p *Pipeline) worker(queue <-chan []float32, done <-chan struct{}, format audio.Format, conv *audio.FormatConverter) {
	defer p.wg.Done()
	for {
		select {
		case block := <-queue:
			p.process(block, format, conv)
		case <-done:
			return
		}
	}
}

// process converts one block into a frame and forwards it. It never panics:
// a panic stops capture with an error instead. Closing the stream from the
// device callback itself is not allowed, so the stop runs on a new goroutine.
func (p *Pipeline) process(block []float32, format audio.Format, conv *audio.FormatConverter) {
	defer func() {
		if r := recover(); r != nil {
			go p.fail(fmt.Errorf("capture: processing panicked: %v", r))
		}
	}()

	p.setLevel(audio.Level(block, p.cfg.LevelScale))

	if p.gate != nil && !p.gate() {
		p.metrics.RecordDropped(context.Background(), "not_connected")
		return
	}

	work := block
	if p.cfg.NoiseGate {
		work = audio.NoiseGate{Threshold: p.cfg.GateThreshold}.Apply(slices.Clone(block))
	}
	samples := audio.Float32ToSamples(conv.Convert(work, format))
	if len(samples) == 0 {
		return
	}

	frame := audio.AudioFrame{Samples: samples, SampleRate: p.cfg.TargetRate, Timestamp: time.Now()}
	if err := p.sink(frame); err != nil {
		p.metrics.RecordDropped(context.Background(), "send_failed")
		p.dropLog.Do(func() {
			slog.Warn("capture: dropping frame", "samples", len(samples), "err", err)
		})
	}
}
