package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
	"github.com/MrWong99/livevoice/pkg/provider/s2s/mock"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
session:
  model: gemini-live-test
  api_key_env: TEST_LIVE_KEY
  response_modalities: [AUDIO, TEXT]
  voice: Puck
  system_instruction: "You are terse."
  greeting: "Hello!"
  input_transcription: true
  dial_timeout: 3s
reconnect:
  delay: 500ms
  max_attempts: 3
  invalid_credential_code: 4001
  quota_exceeded_code: 4029
capture:
  device_rate: 44100
  noise_gate: true
  gate_threshold: 0.02
  strategy: queued
  queue_size: 16
playback:
  min_samples: 960
  flush_steps:
    - min_depth: 6
      delay: 10ms
    - min_depth: 2
      delay: 40ms
  fallback_delay: 100ms
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Session.Provider != config.DefaultProvider {
		t.Errorf("provider = %q, want default %q", cfg.Session.Provider, config.DefaultProvider)
	}
	if !slices.Equal(cfg.Session.ResponseModalities, []string{"AUDIO", "TEXT"}) {
		t.Errorf("response_modalities = %v", cfg.Session.ResponseModalities)
	}
	if cfg.Session.DialTimeout != 3*time.Second {
		t.Errorf("dial_timeout = %v, want 3s", cfg.Session.DialTimeout)
	}
	if cfg.Reconnect.Delay != 500*time.Millisecond || cfg.Reconnect.MaxAttempts != 3 {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Capture.DeviceRate != 44100 || cfg.Capture.TargetRate != config.DefaultTargetRate {
		t.Errorf("capture rates = %d/%d", cfg.Capture.DeviceRate, cfg.Capture.TargetRate)
	}
	if cfg.Capture.Strategy != config.CaptureQueued {
		t.Errorf("strategy = %q, want queued", cfg.Capture.Strategy)
	}
	wantSteps := []config.FlushStep{{MinDepth: 6, Delay: 10 * time.Millisecond}, {MinDepth: 2, Delay: 40 * time.Millisecond}}
	if !slices.Equal(cfg.Playback.FlushSteps, wantSteps) {
		t.Errorf("flush_steps = %+v, want %+v", cfg.Playback.FlushSteps, wantSteps)
	}
	if cfg.Playback.FallbackDelay != 100*time.Millisecond {
		t.Errorf("fallback_delay = %v, want 100ms", cfg.Playback.FallbackDelay)
	}
	if cfg.Playback.SourceRate != config.DefaultSourceRate {
		t.Errorf("source_rate = %d, want %d", cfg.Playback.SourceRate, config.DefaultSourceRate)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}
	def := config.Default()
	if cfg.Server != def.Server || cfg.Capture != def.Capture || cfg.Reconnect != def.Reconnect {
		t.Errorf("empty document should equal Default(), got %+v", cfg)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Session.APIKeyEnv != config.DefaultAPIKeyEnv {
		t.Errorf("api_key_env = %q", cfg.Session.APIKeyEnv)
	}
	if !slices.Equal(cfg.Session.ResponseModalities, []string{"AUDIO"}) {
		t.Errorf("response_modalities = %v", cfg.Session.ResponseModalities)
	}
	if cfg.Capture.DeviceRate != 48000 || cfg.Capture.TargetRate != 16000 {
		t.Errorf("capture rates = %d/%d", cfg.Capture.DeviceRate, cfg.Capture.TargetRate)
	}
	if cfg.Playback.MinSamples != 480 {
		t.Errorf("min_samples = %d, want 480", cfg.Playback.MinSamples)
	}
	if !slices.Equal(cfg.Playback.FlushSteps, config.DefaultFlushSteps()) {
		t.Errorf("flush_steps = %+v", cfg.Playback.FlushSteps)
	}
	if cfg.Playback.FallbackDelay != 150*time.Millisecond {
		t.Errorf("fallback_delay = %v, want 150ms", cfg.Playback.FallbackDelay)
	}
}

func TestApplyDefaults_KeepsExplicitFallback(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Playback: config.PlaybackConfig{
		FlushSteps:    []config.FlushStep{{MinDepth: 4, Delay: 5 * time.Millisecond}},
		FallbackDelay: 0,
	}}
	config.ApplyDefaults(cfg)
	if cfg.Playback.FallbackDelay != 0 {
		t.Errorf("fallback_delay = %v, want explicit zero kept with custom steps", cfg.Playback.FallbackDelay)
	}
	if len(cfg.Playback.FlushSteps) != 1 {
		t.Errorf("custom flush_steps replaced: %+v", cfg.Playback.FlushSteps)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("verbose should be invalid")
	}
}

func TestCaptureStrategy_IsValid(t *testing.T) {
	t.Parallel()
	if !config.CaptureAuto.IsValid() || !config.CaptureQueued.IsValid() {
		t.Error("auto and queued should be valid")
	}
	if config.CaptureStrategy("inline").IsValid() {
		t.Error("inline should be invalid")
	}
}

func TestRegistry_UnknownDialer(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateDialer(config.SessionConfig{Provider: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_UnknownKeyChecker(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateKeyChecker(config.SessionConfig{Provider: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredDialer(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &mock.Dialer{}
	var gotModel string
	reg.RegisterDialer("test", func(cfg config.SessionConfig) (s2s.Dialer, error) {
		gotModel = cfg.Model
		return want, nil
	})

	d, err := reg.CreateDialer(config.SessionConfig{Provider: "test", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != s2s.Dialer(want) {
		t.Error("factory result not returned")
	}
	if gotModel != "m1" {
		t.Errorf("factory saw model %q, want m1", gotModel)
	}
	if got := reg.Providers(); !slices.Equal(got, []string{"test"}) {
		t.Errorf("Providers() = %v", got)
	}
}

type stubChecker struct{}

func (stubChecker) Check(context.Context, string) error { return nil }

func TestRegistry_RegisteredKeyChecker(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterKeyChecker("test", func(config.SessionConfig) (config.KeyChecker, error) {
		return stubChecker{}, nil
	})
	kc, err := reg.CreateKeyChecker(config.SessionConfig{Provider: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := kc.Check(context.Background(), "k"); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterDialer("bad", func(config.SessionConfig) (s2s.Dialer, error) { return nil, boom })
	if _, err := reg.CreateDialer(config.SessionConfig{Provider: "bad"}); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}
