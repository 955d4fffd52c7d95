// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for livevoice.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CaptureStrategy selects how captured blocks are processed.
type CaptureStrategy string

const (
	// CaptureAuto processes on the device callback when the device supports
	// it and falls back to a worker otherwise.
	CaptureAuto CaptureStrategy = "auto"

	// CaptureQueued always processes on a worker goroutine.
	CaptureQueued CaptureStrategy = "queued"
)

// IsValid reports whether s is a recognised capture strategy.
func (s CaptureStrategy) IsValid() bool {
	return s == CaptureAuto || s == CaptureQueued
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":9090"
	DefaultProvider      = "gemini-live"
	DefaultModel         = "gemini-2.0-flash-live-001"
	DefaultAPIKeyEnv     = "GEMINI_API_KEY"
	DefaultDeviceRate    = 48000
	DefaultTargetRate    = 16000
	DefaultSourceRate    = 24000
	DefaultMinSamples    = 480
	DefaultGateThreshold = 0.01
	DefaultLevelScale    = 5.0
)

// Config is the root configuration structure for livevoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz.
	// "off" disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// SessionConfig configures the connection to the speech backend.
type SessionConfig struct {
	// Provider selects the registered backend. Defaults to "gemini-live".
	Provider string `yaml:"provider"`

	// Model is the backend model name.
	Model string `yaml:"model"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the credential.
	// Defaults to GEMINI_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`

	// ResponseModalities requested from the model. Defaults to ["AUDIO"].
	ResponseModalities []string `yaml:"response_modalities"`

	// Voice selects a prebuilt voice.
	Voice string `yaml:"voice"`

	// SystemInstruction is sent with the setup message.
	SystemInstruction string `yaml:"system_instruction"`

	// Greeting is sent as a text turn after the first successful connect.
	Greeting string `yaml:"greeting"`

	// ValidateKey enables a remote credential check before connecting.
	ValidateKey bool `yaml:"validate_key"`

	// InputTranscription and OutputTranscription request transcripts.
	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`

	// CredentialMinLength and CredentialPrefix describe the credential shape.
	CredentialMinLength int    `yaml:"credential_min_length"`
	CredentialPrefix    string `yaml:"credential_prefix"`

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// KeepaliveInterval between transport pings. Negative disables.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// ReconnectConfig configures the reconnect policy.
type ReconnectConfig struct {
	Delay                 time.Duration `yaml:"delay"`
	MaxAttempts           int           `yaml:"max_attempts"`
	InvalidCredentialCode int           `yaml:"invalid_credential_code"`
	QuotaExceededCode     int           `yaml:"quota_exceeded_code"`
}

// CaptureConfig configures the capture pipeline.
type CaptureConfig struct {
	// DeviceRate is the rate the microphone is opened at.
	DeviceRate int `yaml:"device_rate"`

	// TargetRate of frames sent to the backend.
	TargetRate int `yaml:"target_rate"`

	NoiseGate     bool    `yaml:"noise_gate"`
	GateThreshold float32 `yaml:"gate_threshold"`
	LevelScale    float64 `yaml:"level_scale"`

	// Strategy is "auto" or "queued".
	Strategy  CaptureStrategy `yaml:"strategy"`
	QueueSize int             `yaml:"queue_size"`
}

// FlushStep maps a minimum jitter buffer depth to a flush delay.
type FlushStep struct {
	MinDepth int           `yaml:"min_depth"`
	Delay    time.Duration `yaml:"delay"`
}

// PlaybackConfig configures the playback pipeline.
type PlaybackConfig struct {
	SourceRate int     `yaml:"source_rate"`
	MinSamples int     `yaml:"min_samples"`
	LevelScale float64 `yaml:"level_scale"`

	// FlushSteps are checked in order; the first reached depth wins.
	// Hot-reloadable.
	FlushSteps []FlushStep `yaml:"flush_steps"`

	// FallbackDelay applies below every step. Hot-reloadable.
	FallbackDelay time.Duration `yaml:"fallback_delay"`
}

// DefaultFlushSteps returns the default flush thresholds.
func DefaultFlushSteps() []FlushStep {
	return []FlushStep{
		{MinDepth: 8, Delay: 0},
		{MinDepth: 5, Delay: 25 * time.Millisecond},
		{MinDepth: 3, Delay: 75 * time.Millisecond},
	}
}

// ApplyDefaults fills zero-valued fields of cfg with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	s := &cfg.Session
	if s.Provider == "" {
		s.Provider = DefaultProvider
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.APIKeyEnv == "" {
		s.APIKeyEnv = DefaultAPIKeyEnv
	}
	if len(s.ResponseModalities) == 0 {
		s.ResponseModalities = []string{"AUDIO"}
	}

	c := &cfg.Capture
	if c.DeviceRate == 0 {
		c.DeviceRate = DefaultDeviceRate
	}
	if c.TargetRate == 0 {
		c.TargetRate = DefaultTargetRate
	}
	if c.GateThreshold == 0 {
		c.GateThreshold = DefaultGateThreshold
	}
	if c.LevelScale == 0 {
		c.LevelScale = DefaultLevelScale
	}
	if c.Strategy == "" {
		c.Strategy = CaptureAuto
	}

	p := &cfg.Playback
	if p.SourceRate == 0 {
		p.SourceRate = DefaultSourceRate
	}
	if p.MinSamples == 0 {
		p.MinSamples = DefaultMinSamples
	}
	if p.LevelScale == 0 {
		p.LevelScale = DefaultLevelScale
	}
	if len(p.FlushSteps) == 0 {
		p.FlushSteps = DefaultFlushSteps()
		if p.FallbackDelay == 0 {
			p.FallbackDelay = 150 * time.Millisecond
		}
	}
}
