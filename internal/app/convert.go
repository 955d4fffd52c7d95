package app

import (
	"log/slog"

	"github.com/MrWong99/livevoice/internal/capture"
	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/playback"
	"github.com/MrWong99/livevoice/internal/session"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s/gemini"
)

// LogLevel converts a config log level to its slog equivalent. Unknown
// values map to info.
func LogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SessionConfig maps the session and reconnect sections onto
// [session.Config].
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Credential: session.CredentialRules{
			MinLength: cfg.Session.CredentialMinLength,
			Prefix:    cfg.Session.CredentialPrefix,
		},
		Reconnect: session.ReconnectPolicy{
			Delay:                 cfg.Reconnect.Delay,
			MaxAttempts:           cfg.Reconnect.MaxAttempts,
			InvalidCredentialCode: cfg.Reconnect.InvalidCredentialCode,
			QuotaExceededCode:     cfg.Reconnect.QuotaExceededCode,
		},
		DialTimeout:       cfg.Session.DialTimeout,
		KeepaliveInterval: cfg.Session.KeepaliveInterval,
		Greeting:          cfg.Session.Greeting,
	}
}

// SetupConfig maps the session section onto the setup message parameters.
func SetupConfig(cfg *config.Config) gemini.SetupConfig {
	s := cfg.Session
	return gemini.SetupConfig{
		Model:               s.Model,
		ResponseModalities:  s.ResponseModalities,
		Voice:               s.Voice,
		SystemInstruction:   s.SystemInstruction,
		InputTranscription:  s.InputTranscription,
		OutputTranscription: s.OutputTranscription,
	}
}

// CaptureConfig maps the capture section onto [capture.Config].
func CaptureConfig(cfg *config.Config) capture.Config {
	c := cfg.Capture
	cons := audio.DefaultConstraints()
	if c.DeviceRate > 0 {
		cons.SampleRate = c.DeviceRate
	}
	return capture.Config{
		TargetRate:    c.TargetRate,
		NoiseGate:     c.NoiseGate,
		GateThreshold: c.GateThreshold,
		LevelScale:    c.LevelScale,
		QueueSize:     c.QueueSize,
		ForceQueued:   c.Strategy == config.CaptureQueued,
		Constraints:   &cons,
	}
}

// PlaybackConfig maps the playback section onto [playback.Config].
func PlaybackConfig(cfg *config.Config) playback.Config {
	p := cfg.Playback
	return playback.Config{
		SourceRate: p.SourceRate,
		MinSamples: p.MinSamples,
		Thresholds: Thresholds(p),
		LevelScale: p.LevelScale,
	}
}

// Thresholds converts the configured flush steps.
func Thresholds(p config.PlaybackConfig) playback.Thresholds {
	t := playback.Thresholds{Fallback: p.FallbackDelay}
	for _, s := range p.FlushSteps {
		t.Steps = append(t.Steps, playback.Step{MinDepth: s.MinDepth, Delay: s.Delay})
	}
	return t
}
