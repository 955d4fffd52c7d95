package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// KnownModalities lists response modalities the backend accepts.
var KnownModalities = []string{"AUDIO", "TEXT"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default config.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Session
	s := cfg.Session
	for i, m := range s.ResponseModalities {
		if !slices.Contains(KnownModalities, strings.ToUpper(m)) {
			errs = append(errs, fmt.Errorf("session.response_modalities[%d] %q is invalid; valid values: AUDIO, TEXT", i, m))
		}
	}
	if s.CredentialMinLength < 0 {
		errs = append(errs, errors.New("session.credential_min_length must not be negative"))
	}
	if s.DialTimeout < 0 {
		errs = append(errs, errors.New("session.dial_timeout must not be negative"))
	}
	if s.BaseURL != "" && !strings.HasPrefix(s.BaseURL, "ws://") && !strings.HasPrefix(s.BaseURL, "wss://") {
		errs = append(errs, fmt.Errorf("session.base_url %q must use ws:// or wss://", s.BaseURL))
	}
	if s.ValidateKey && s.APIKeyEnv == "" {
		slog.Warn("session.validate_key is set but session.api_key_env is empty")
	}

	// Reconnect
	rc := cfg.Reconnect
	if rc.Delay < 0 {
		errs = append(errs, errors.New("reconnect.delay must not be negative"))
	}
	if rc.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	for name, code := range map[string]int{
		"invalid_credential_code": rc.InvalidCredentialCode,
		"quota_exceeded_code":     rc.QuotaExceededCode,
	} {
		if code != 0 && (code < 4000 || code > 4999) {
			errs = append(errs, fmt.Errorf("reconnect.%s %d must be an application close code in [4000, 4999]", name, code))
		}
	}
	if rc.InvalidCredentialCode != 0 && rc.InvalidCredentialCode == rc.QuotaExceededCode {
		errs = append(errs, errors.New("reconnect.invalid_credential_code and reconnect.quota_exceeded_code must differ"))
	}

	// Capture
	c := cfg.Capture
	if c.DeviceRate < 0 || c.TargetRate < 0 {
		errs = append(errs, errors.New("capture rates must not be negative"))
	}
	if c.GateThreshold < 0 || c.GateThreshold >= 1 {
		errs = append(errs, fmt.Errorf("capture.gate_threshold %.3f is out of range [0, 1)", c.GateThreshold))
	}
	if c.LevelScale < 0 {
		errs = append(errs, errors.New("capture.level_scale must not be negative"))
	}
	if c.Strategy != "" && !c.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("capture.strategy %q is invalid; valid values: auto, queued", c.Strategy))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("capture.queue_size must not be negative"))
	}

	// Playback
	errs = append(errs, validatePlayback(cfg.Playback)...)

	return errors.Join(errs...)
}

func validatePlayback(p PlaybackConfig) []error {
	var errs []error
	if p.SourceRate < 0 {
		errs = append(errs, errors.New("playback.source_rate must not be negative"))
	}
	if p.MinSamples < 0 {
		errs = append(errs, errors.New("playback.min_samples must not be negative"))
	}
	if p.LevelScale < 0 {
		errs = append(errs, errors.New("playback.level_scale must not be negative"))
	}
	for i, s := range p.FlushSteps {
		prefix := fmt.Sprintf("playback.flush_steps[%d]", i)
		if s.MinDepth < 1 {
			errs = append(errs, fmt.Errorf("%s.min_depth must be at least 1", prefix))
		}
		if s.Delay < 0 {
			errs = append(errs, fmt.Errorf("%s.delay must not be negative", prefix))
		}
		if i > 0 && s.MinDepth >= p.FlushSteps[i-1].MinDepth {
			errs = append(errs, fmt.Errorf("%s.min_depth must be lower than the previous step", prefix))
		}
	}
	if p.FallbackDelay < 0 {
		errs = append(errs, errors.New("playback.fallback_delay must not be negative"))
	}
	return errs
}

// LoadDotEnv loads environment variables from the given .env files (default
// ".env") without overriding variables that are already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded environment file", "path", p)
	}
	return nil
}

// APIKey returns the credential from the environment variable named by
// cfg.Session.APIKeyEnv, with surrounding whitespace removed.
func APIKey(cfg *Config) string {
	env := cfg.Session.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}
