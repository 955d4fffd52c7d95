package config

import (
	"reflect"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is reported as requiring a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged is true if the playback flush steps or fallback
	// delay changed.
	ThresholdsChanged bool
	NewFlushSteps     []FlushStep
	NewFallbackDelay  time.Duration

	// RestartRequired lists top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Playback.FlushSteps, new.Playback.FlushSteps) ||
		old.Playback.FallbackDelay != new.Playback.FallbackDelay {
		d.ThresholdsChanged = true
		d.NewFlushSteps = slices.Clone(new.Playback.FlushSteps)
		d.NewFallbackDelay = new.Playback.FallbackDelay
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Session, new.Session) {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Reconnect != new.Reconnect {
		d.RestartRequired = append(d.RestartRequired, "reconnect")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	oldPB, newPB := old.Playback, new.Playback
	oldPB.FlushSteps, newPB.FlushSteps = nil, nil
	oldPB.FallbackDelay, newPB.FallbackDelay = 0, 0
	if !reflect.DeepEqual(oldPB, newPB) {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}

	return d
}
