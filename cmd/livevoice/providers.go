package main

import (
	"log/slog"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
	geminilive "github.com/MrWong99/livevoice/pkg/provider/s2s/gemini"
)

// registerBuiltinProviders wires the built-in backend factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterDialer(config.DefaultProvider, func(sc config.SessionConfig) (s2s.Dialer, error) {
		var opts []geminilive.Option
		if sc.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(sc.BaseURL))
		}
		return geminilive.NewDialer(opts...), nil
	})
	reg.RegisterKeyChecker(config.DefaultProvider, func(sc config.SessionConfig) (config.KeyChecker, error) {
		return geminilive.NewKeyChecker(sc.Model), nil
	})

	for _, name := range reg.Providers() {
		slog.Debug("registered provider", "name", name)
	}
}
