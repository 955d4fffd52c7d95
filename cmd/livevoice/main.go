// Command livevoice runs a realtime voice conversation with a Gemini Live
// model from the terminal: microphone in, speaker out, typed text as extra
// user turns.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livevoice/internal/app"
	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio/miniaudio"
)

// version is set at build time via -ldflags.
var version = "dev"

type globalFlags struct {
	configPath string
	envFiles   []string
	watch      bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "livevoice",
		Short:         "Realtime voice session with a Gemini Live model",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), g, cmd.Flags().Changed("config"))
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "livevoice.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the API key")
	root.Flags().BoolVar(&g.watch, "watch", true, "hot-reload log level and playback thresholds when the config file changes")

	run := &cobra.Command{
		Use:   "run",
		Short: "Connect, capture the microphone and play model audio (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), g, cmd.Flags().Changed("config"))
		},
	}
	run.Flags().BoolVar(&g.watch, "watch", true, "hot-reload log level and playback thresholds when the config file changes")

	root.AddCommand(run, newCheckKeyCmd(&g), newDevicesCmd())
	return root
}

// loadConfig loads the config at g.configPath. A missing file at the default
// path yields the default config; an explicitly named file must exist.
func loadConfig(g globalFlags, explicit bool) (*config.Config, bool, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return nil, false, err
	}
	cfg, err := config.Load(g.configPath)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		slog.Info("no config file found, using defaults", "path", g.configPath)
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.LogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func runSession(parent context.Context, g globalFlags, explicit bool) error {
	cfg, fromFile, err := loadConfig(g, explicit)
	if err != nil {
		return err
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("livevoice starting",
		"version", version,
		"config", g.configPath,
		"model", cfg.Session.Model,
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	dialer, err := reg.CreateDialer(cfg.Session)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	var keyChecker config.KeyChecker
	if cfg.Session.ValidateKey {
		if keyChecker, err = reg.CreateKeyChecker(cfg.Session); err != nil {
			return fmt.Errorf("create key checker: %w", err)
		}
	}

	dev, err := miniaudio.Init()
	if err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer dev.Close()

	a, err := app.New(cfg, config.APIKey(cfg), app.Deps{
		Dialer:     dialer,
		KeyChecker: keyChecker,
		Microphone: dev.Microphone(cfg.Capture.DeviceRate),
		Speaker:    dev.OpenSpeaker,
	},
		app.WithLevelVar(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		return err
	}

	if g.watch && fromFile {
		w, err := config.NewWatcher(g.configPath, a.Reload)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	fmt.Fprintln(os.Stdout, "livevoice: speak, or type a message and press enter (/help for commands)")
	if err := a.Run(ctx); err != nil {
		slog.Error("session ended", "err", err)
		return err
	}
	slog.Info("goodbye")
	return nil
}
