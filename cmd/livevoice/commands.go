package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/session"
	"github.com/MrWong99/livevoice/pkg/audio/miniaudio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s/gemini"
)

// keyCheckTimeout bounds the remote credential check.
const keyCheckTimeout = 15 * time.Second

func newCheckKeyCmd(g *globalFlags) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "check-key",
		Short: "Validate the API key shape and, unless --offline, ask the API to accept it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*g, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			key := config.APIKey(cfg)
			rules := session.CredentialRules{
				MinLength: cfg.Session.CredentialMinLength,
				Prefix:    cfg.Session.CredentialPrefix,
			}
			if err := session.ValidateCredential(key, rules); err != nil {
				return fmt.Errorf("%s: %w", cfg.Session.APIKeyEnv, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: format ok\n", cfg.Session.APIKeyEnv)
			if offline {
				return nil
			}

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			kc, err := reg.CreateKeyChecker(cfg.Session)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), keyCheckTimeout)
			defer cancel()
			if err := kc.Check(ctx, key); err != nil {
				if errors.Is(err, gemini.ErrKeyRejected) {
					return fmt.Errorf("%s: %w", cfg.Session.APIKeyEnv, session.ErrCredentialRejected)
				}
				return fmt.Errorf("remote check: %w", err)
			}
			fmt.Fprintf(out, "%s: accepted by %s\n", cfg.Session.APIKeyEnv, cfg.Session.Model)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "only check the key format")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture and playback devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := miniaudio.Init()
			if err != nil {
				return err
			}
			defer dev.Close()

			infos, err := dev.Devices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "no audio devices found")
				return nil
			}
			for _, d := range infos {
				kind := "playback"
				if d.Capture {
					kind = "capture"
				}
				fmt.Fprintf(out, "%-8s  %s\n", kind, d.Name)
			}
			return nil
		},
	}
}
