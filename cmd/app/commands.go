package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"AutoTrader/internal/di"
	"AutoTrader/pkg/config"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "autotrader",
		Short:         "Crypto trading decision and risk-management service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newRunCmd(load),
		newReconcileCmd(load),
		newCheckConfigCmd(load),
	)
	return root
}

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading cadences and the ops API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			defer cleanup()
			return app.Run(cmd.Context())
		},
	}
}

func newReconcileCmd(load func() (*config.Config, error)) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle pending orders and align positions with exchange holdings, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			rep, err := app.Reconcile(ctx)
			if rep != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(rep)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall reconcile timeout")
	return cmd
}

func newCheckConfigCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Exchange.Bridge.APIKey = mask(redacted.Exchange.Bridge.APIKey)
			redacted.Telegram.BotToken = mask(redacted.Telegram.BotToken)
			redacted.Store.Redis.Password = mask(redacted.Store.Redis.Password)
			redacted.ClickHouse.Password = mask(redacted.ClickHouse.Password)
			redacted.Verification.Verifiers = append(redacted.Verification.Verifiers[:0:0], cfg.Verification.Verifiers...)
			for i := range redacted.Verification.Verifiers {
				redacted.Verification.Verifiers[i].APIKey = mask(redacted.Verification.Verifiers[i].APIKey)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(redacted)
		},
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
