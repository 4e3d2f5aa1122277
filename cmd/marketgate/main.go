package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketgate/marketgate/internal/app"
	"github.com/marketgate/marketgate/internal/config"
)

const (
	appName = "marketgate"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-source financial data gateway",
		Version: version,
		Long: `MarketGate arbitrates between market data providers, caches the
results, watches for anomalies, and serves compliance-filtered answers
over HTTP and WebSocket.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/providers.yaml", "path to the YAML configuration")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}

			application, err := app.New(settings)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return application.Run(ctx)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(configPath)
			if err != nil {
				return err
			}

			enabled := 0
			for _, p := range settings.Providers {
				if p.Enabled {
					enabled++
				}
			}
			fmt.Printf("config ok: %d providers enabled, listening on %s\n", enabled, settings.Server.Addr)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
