package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/hueni/internal/app"
	"github.com/dokzlo13/hueni/internal/config"
	"github.com/dokzlo13/hueni/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run the reconciliation loop",
	Long: `Run connects to the bridge (pairing on first use), snapshots the natural state
of every light and then polls departures every interval until interrupted or until
--duration has elapsed. Lights are restored before exit.

Examples:
  # Run with the settings from the file
  hueni run hueni.yaml

  # Override the bridge and run for one hour
  hueni run hueni.yaml --bridge 192.168.1.20 --duration 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

type runOverrides struct {
	bridge    string
	tokenFile string
	interval  time.Duration
	duration  time.Duration
}

var runFlags runOverrides

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runFlags.bridge, "bridge", "", "Hue bridge address (overrides hue.bridge)")
	runCmd.Flags().StringVar(&runFlags.tokenFile, "token-file", "", "File holding the 511 API token (overrides transit.token_file)")
	runCmd.Flags().DurationVar(&runFlags.interval, "interval", 0, "Poll interval (overrides poll.interval)")
	runCmd.Flags().DurationVar(&runFlags.duration, "duration", 0, "Stop after this long (overrides poll.duration)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	runFlags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-json") {
		setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)
	}
	log.Info().Str("config", args[0]).Str("version", version).Msg("Starting hueni")

	ctx := app.SignalContext()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, version)
	if err != nil {
		return err
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, cfg.Metrics.Endpoint, cfg.Metrics.Insecure, cfg.Metrics.Interval.Duration(), version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
		defer cancel()
		shutdownMetrics(flushCtx)
		shutdownTracing(flushCtx)
	}()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	if err := application.Setup(ctx); err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	return application.Run(ctx)
}

// apply copies the flags that were set over the loaded configuration.
func (o runOverrides) apply(cfg *config.Config) {
	if o.bridge != "" {
		cfg.Hue.Bridge = o.bridge
	}
	if o.tokenFile != "" {
		cfg.Transit.TokenFile = o.tokenFile
		cfg.Transit.Token = ""
	}
	if o.interval > 0 {
		cfg.Poll.Interval = config.Duration(o.interval)
	}
	if o.duration > 0 {
		cfg.Poll.Duration = config.Duration(o.duration)
	}
}
