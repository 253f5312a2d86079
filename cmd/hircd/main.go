package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/halfwit/hircd/internal/config"
	"github.com/halfwit/hircd/internal/daemon"
	"github.com/halfwit/hircd/internal/log"
)

func main() {
	var (
		flagSocket   string
		flagConfig   string
		flagLogLevel string
	)

	root := &cobra.Command{
		Use:           "hircd",
		Short:         "Multiplex several IRC connections behind one local socket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flagSocket, flagConfig, flagLogLevel)
		},
	}

	root.Flags().StringVar(&flagSocket, "socket", "", "path to the local socket (overrides config)")
	root.Flags().StringVar(&flagConfig, "config", "", "path to config.yaml (default: platform config dir)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn, or error (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hircd: %v\n", err)
		os.Exit(1)
	}
}

func run(flagSocket, flagConfig, flagLogLevel string) error {
	bootstrap := log.New("info")

	cfg, path, err := config.Load(bootstrap, flagConfig)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.UpdateFrom(config.Config{SocketPath: flagSocket, LogLevel: flagLogLevel})

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", path).Str("socket", cfg.SocketPath).Int("servers", len(cfg.Servers)).Msg("starting hircd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, logger)
	if err := d.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("hircd exited with error")
	}
	logger.Info().Msg("hircd stopped")
	return nil
}
