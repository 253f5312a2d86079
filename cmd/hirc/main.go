package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halfwit/hircd/internal/config"
	"github.com/halfwit/hircd/internal/log"
	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/termclient"
)

func main() {
	var flagSocket, flagServer, flagChannel string

	root := &cobra.Command{
		Use:           "hirc",
		Short:         "Thin terminal client for hircd",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flagSocket, flagServer, flagChannel)
		},
	}
	root.Flags().StringVar(&flagSocket, "socket", "", "path to hircd's local socket (default: platform default)")
	root.Flags().StringVar(&flagServer, "server", "", "preselect this server's channel as the initial view")
	root.Flags().StringVar(&flagChannel, "channel", "", "preselect this channel as the initial view")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hirc: %v\n", err)
		os.Exit(1)
	}
}

func run(flagSocket, flagServer, flagChannel string) error {
	socketPath := flagSocket
	if socketPath == "" {
		socketPath = config.DefaultSocketPath()
	}

	logFile, err := os.OpenFile("hirc.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := log.NewTo(logFile, "info")

	client, err := termclient.Dial(socketPath, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer client.Close()

	if flagServer != "" && flagChannel != "" {
		client.PreferInitialChannel(model.ChannelId{Server: model.ServerName(flagServer), Channel: model.ChannelName(flagChannel)})
	}

	return client.Run(os.Stdin)
}
