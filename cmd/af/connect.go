package main

import (
	"fmt"
	"os"

	"github.com/agentfloor/agentfloor/internal/logging"
	"github.com/agentfloor/agentfloor/internal/relay"
	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	var (
		dir      string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Relay queued messages between the hub and the local executor",
		Long: `Polls the hub every 2 seconds for messages queued to this project's agent,
forwards each to the local executor and reports the answer back. Reads
.agentfloor/config.json from the project or any parent directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, dir, logLevel)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory to search for .agentfloor/config.json")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func runConnect(cmd *cobra.Command, dir, logLevel string) error {
	if dir == "." {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
	}
	cfg, err := relay.LoadLocalConfig(dir)
	if err != nil {
		if relay.IsNotExist(err) {
			return fmt.Errorf("%w; run \"af link\" first", err)
		}
		return err
	}

	client, err := relay.NewHubClient(relay.HubClientOpts{BaseURL: cfg.HubURL, AgentID: cfg.AgentID, Token: cfg.PollToken})
	if err != nil {
		return err
	}
	log := logging.New(cmd.ErrOrStderr(), logLevel, "console")
	worker, err := relay.NewWorker(relay.WorkerOpts{
		Hub:    client,
		Runner: relay.NewExecutor(cfg.ExecutorURL, nil),
		Logger: logging.Component(log, "relay"),
	})
	if err != nil {
		return err
	}

	name := cfg.AgentName
	if name == "" {
		name = cfg.AgentID
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "AgentFloor Connector")
	fmt.Fprintf(out, "  Agent:    %s\n", name)
	fmt.Fprintf(out, "  Hub:      %s\n", cfg.HubURL)
	fmt.Fprintf(out, "  Executor: %s\n", cfg.ExecutorURL)
	fmt.Fprintf(out, "Polling every %s... (Ctrl+C to stop)\n", relay.DefaultInterval)

	ctx, cancel := signalContext(cmd)
	defer cancel()
	return worker.Run(ctx)
}
