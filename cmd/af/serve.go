package main

import (
	"fmt"

	"github.com/agentfloor/agentfloor/internal/db"
	"github.com/agentfloor/agentfloor/internal/hub"
	"github.com/agentfloor/agentfloor/internal/logging"
	"github.com/agentfloor/agentfloor/internal/queue"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub HTTP server",
		Long:  "Migrates the database, starts the lease sweeper and serves the relay and chat APIs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	log := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	svcs, err := buildServices(cfg, gormDB, log)
	if err != nil {
		return err
	}
	sweeper, err := queue.NewSweeper(queue.SweeperOpts{
		Store:    svcs.queue,
		Notifier: svcs.notifier,
		Schedule: cfg.Queue.SweepSchedule,
		Logger:   logging.Component(log, "sweeper"),
	})
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Error().Err(err).Msg("sweeper stopped")
		}
	}()

	return hub.Start(ctx, hub.StartOpts{
		Dispatch: svcs.dispatch,
		Chat:     svcs.chat,
		Port:     cfg.Server.Port,
		Logger:   logging.Component(log, "http"),
		Out:      cmd.OutOrStdout(),
	})
}
