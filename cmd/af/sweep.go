package main

import (
	"fmt"

	"github.com/agentfloor/agentfloor/internal/logging"
	"github.com/agentfloor/agentfloor/internal/queue"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim expired leases and purge old queue items once",
		Long:  "Runs one pass of the lease sweeper across all agents: processing items past their lease are failed, and finished items past retention are deleted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	log := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
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
		return err
	}
	res, err := sweeper.SweepOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d expired, purged %d finished\n", len(res.Reclaimed), res.Purged)
	return nil
}
