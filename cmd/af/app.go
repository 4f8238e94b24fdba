package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentfloor/agentfloor/internal/alert"
	"github.com/agentfloor/agentfloor/internal/chat"
	"github.com/agentfloor/agentfloor/internal/config"
	"github.com/agentfloor/agentfloor/internal/db"
	"github.com/agentfloor/agentfloor/internal/dispatch"
	"github.com/agentfloor/agentfloor/internal/ledger"
	"github.com/agentfloor/agentfloor/internal/logging"
	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/agentfloor/agentfloor/internal/queue"
	"github.com/agentfloor/agentfloor/internal/repocontext"
	"github.com/agentfloor/agentfloor/internal/vendor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const defaultConfigPath = "agentfloor.yaml"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to AgentFloor config file")
}

// loadConfig reads the config file. The default path may be absent, in which
// case built-in defaults apply; an explicitly given path must exist.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func connectFromConfig(cmd *cobra.Command, path string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(cmd, path)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}

// services is the hub's object graph built from a config.
type services struct {
	ledger   *ledger.Ledger
	queue    *queue.Store
	notifier alert.Notifier
	dispatch *dispatch.Service
	chat     *chat.Orchestrator
}

func buildServices(cfg *config.Config, gormDB *gorm.DB, log zerolog.Logger) (*services, error) {
	led, err := ledger.New(ledger.Opts{DB: gormDB})
	if err != nil {
		return nil, err
	}
	store, err := queue.NewStore(queue.StoreOpts{
		DB:           gormDB,
		LeaseTimeout: cfg.Queue.LeaseTimeout,
		Retention:    cfg.Queue.Retention,
		BatchSize:    cfg.Queue.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	notifier, err := buildNotifier(cfg.Alerts)
	if err != nil {
		return nil, err
	}
	svc, err := dispatch.NewService(dispatch.ServiceOpts{
		DB:       gormDB,
		Ledger:   led,
		Queue:    store,
		Notifier: notifier,
		Logger:   logging.Component(log, "dispatch"),
	})
	if err != nil {
		return nil, err
	}

	vendors := vendor.NewRegistry()
	vendors.Register(models.VendorAnthropic, vendor.NewAnthropic(vendor.AnthropicOpts{
		APIKey:       cfg.Vendors.Anthropic.APIKey,
		DefaultModel: cfg.Vendors.Anthropic.DefaultModel,
		BaseURL:      cfg.Vendors.Anthropic.BaseURL,
	}))
	vendors.Register(models.VendorOpenAI, vendor.NewOpenAI(vendor.OpenAIOpts{
		APIKey:       cfg.Vendors.OpenAI.APIKey,
		DefaultModel: cfg.Vendors.OpenAI.DefaultModel,
		BaseURL:      cfg.Vendors.OpenAI.BaseURL,
	}))

	chatOpts := chat.Opts{
		DB:      gormDB,
		Ledger:  led,
		Queue:   store,
		Vendors: vendors,
		Logger:  logging.Component(log, "chat"),
	}
	if !cfg.GitHub.Disabled {
		fetcher, err := repocontext.NewFetcher(repocontext.FetcherOpts{Token: cfg.GitHub.Token, CacheTTL: cfg.GitHub.CacheTTL})
		if err != nil {
			return nil, err
		}
		chatOpts.Repos = fetcher
	}
	orch, err := chat.New(chatOpts)
	if err != nil {
		return nil, err
	}
	return &services{ledger: led, queue: store, notifier: notifier, dispatch: svc, chat: orch}, nil
}

func buildNotifier(cfg config.AlertsConfig) (alert.Notifier, error) {
	var out alert.Multi
	if cfg.Slack.Enabled() {
		s, err := alert.NewSlack(cfg.Slack.BotToken, cfg.Slack.Channel)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if cfg.Discord.Enabled() {
		d, err := alert.NewDiscord(cfg.Discord.BotToken, cfg.Discord.Channel)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return alert.Nop{}, nil
	}
	return out, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
