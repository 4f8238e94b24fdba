package main

import (
	"fmt"

	"github.com/agentfloor/agentfloor/internal/db"
	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent registration commands",
	}

	cmd.AddCommand(newAgentAddCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	var (
		configPath string
		opts       db.AgentOpts
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agent and print its poll token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentAdd(cmd, configPath, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.ID, "id", "", "agent ID (default: random UUID)")
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization ID (created when missing)")
	cmd.Flags().StringVar(&opts.OrgName, "org-name", "", "organization display name")
	cmd.Flags().StringVar(&opts.Name, "name", "", "agent display name")
	cmd.Flags().StringVar(&opts.Vendor, "vendor", models.VendorAnthropic, "model vendor (anthropic, openai)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model name")
	cmd.Flags().StringVar(&opts.RepoURL, "repo", "", "GitHub repository URL for context")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runAgentAdd(cmd *cobra.Command, configPath string, opts db.AgentOpts) error {
	_, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	agent, err := db.CreateAgent(gormDB, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agent %q registered in %s\n", agent.Name, agent.OrgID)
	fmt.Fprintf(out, "  ID:         %s\n", agent.ID)
	fmt.Fprintf(out, "  Poll token: %s\n", agent.PollToken)
	return nil
}
