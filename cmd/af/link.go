package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentfloor/agentfloor/internal/relay"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLinkCmd() *cobra.Command {
	var (
		dir string
		cfg relay.LocalConfig
	)

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Write .agentfloor/config.json for this project",
		Long: `Links the current project to a hub agent so that "af connect" can relay
its queued messages. The poll token is prompted for when --token is omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(cmd, dir, cfg)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project root to write the config into")
	cmd.Flags().StringVar(&cfg.HubURL, "hub", "", "hub base URL")
	cmd.Flags().StringVar(&cfg.AgentID, "agent", "", "agent ID")
	cmd.Flags().StringVar(&cfg.AgentName, "name", "", "agent display name")
	cmd.Flags().StringVar(&cfg.PollToken, "token", "", "agent poll token")
	cmd.Flags().StringVar(&cfg.ExecutorURL, "executor", relay.DefaultExecutorURL, "local executor URL")
	cmd.MarkFlagRequired("hub")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func runLink(cmd *cobra.Command, dir string, cfg relay.LocalConfig) error {
	if cfg.PollToken == "" {
		token, err := promptToken(cmd)
		if err != nil {
			return err
		}
		cfg.PollToken = token
	}
	cfg.HubURL = strings.TrimSuffix(cfg.HubURL, "/")
	path, err := relay.SaveLocalConfig(dir, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// promptToken reads the poll token without echo. It refuses when stdin is
// not a terminal so that scripts pass --token instead.
func promptToken(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--token is required when stdin is not a terminal")
	}
	fmt.Fprint(cmd.OutOrStdout(), "Poll token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("poll token is required")
	}
	return token, nil
}
