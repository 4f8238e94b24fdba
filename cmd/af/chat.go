package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentfloor/agentfloor/internal/chat"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		hubURL string
		orgID  string
		token  string
		req    chat.Request
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message to agents and print their streamed answers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Message = strings.Join(args, " ")
			return runChat(cmd, hubURL, orgID, token, req)
		},
	}

	cmd.Flags().StringVar(&hubURL, "hub", "http://localhost:8080", "hub base URL")
	cmd.Flags().StringVar(&orgID, "org", "", "organization ID")
	cmd.Flags().StringVar(&token, "token", "", "organization chat token")
	cmd.Flags().StringSliceVarP(&req.AgentIDs, "agent", "a", nil, "agent ID to ask (repeatable, answered in order)")
	cmd.Flags().StringVar(&req.ConversationID, "conversation", "", "continue an existing conversation")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func runChat(cmd *cobra.Command, hubURL, orgID, token string, req chat.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	endpoint := strings.TrimSuffix(hubURL, "/") + "/api/organizations/" + url.PathEscape(orgID) + "/chat"
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("chat: %s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("chat: hub returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	out := cmd.OutOrStdout()
	dec := chat.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("chat: stream ended before completion")
		}
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case chat.AgentStart:
			fmt.Fprintf(out, "[%s]\n", f.AgentName)
		case chat.TextDelta:
			fmt.Fprint(out, f.Text)
		case chat.AgentDone:
			fmt.Fprint(out, "\n\n")
		case chat.Done:
			fmt.Fprintf(out, "Conversation: %s\n", f.ConversationID)
			return nil
		case chat.ErrorFrame:
			return fmt.Errorf("chat: %s", f.Message)
		}
	}
}
