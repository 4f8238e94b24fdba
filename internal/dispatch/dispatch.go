// Package dispatch serves the relay-facing side of the polling-leased queue:
// handing pending work to an agent's relay and collecting its responses.
package dispatch

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/agentfloor/agentfloor/internal/apierr"
	"github.com/agentfloor/agentfloor/internal/ledger"
	"github.com/agentfloor/agentfloor/internal/metrics"
	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/agentfloor/agentfloor/internal/queue"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Service implements poll and respond for agent relays.
type Service struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	queue    *queue.Store
	notifier queue.LeaseNotifier
	log      zerolog.Logger
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	DB       *gorm.DB
	Ledger   *ledger.Ledger
	Queue    *queue.Store
	Notifier queue.LeaseNotifier // optional
	Logger   zerolog.Logger
}

// NewService creates a Service.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatch: db is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("dispatch: ledger is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("dispatch: queue is required")
	}
	return &Service{
		db:       opts.DB,
		ledger:   opts.Ledger,
		queue:    opts.Queue,
		notifier: opts.Notifier,
		log:      opts.Logger,
	}, nil
}

// Authenticate checks token against the agent's poll token.
func (s *Service) Authenticate(ctx context.Context, agentID, token string) (*models.Agent, error) {
	if token == "" {
		return nil, &apierr.AuthError{Msg: "Missing Bearer token"}
	}
	var agent models.Agent
	err := s.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &apierr.AuthError{Msg: "Unauthorized"}
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: load agent %s: %w", agentID, err)
	}
	if agent.PollToken == "" || subtle.ConstantTimeCompare([]byte(agent.PollToken), []byte(token)) != 1 {
		return nil, &apierr.AuthError{Msg: "Unauthorized"}
	}
	return &agent, nil
}

// PollItem is one unit of work handed to a relay.
type PollItem struct {
	QueueItemID    string        `json:"queueItemId"`
	ConversationID string        `json:"conversationId"`
	Message        string        `json:"message"`
	History        []ledger.Turn `json:"history"`
}

// PollResult is the poll response body.
type PollResult struct {
	Items []PollItem `json:"items"`
}

// Poll reclaims the agent's expired leases, purges its old terminal items,
// then claims a batch of pending items and returns each with the
// conversation history. Housekeeping failures are logged and do not fail
// the poll.
func (s *Service) Poll(ctx context.Context, agentID, token string) (*PollResult, error) {
	if _, err := s.Authenticate(ctx, agentID, token); err != nil {
		return nil, err
	}
	log := s.log.With().Str("agent", agentID).Logger()

	reclaimed, err := s.queue.ReclaimExpired(ctx, agentID)
	if err != nil {
		log.Warn().Err(err).Msg("reclaim expired leases")
	}
	if len(reclaimed) > 0 {
		log.Info().Int("items", len(reclaimed)).Msg("lease expired")
		if s.notifier != nil {
			if err := s.notifier.LeaseExpired(ctx, reclaimed); err != nil {
				log.Warn().Err(err).Msg("lease expiry alert failed")
			}
		}
	}
	if _, err := s.queue.PurgeTerminal(ctx, agentID); err != nil {
		log.Warn().Err(err).Msg("purge terminal items")
	}

	claimed, err := s.queue.Claim(ctx, agentID, 0)
	if err != nil {
		return nil, err
	}
	result := &PollResult{Items: make([]PollItem, 0, len(claimed))}
	for _, item := range claimed {
		history, err := s.ledger.Transcript(ctx, item.ConversationID)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, PollItem{
			QueueItemID:    item.ID,
			ConversationID: item.ConversationID,
			Message:        item.MessageContent,
			History:        history,
		})
	}
	if len(claimed) > 0 {
		log.Debug().Int("items", len(claimed)).Msg("claimed")
	}
	return result, nil
}

// RespondRequest is the respond request body.
type RespondRequest struct {
	QueueItemID string `json:"queueItemId"`
	Content     string `json:"content"`
}

// RespondResult is the respond response body.
type RespondResult struct {
	Success        bool   `json:"success"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// Respond records the relay's answer for a processing item. The assistant
// message, the processing->completed transition and the conversation touch
// commit together; a caller that loses the transition gets a ConflictError
// and its message is rolled back.
func (s *Service) Respond(ctx context.Context, agentID, token string, req RespondRequest) (*RespondResult, error) {
	if _, err := s.Authenticate(ctx, agentID, token); err != nil {
		return nil, err
	}
	if req.QueueItemID == "" || req.Content == "" {
		return nil, &apierr.ValidationError{Msg: "queueItemId and content are required"}
	}

	item, err := s.queue.Get(ctx, req.QueueItemID)
	if errors.Is(err, queue.ErrNotFound) || (err == nil && item.AgentID != agentID) {
		return nil, &apierr.NotFoundError{Msg: "Queue item not found"}
	}
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueueStatusProcessing {
		return nil, conflict(item.Status)
	}

	aid := agentID
	msg := &models.Message{
		ConversationID: item.ConversationID,
		Role:           models.RoleAssistant,
		Content:        req.Content,
		AgentID:        &aid,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.queue.CompleteTx(tx, item.ID, agentID); err != nil {
			return err
		}
		return s.ledger.AppendMessageTx(tx, msg)
	})
	if errors.Is(err, queue.ErrNotProcessing) {
		status := "completed"
		if cur, gerr := s.queue.Get(ctx, item.ID); gerr == nil {
			status = cur.Status
		}
		return nil, conflict(status)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: respond %s: %w", item.ID, err)
	}
	metrics.QueueCompleted.Inc()
	return &RespondResult{Success: true, MessageID: msg.ID, ConversationID: item.ConversationID}, nil
}

func conflict(status string) error {
	return &apierr.ConflictError{Msg: fmt.Sprintf("Queue item is %s, expected processing", status)}
}
