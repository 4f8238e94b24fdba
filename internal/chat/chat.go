// Package chat runs synchronous multi-agent conversations: each requested
// agent answers in turn, its text streamed to the client as it arrives.
package chat

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentfloor/agentfloor/internal/apierr"
	"github.com/agentfloor/agentfloor/internal/ledger"
	"github.com/agentfloor/agentfloor/internal/metrics"
	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/agentfloor/agentfloor/internal/queue"
	"github.com/agentfloor/agentfloor/internal/repocontext"
	"github.com/agentfloor/agentfloor/internal/vendor"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPersistTimeout bounds saves made after the client has gone away.
const DefaultPersistTimeout = 5 * time.Second

// FrameWriter receives the frames of one chat stream.
type FrameWriter interface {
	WriteFrame(Frame) error
}

// FrameWriterFunc adapts a function to FrameWriter.
type FrameWriterFunc func(Frame) error

// WriteFrame calls f.
func (f FrameWriterFunc) WriteFrame(fr Frame) error { return f(fr) }

// RepoContextSource supplies repository context for agents with a RepoURL.
type RepoContextSource interface {
	Fetch(ctx context.Context, repoURL string) (*repocontext.RepoContext, error)
}

// Orchestrator runs chat requests.
type Orchestrator struct {
	db             *gorm.DB
	ledger         *ledger.Ledger
	queue          *queue.Store
	vendors        *vendor.Registry
	repos          RepoContextSource
	log            zerolog.Logger
	persistTimeout time.Duration
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	DB             *gorm.DB
	Ledger         *ledger.Ledger
	Queue          *queue.Store      // optional; required by Submit
	Vendors        *vendor.Registry  // defaults to an empty registry
	Repos          RepoContextSource // optional
	Logger         zerolog.Logger
	PersistTimeout time.Duration // defaults to DefaultPersistTimeout
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("chat: db is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("chat: ledger is required")
	}
	vendors := opts.Vendors
	if vendors == nil {
		vendors = vendor.NewRegistry()
	}
	timeout := opts.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Orchestrator{
		db:             opts.DB,
		ledger:         opts.Ledger,
		queue:          opts.Queue,
		vendors:        vendors,
		repos:          opts.Repos,
		log:            opts.Logger,
		persistTimeout: timeout,
	}, nil
}

// Request is the chat request body. AgentIDs takes precedence over AgentID.
type Request struct {
	AgentID        string   `json:"agentId"`
	AgentIDs       []string `json:"agentIds"`
	ConversationID string   `json:"conversationId"`
	Message        string   `json:"message"`
}

// agentIDs returns the requested agent IDs in order without duplicates.
func (r Request) agentIDs() []string {
	ids := r.AgentIDs
	if len(ids) == 0 && r.AgentID != "" {
		ids = []string{r.AgentID}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Authorize checks the bearer token against the organization's chat token.
// Organizations without a chat token accept any caller.
func (o *Orchestrator) Authorize(ctx context.Context, orgID, token string) error {
	var org models.Organization
	err := o.db.WithContext(ctx).Where("id = ?", orgID).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &apierr.NotFoundError{Msg: "Organization not found"}
	}
	if err != nil {
		return fmt.Errorf("chat: load organization %s: %w", orgID, err)
	}
	if org.ChatToken == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(org.ChatToken), []byte(token)) != 1 {
		return &apierr.AuthError{Msg: "Unauthorized"}
	}
	return nil
}

// Session is a validated chat request whose user message is already
// recorded, ready to stream.
type Session struct {
	o      *Orchestrator
	conv   *models.Conversation
	agents []models.Agent
	turns  []ledger.Turn
}

// ConversationID returns the session's conversation.
func (s *Session) ConversationID() string { return s.conv.ID }

// Run validates req, then streams every agent's answer to w.
func (o *Orchestrator) Run(ctx context.Context, orgID string, req Request, w FrameWriter) error {
	s, err := o.Prepare(ctx, orgID, req)
	if err != nil {
		return err
	}
	return s.Stream(ctx, w)
}

// Prepare validates req, creates the conversation when none is given,
// records the user message and loads the transcript. Errors returned here
// happen before any frame is written.
func (o *Orchestrator) Prepare(ctx context.Context, orgID string, req Request) (*Session, error) {
	conv, agents, _, err := o.accept(ctx, orgID, req)
	if err != nil {
		return nil, err
	}
	turns, err := o.ledger.Transcript(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &Session{o: o, conv: conv, agents: agents, turns: turns}, nil
}

// accept validates req and records the user message.
func (o *Orchestrator) accept(ctx context.Context, orgID string, req Request) (*models.Conversation, []models.Agent, *models.Message, error) {
	ids := req.agentIDs()
	if len(ids) == 0 || req.Message == "" {
		return nil, nil, nil, &apierr.ValidationError{Msg: "agentId(s) and message are required"}
	}
	agents, err := o.loadAgents(ctx, orgID, ids)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(agents) == 0 {
		return nil, nil, nil, &apierr.NotFoundError{Msg: "Agent(s) not found"}
	}
	agentIDs := make([]string, len(agents))
	for i, a := range agents {
		agentIDs[i] = a.ID
	}

	var conv *models.Conversation
	if req.ConversationID != "" {
		conv, err = o.ledger.GetConversation(ctx, req.ConversationID)
		if errors.Is(err, ledger.ErrNotFound) || (err == nil && conv.OrgID != orgID) {
			return nil, nil, nil, &apierr.NotFoundError{Msg: "Conversation not found"}
		}
		if err != nil {
			return nil, nil, nil, err
		}
		if err := o.join(ctx, conv.ID, agentIDs); err != nil {
			return nil, nil, nil, err
		}
	} else {
		conv, err = o.ledger.CreateConversation(ctx, orgID, ledger.TitleFor(req.Message), agentIDs)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	msg := &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: req.Message}
	if err := o.ledger.AppendMessage(ctx, msg); err != nil {
		return nil, nil, nil, err
	}
	return conv, agents, msg, nil
}

// loadAgents returns the organization's agents among ids, in ids order.
func (o *Orchestrator) loadAgents(ctx context.Context, orgID string, ids []string) ([]models.Agent, error) {
	var found []models.Agent
	if err := o.db.WithContext(ctx).Where("org_id = ? AND id IN ?", orgID, ids).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("chat: load agents: %w", err)
	}
	byID := make(map[string]models.Agent, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	agents := make([]models.Agent, 0, len(found))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

// join adds agents that are not yet participants of the conversation.
func (o *Orchestrator) join(ctx context.Context, conversationID string, agentIDs []string) error {
	now := time.Now().UTC()
	rows := make([]models.ConversationParticipant, len(agentIDs))
	for i, id := range agentIDs {
		rows[i] = models.ConversationParticipant{ConversationID: conversationID, AgentID: id, JoinedAt: now}
	}
	if err := o.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("chat: join participants: %w", err)
	}
	return nil
}

// clientGone wraps a failure to deliver a frame.
type clientGone struct{ err error }

func (e *clientGone) Error() string { return "chat: client gone: " + e.err.Error() }
func (e *clientGone) Unwrap() error { return e.err }

func disconnected(ctx context.Context, err error) bool {
	var gone *clientGone
	return ctx.Err() != nil || errors.As(err, &gone)
}

// Stream runs each agent in order and writes its frames to w. A failure
// ends the stream with one ErrorFrame. When the client goes away, the
// in-flight agent's partial answer is saved and no later agent runs.
func (s *Session) Stream(ctx context.Context, w FrameWriter) error {
	log := s.o.log.With().Str("conversation", s.conv.ID).Logger()
	for _, agent := range s.agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runTurn(ctx, agent, w); err != nil {
			return s.fail(ctx, log, w, err)
		}
	}
	if err := s.o.ledger.Touch(ctx, s.conv.ID); err != nil {
		return s.fail(ctx, log, w, err)
	}
	if err := w.WriteFrame(Done{ConversationID: s.conv.ID}); err != nil {
		return &clientGone{err: err}
	}
	return nil
}

func (s *Session) fail(ctx context.Context, log zerolog.Logger, w FrameWriter, err error) error {
	if disconnected(ctx, err) {
		log.Info().Err(err).Msg("client disconnected")
		return err
	}
	metrics.ChatErrors.Inc()
	log.Error().Err(err).Msg("chat stream failed")
	if werr := w.WriteFrame(ErrorFrame{Message: apierr.PublicMessage(err)}); werr != nil {
		log.Debug().Err(werr).Msg("write error frame")
	}
	return err
}

func (s *Session) runTurn(ctx context.Context, agent models.Agent, w FrameWriter) error {
	prompt, err := s.o.systemPrompt(ctx, agent, s.others(agent.ID))
	if err != nil {
		return err
	}
	if err := w.WriteFrame(AgentStart{AgentID: agent.ID, AgentName: agent.Name, AgentVendor: agent.Vendor}); err != nil {
		return &clientGone{err: err}
	}

	req := vendor.Completion{Model: agent.Model, System: prompt, Messages: make([]vendor.Message, len(s.turns))}
	for i, t := range s.turns {
		req.Messages[i] = vendor.Message{Role: t.Role, Content: t.Content}
	}
	var full strings.Builder
	err = s.o.vendors.Lookup(agent.Vendor).Stream(ctx, req, func(text string) error {
		full.WriteString(text)
		if err := w.WriteFrame(TextDelta{Text: text, AgentID: agent.ID, AgentName: agent.Name}); err != nil {
			return &clientGone{err: err}
		}
		return nil
	})
	if err != nil {
		if disconnected(ctx, err) && full.Len() > 0 {
			if perr := s.o.saveAnswer(ctx, s.conv.ID, agent.ID, full.String()); perr != nil {
				s.o.log.Warn().Err(perr).Str("agent", agent.ID).Msg("save partial answer")
			}
			return err
		}
		if disconnected(ctx, err) {
			return err
		}
		return &apierr.UpstreamError{Msg: strings.ToLower(agent.Vendor), Err: err}
	}

	if err := s.o.saveAnswer(ctx, s.conv.ID, agent.ID, full.String()); err != nil {
		return err
	}
	metrics.ChatTurns.WithLabelValues(strings.ToLower(agent.Vendor)).Inc()
	s.turns = append(s.turns, ledger.Turn{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("[%s]: %s", agent.Name, full.String()),
	})
	if err := w.WriteFrame(AgentDone{AgentID: agent.ID}); err != nil {
		return &clientGone{err: err}
	}
	return nil
}

// saveAnswer records an agent's answer. It uses a context detached from the
// request so that a disconnect does not lose text already generated.
func (o *Orchestrator) saveAnswer(ctx context.Context, conversationID, agentID, content string) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()
	aid := agentID
	return o.ledger.AppendMessage(pctx, &models.Message{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		AgentID:        &aid,
	})
}

func (s *Session) others(agentID string) []models.Agent {
	out := make([]models.Agent, 0, len(s.agents)-1)
	for _, a := range s.agents {
		if a.ID != agentID {
			out = append(out, a)
		}
	}
	return out
}

// systemPrompt loads the agent's stored context and renders its prompt.
// Repository context is best effort.
func (o *Orchestrator) systemPrompt(ctx context.Context, agent models.Agent, others []models.Agent) (string, error) {
	data := PromptData{Agent: agent, Others: others}
	db := o.db.WithContext(ctx)
	if err := db.Where("agent_id = ?", agent.ID).Order("id").Find(&data.Contexts).Error; err != nil {
		return "", fmt.Errorf("chat: load context for %s: %w", agent.ID, err)
	}
	if err := db.Where("agent_id = ? AND name <> ''", agent.ID).Order("id").Find(&data.Skills).Error; err != nil {
		return "", fmt.Errorf("chat: load skills for %s: %w", agent.ID, err)
	}
	if err := db.Where("agent_id = ?", agent.ID).Order("id").Find(&data.Tools).Error; err != nil {
		return "", fmt.Errorf("chat: load mcp tools for %s: %w", agent.ID, err)
	}
	if o.repos != nil && agent.RepoURL != "" {
		rc, err := o.repos.Fetch(ctx, agent.RepoURL)
		if err != nil {
			o.log.Warn().Err(err).Str("agent", agent.ID).Msg("repository context unavailable")
		} else if rc != nil {
			data.Repository = rc.Prompt()
		}
	}
	return RenderPrompt(data)
}
