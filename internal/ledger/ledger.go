// Package ledger persists conversations and their ordered message history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("ledger: conversation not found")

// TitleLimit is the number of characters of the first message kept as a
// conversation title.
const TitleLimit = 50

// Turn is one entry of a conversation transcript as handed to an agent.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Ledger is the ordered, append-only message store. Within a conversation
// each appended message gets a CreatedAt strictly later than the previous one.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// Opts holds parameters for creating a Ledger.
type Opts struct {
	DB  *gorm.DB
	Now func() time.Time // defaults to time.Now
}

// New creates a Ledger.
func New(opts Opts) (*Ledger, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ledger: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{db: opts.DB, now: now}, nil
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// CreateConversation inserts a conversation and its participants.
func (l *Ledger) CreateConversation(ctx context.Context, orgID, title string, agentIDs []string) (*models.Conversation, error) {
	if orgID == "" {
		return nil, fmt.Errorf("ledger: org id is required")
	}
	now := l.clock()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, id := range agentIDs {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{
			ConversationID: conv.ID,
			AgentID:        id,
			JoinedAt:       now,
		})
	}
	if err := l.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("ledger: create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads a conversation with its participants.
func (l *Ledger) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := l.db.WithContext(ctx).Preload("Participants").Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get conversation %s: %w", id, err)
	}
	return &conv, nil
}

// AppendMessage records msg in its conversation and advances the
// conversation's UpdatedAt. ID and CreatedAt are assigned here.
func (l *Ledger) AppendMessage(ctx context.Context, msg *models.Message) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.AppendMessageTx(tx, msg)
	})
}

// AppendMessageTx is AppendMessage within a caller-owned transaction.
func (l *Ledger) AppendMessageTx(tx *gorm.DB, msg *models.Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("ledger: conversation id is required")
	}
	switch msg.Role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		return fmt.Errorf("ledger: invalid role %q", msg.Role)
	}

	var last []models.Message
	if err := tx.Where("conversation_id = ?", msg.ConversationID).
		Order("created_at DESC").Limit(1).Find(&last).Error; err != nil {
		return fmt.Errorf("ledger: read last message: %w", err)
	}
	at := l.clock()
	if len(last) > 0 && !at.After(last[0].CreatedAt) {
		at = last[0].CreatedAt.UTC().Add(time.Microsecond)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = at
	if err := tx.Create(msg).Error; err != nil {
		return fmt.Errorf("ledger: append message: %w", err)
	}
	return touch(tx, msg.ConversationID, at)
}

// Transcript returns the conversation's non-system messages, oldest first.
func (l *Ledger) Transcript(ctx context.Context, conversationID string) ([]Turn, error) {
	var msgs []models.Message
	err := l.db.WithContext(ctx).
		Where("conversation_id = ? AND role <> ?", conversationID, models.RoleSystem).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: transcript %s: %w", conversationID, err)
	}
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// Touch advances the conversation's UpdatedAt to now.
func (l *Ledger) Touch(ctx context.Context, conversationID string) error {
	return touch(l.db.WithContext(ctx), conversationID, l.clock())
}

func touch(tx *gorm.DB, conversationID string, at time.Time) error {
	res := tx.Model(&models.Conversation{}).
		Where("id = ? AND updated_at < ?", conversationID, at).
		Update("updated_at", at)
	if res.Error != nil {
		return fmt.Errorf("ledger: touch %s: %w", conversationID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := tx.Model(&models.Conversation{}).Where("id = ?", conversationID).Count(&n).Error; err != nil {
		return fmt.Errorf("ledger: touch %s: %w", conversationID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TitleFor derives a conversation title from its first message.
func TitleFor(message string) string {
	if utf8.RuneCountInString(message) <= TitleLimit {
		return message
	}
	return string([]rune(message)[:TitleLimit]) + "..."
}
