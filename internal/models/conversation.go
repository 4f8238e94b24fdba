package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is an ordered exchange between a user and one or more agents.
type Conversation struct {
	ID           string `gorm:"primaryKey;size:64"`
	OrgID        string `gorm:"size:64;index"`
	Title        string `gorm:"size:256"`
	CreatedAt    time.Time
	UpdatedAt    time.Time                 `gorm:"index"`
	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID"`
}

// ConversationParticipant records an agent taking part in a conversation.
type ConversationParticipant struct {
	ConversationID string `gorm:"primaryKey;size:64"`
	AgentID        string `gorm:"primaryKey;size:64"`
	JoinedAt       time.Time
}

// Message is one immutable turn in a conversation. AgentID is set only on
// assistant messages.
type Message struct {
	ID             string    `gorm:"primaryKey;size:64"`
	ConversationID string    `gorm:"size:64;not null;index:idx_messages_conversation_created,priority:1"`
	Role           string    `gorm:"size:16;not null"`
	Content        string    `gorm:"type:mediumtext"`
	AgentID        *string   `gorm:"size:64;index"`
	CreatedAt      time.Time `gorm:"precision:6;index:idx_messages_conversation_created,priority:2"`
}
