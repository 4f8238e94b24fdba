package models

import "time"

// Queue item statuses.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// QueueItem is a unit of work waiting for an agent's relay. A relay claims it
// by moving it to processing; ClaimToken identifies the claim that did so.
type QueueItem struct {
	ID                  string     `gorm:"primaryKey;size:64"`
	AgentID             string     `gorm:"size:64;not null;index:idx_queue_agent_status,priority:1"`
	ConversationID      string     `gorm:"size:64;not null;index"`
	MessageContent      string     `gorm:"type:mediumtext"`
	UserMessageID       string     `gorm:"size:64"`
	Status              string     `gorm:"size:16;not null;default:pending;index:idx_queue_agent_status,priority:2"`
	ClaimToken          string     `gorm:"size:64;index"`
	ErrorMessage        string     `gorm:"type:text"`
	CreatedAt           time.Time  `gorm:"precision:6;index"`
	ProcessingStartedAt *time.Time `gorm:"precision:6"`
	CompletedAt         *time.Time `gorm:"precision:6"`
}

// Terminal reports whether the item has reached completed or failed.
func (q QueueItem) Terminal() bool {
	return q.Status == QueueStatusCompleted || q.Status == QueueStatusFailed
}
