package db

import (
	"fmt"

	"github.com/agentfloor/agentfloor/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the hub persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.Organization{},
		&models.Agent{},
		&models.AgentContext{},
		&models.AgentSkill{},
		&models.MCPTool{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.QueueItem{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
