package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AgentOpts holds parameters for registering an agent.
type AgentOpts struct {
	ID      string
	OrgID   string
	OrgName string
	Name    string
	Vendor  string
	Model   string
	RepoURL string
}

// CreateAgent registers an agent with a fresh poll token, creating its
// organization when it does not exist yet.
func CreateAgent(db *gorm.DB, opts AgentOpts) (*models.Agent, error) {
	if opts.OrgID == "" {
		return nil, fmt.Errorf("db: org id is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("db: agent name is required")
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	agent := &models.Agent{
		ID:        opts.ID,
		OrgID:     opts.OrgID,
		Name:      opts.Name,
		Vendor:    opts.Vendor,
		Model:     opts.Model,
		PollToken: token,
		RepoURL:   opts.RepoURL,
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	orgName := opts.OrgName
	if orgName == "" {
		orgName = opts.OrgID
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		org := models.Organization{ID: opts.OrgID, Name: orgName}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&org).Error; err != nil {
			return fmt.Errorf("db: create organization %q: %w", opts.OrgID, err)
		}
		if err := tx.Create(agent).Error; err != nil {
			return fmt.Errorf("db: create agent %q: %w", opts.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// NewToken returns a random 32-byte hex token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("db: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
