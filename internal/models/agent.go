// Package models defines the GORM models persisted by the agentfloor hub.
package models

import "time"

// Vendor identifiers understood by the chat orchestrator.
const (
	VendorAnthropic = "anthropic"
	VendorOpenAI    = "openai"
)

// Organization groups agents and conversations.
type Organization struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	ChatToken string `gorm:"size:128"`
	CreatedAt time.Time
}

// Agent is an AI agent registered with the hub. PollToken is the shared
// secret a relay presents when polling or responding on the agent's behalf.
type Agent struct {
	ID        string `gorm:"primaryKey;size:64"`
	OrgID     string `gorm:"size:64;index"`
	Name      string `gorm:"size:128;not null"`
	Vendor    string `gorm:"size:32"`
	Model     string `gorm:"size:128"`
	PollToken string `gorm:"size:128"`
	RepoURL   string `gorm:"size:512"`
	CreatedAt time.Time
}

// Context document types.
const (
	ContextClaudeMD = "claude_md"
	ContextReadme   = "readme"
	ContextOther    = "other"
)

// AgentContext is a project document injected into an agent's system prompt.
type AgentContext struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	AgentID    string `gorm:"size:64;not null;index"`
	Type       string `gorm:"size:16;not null"`
	Content    string `gorm:"type:mediumtext"`
	SourceFile string `gorm:"size:256"`
	CreatedAt  time.Time
}

// AgentSkill names a capability advertised to the model.
type AgentSkill struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	AgentID string `gorm:"size:64;not null;index"`
	Name    string `gorm:"size:128;not null"`
}

// MCPTool is an MCP tool the agent can reach through its runtime.
type MCPTool struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	AgentID string `gorm:"size:64;not null;index"`
	Name    string `gorm:"size:128;not null"`
	Server  string `gorm:"size:128"`
}

// TableName pins the table name so the initialism does not split.
func (MCPTool) TableName() string { return "mcp_tools" }
