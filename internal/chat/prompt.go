package chat

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/agentfloor/agentfloor/internal/models"
)

// promptTemplate is the system prompt given to each agent in a chat.
const promptTemplate = `You are acting as the AI agent "{{ .Agent.Name }}" ({{ .Agent.Vendor }}/{{ .Agent.Model }}).

{{ if .Others }}## Group Chat Participants
You are in a group conversation with these other agents:
{{ range .Others }}- {{ .Name }} ({{ .Vendor }}/{{ .Model }})
{{ end }}
Collaborate naturally. Refer to other agents by name if needed. Avoid repeating what others have said.

{{ end }}{{ range .Contexts }}## {{ contextLabel . }}
{{ .Content }}

{{ end }}{{ .Repository }}{{ if .Skills }}## Available Skills
{{ range .Skills }}- {{ .Name }}
{{ end }}
{{ end }}{{ if .Tools }}## MCP Tools
{{ range .Tools }}- {{ .Name }} (server: {{ .Server }})
{{ end }}
{{ end }}Answer questions based on the project context above. Be helpful and concise.`

var promptTmpl = template.Must(template.New("system").Funcs(template.FuncMap{
	"contextLabel": contextLabel,
}).Parse(promptTemplate))

// PromptData is everything the system prompt is built from.
type PromptData struct {
	Agent      models.Agent
	Others     []models.Agent
	Contexts   []models.AgentContext
	Repository string
	Skills     []models.AgentSkill
	Tools      []models.MCPTool
}

// RenderPrompt builds an agent's system prompt.
func RenderPrompt(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := promptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("chat: render prompt: %w", err)
	}
	return buf.String(), nil
}

func contextLabel(c models.AgentContext) string {
	switch c.Type {
	case models.ContextClaudeMD:
		return "CLAUDE.md"
	case models.ContextReadme:
		return "README"
	}
	if c.SourceFile != "" {
		return c.SourceFile
	}
	return "Context"
}
