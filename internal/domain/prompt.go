package domain

// Prompt message roles, aligned with OpenAI-compatible chat APIs.
const (
	PromptRoleSystem    = "system"
	PromptRoleUser      = "user"
	PromptRoleAssistant = "assistant"
)

// PromptMessage is one turn in a generation request.
type PromptMessage struct {
	Role    string
	Content string
}
