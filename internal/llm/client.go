package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged turn of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client sends a role-tagged message list to a completion service and
// returns the generated text. Implementations make a single request with
// no retry or streaming; cancellation and deadlines come from ctx.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
