package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okchat/okchat/internal/llm"
)

const (
	systemPrompt = "You are a helpful assistant."

	// LoginPrompt is the reply for unauthenticated callers. A deliberate
	// UX choice inherited from the original flow: the chat surface answers
	// in-band instead of failing the request.
	LoginPrompt = "Please log in first."
)

// AssistantService forwards user text to the completion service and
// returns the reply. Upstream failures come back as the reply text, never
// as a transport-level error.
type AssistantService struct {
	client  llm.Client
	timeout time.Duration
	logger  *zap.Logger
}

func NewAssistantService(client llm.Client, timeout time.Duration, logger *zap.Logger) *AssistantService {
	return &AssistantService{client: client, timeout: timeout, logger: logger}
}

// Ask returns the assistant's reply for the user's text. userID == 0 means
// no authenticated session: the fixed login prompt is returned and the
// completion service is never contacted. No data-store lock is held while
// the upstream call is in flight.
func (s *AssistantService) Ask(ctx context.Context, userID int64, text string) string {
	if userID == 0 {
		return LoginPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		s.logger.Warn("completion request failed", zap.Int64("user_id", userID), zap.Error(err))
		return "Error: " + err.Error()
	}
	return reply
}
