package chat

import (
	"context"

	ai "kindfriend-backend/openai"
)

// AIClient abstracts the OpenAI client so handler tests can run against a
// mock instead of the network.
type AIClient interface {
	StreamChat(ctx context.Context, model string, maxTokens int, messages []ai.Message) (<-chan string, error)
}
