package llm

import (
	"context"
)

// Prompt is a single-turn request to the model. No history is kept between calls.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// LLMClient is the remote model used to perform tasks.
type LLMClient interface {
	// Complete sends one prompt and returns the model's text reply.
	Complete(ctx context.Context, prompt Prompt) (string, error)

	// Model names the model answering Complete calls.
	Model() string
}
