package gemini

import (
	"context"

	"github.com/google/generative-ai-go/genai"
)

// TokenCounter asks the generation model for its own token count, so budgets
// match what the model will actually see.
type TokenCounter struct {
	client *Client
	model  string
}

func NewTokenCounter(c *Client, model string) *TokenCounter {
	return &TokenCounter{client: c, model: model}
}

func (t *TokenCounter) Count(ctx context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	client, err := t.client.resolve(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := client.GenerativeModel(t.model).CountTokens(ctx, genai.Text(text))
	if err != nil {
		return 0, providerErr("count tokens", err)
	}
	return int(resp.TotalTokens), nil
}
