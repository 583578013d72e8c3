package gemini

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
)

type Generator struct {
	client *Client
	model  string
}

func NewGenerator(c *Client, model string) *Generator {
	return &Generator{client: c, model: model}
}

func (g *Generator) Invoke(ctx context.Context, prompt string) (string, error) {
	client, err := g.client.resolve(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", providerErr("generate", err)
	}
	return responseText(resp), nil
}

// Stream yields text deltas as they arrive. A failure ends the sequence with
// a single error.
func (g *Generator) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := g.client.resolve(ctx)
		if err != nil {
			yield("", err)
			return
		}

		it := client.GenerativeModel(g.model).GenerateContentStream(ctx, genai.Text(prompt))
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", providerErr("stream", err))
				return
			}
			if delta := responseText(resp); delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
