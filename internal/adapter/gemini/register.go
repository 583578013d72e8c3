package gemini

import (
	"context"

	"google.golang.org/api/option"

	"corpora/internal/provider"
)

const Tag = "gemini"

type Models struct {
	Embedding  string
	Generation string
}

// Register adds the gemini backend to reg. All three capabilities share one
// cached client.
func Register(reg *provider.Registry, s SettingsReader, models Models, opts ...option.ClientOption) {
	reg.Register(Tag, func(ctx context.Context) (provider.Capabilities, error) {
		c := NewClient(s, opts...)
		return provider.Capabilities{
			Embedder:     NewEmbedder(c, models.Embedding),
			Generator:    NewGenerator(c, models.Generation),
			TokenCounter: NewTokenCounter(c, models.Generation),
		}, nil
	})
}
