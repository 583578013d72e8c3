package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/generative-ai-go/genai"

	"corpora/internal/corpus"
)

// maxBatch is the batchEmbedContents request limit.
const maxBatch = 100

type Embedder struct {
	client *Client
	model  string
}

func NewEmbedder(c *Client, model string) *Embedder {
	return &Embedder{client: c, model: model}
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := e.client.resolve(ctx)
	if err != nil {
		return nil, err
	}

	em := client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := make([][]float32, 0, len(texts))
	for chunk := range slices.Chunk(texts, maxBatch) {
		slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(chunk))
		b := em.NewBatch()
		for _, t := range chunk {
			b.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, providerErr("batch embed", err)
		}
		if len(res.Embeddings) != len(chunk) {
			return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts", corpus.ErrProvider, len(res.Embeddings), len(chunk))
		}
		for _, emb := range res.Embeddings {
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	client, err := e.client.resolve(ctx)
	if err != nil {
		return nil, err
	}

	em := client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalQuery
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, providerErr("embed", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding received", corpus.ErrProvider)
	}
	return res.Embedding.Values, nil
}
