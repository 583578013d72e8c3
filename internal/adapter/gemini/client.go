// Package gemini adapts Google's Gemini API to the embedding, generation and
// token-count capabilities.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"corpora/internal/corpus"
	"corpora/internal/settings"
)

// SettingsReader supplies the API key, read on every call so key rotation
// through the settings endpoint takes effect without a restart.
type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Client caches one genai client per API key.
type Client struct {
	settings   SettingsReader
	client     *genai.Client
	currentKey string
	mu         sync.RWMutex
	clientOpts []option.ClientOption
}

func NewClient(s SettingsReader, opts ...option.ClientOption) *Client {
	return &Client{
		settings:   s,
		clientOpts: opts,
	}
}

func (c *Client) resolve(ctx context.Context) (*genai.Client, error) {
	s, err := c.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not configured", corpus.ErrConfiguration)
	}
	return c.getClient(ctx, s.GeminiAPIKey)
}

func (c *Client) getClient(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double check
	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, c.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %w", corpus.ErrProvider, err)
	}

	c.client = client
	c.currentKey = key
	return client, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.currentKey = ""
	return err
}

func providerErr(op string, err error) error {
	return fmt.Errorf("%w: gemini %s: %w", corpus.ErrProvider, op, err)
}
