package analyzer

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"paper-ingest-platform/models"
)

// GoogleEmbedder produces page embeddings through the Google embeddings API.
// The client is created lazily so startup never blocks on the network.
type GoogleEmbedder struct {
	apiKey string
	model  string
	dims   int

	mu     sync.Mutex
	client *genai.Client
}

func NewGoogleEmbedder(apiKey, model string, dims int) *GoogleEmbedder {
	return &GoogleEmbedder{apiKey: apiKey, model: model, dims: dims}
}

func (e *GoogleEmbedder) ModelName() string { return e.model }
func (e *GoogleEmbedder) Dimensions() int   { return e.dims }

func (e *GoogleEmbedder) getClient(ctx context.Context) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	if e.apiKey == "" {
		return nil, &models.CapabilityUnavailable{Name: "embeddings", Cause: fmt.Errorf("no API key configured")}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return nil, &models.CapabilityUnavailable{Name: "embeddings", Cause: err}
	}
	e.client = client
	return client, nil
}

// Close releases the underlying genai client if one was created.
func (e *GoogleEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// Embed returns the vector for text. The returned slice length must match
// Dimensions(); a mismatch means the configured model changed under us.
func (e *GoogleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.getClient(ctx)
	if err != nil {
		return nil, err
	}

	em := client.EmbeddingModel(e.model)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, &models.CapabilityUnavailable{Name: "embeddings", Cause: err}
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedding response contained no values")
	}
	vec := resp.Embedding.Values
	if e.dims > 0 && len(vec) != e.dims {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), e.dims)
	}
	return vec, nil
}
