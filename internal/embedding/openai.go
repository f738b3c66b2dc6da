package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ademuri/vinyl-search/internal/upstream"
)

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL of an OpenAI-compatible embeddings API, e.g.
	// "https://api.openai.com/v1" or a self-hosted TEI endpoint.
	BaseURL string
	Model   string
	// APIKey is optional for self-hosted services.
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Self-hosted services ignore the key but the client wants one.
		apiKey = "unused"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatch {
		return nil, fmt.Errorf("%w: %d texts (max %d)", ErrBatchTooLarge, len(texts), MaxBatch)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return nil, &upstream.StatusError{
				Service: "embeddings",
				URL:     e.model,
				Code:    apiErr.HTTPStatusCode,
				Body:    apiErr.Message,
			}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &upstream.StatusError{
				Service: "embeddings",
				URL:     e.model,
				Code:    reqErr.HTTPStatusCode,
				Body:    reqErr.Error(),
			}
		}
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, upstream.Malformed("embeddings", fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if d.Index != i {
			return nil, upstream.Malformed("embeddings", fmt.Errorf("missing embedding for input %d", i))
		}
		vectors[i] = d.Embedding
	}
	if err := CheckDimensions("embeddings", vectors, 0); err != nil {
		return nil, err
	}
	e.logger.Debug("generated embeddings", "model", e.model, "count", len(vectors))
	return vectors, nil
}
