package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
)

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// Service wraps a provider client with bounded retries and dimension checks.
type Service struct {
	client    embeddings.Embedder
	model     string
	dimension int
	batchSize int
	policy    helper.RetryPolicy
}

func NewService(client embeddings.Embedder, cfg config.EmbedConfig, policy helper.RetryPolicy) *Service {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	return &Service{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batch,
		policy:    policy,
	}
}

// NewEmbedder builds the provider selected in cfg.EmbedLLM.
func NewEmbedder(cfg *config.Config) (*Service, error) {
	ec := cfg.EmbedLLM
	log.Debug().Interface("config", map[string]string{
		"provider":        ec.Provider,
		"base_url":        ec.BaseURL,
		"embedding_model": ec.Model,
	}).Msg("Loaded embedding config")

	var client embeddings.Embedder
	switch ec.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(ec.BaseURL),
			ollama.WithModel(ec.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		e, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(ec.BatchSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		client = e
	case "openrouter":
		llm, err := openai.New(
			openai.WithBaseURL(ec.BaseURL),
			openai.WithToken(strings.TrimPrefix(ec.Key, "Bearer ")),
			openai.WithEmbeddingModel(ec.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openrouter: %w", err)
		}
		e, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(ec.BatchSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		client = e
	case "openai":
		c, err := NewOpenAIClient(ec)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, apperr.New(apperr.KindInputInvalid, "embedding.NewEmbedder", "unsupported embedding provider %q", ec.Provider)
	}
	return NewService(client, ec, helper.PolicyFrom(cfg.Retry)), nil
}

func (s *Service) Dimension() int { return s.dimension }
func (s *Service) Model() string  { return s.model }

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindInputInvalid, "embedding.Embed", "cannot embed empty text")
	}
	vec, err := helper.Retry(ctx, s.policy, "embed:"+s.model, func(ctx context.Context) ([]float32, error) {
		v, err := s.client.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, errors.New("no embedding returned")
		}
		return v, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbeddingUnavailable, "embedding.Embed", err)
	}
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts in provider batches; each batch is retried on its own.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperr.New(apperr.KindInputInvalid, "embedding.EmbedBatch", "text %d is empty", i)
		}
	}
	for start := 0; start < len(texts); start += s.batchSize {
		batch := texts[start:min(start+s.batchSize, len(texts))]
		vecs, err := helper.Retry(ctx, s.policy, "embed-batch:"+s.model, func(ctx context.Context) ([][]float32, error) {
			v, err := s.client.EmbedDocuments(ctx, batch)
			if err != nil {
				return nil, err
			}
			if len(v) != len(batch) {
				return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(v))
			}
			return v, nil
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindEmbeddingUnavailable, "embedding.EmbedBatch", err)
		}
		for _, v := range vecs {
			if err := s.checkDimension(v); err != nil {
				return nil, err
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (s *Service) checkDimension(v []float32) error {
	if s.dimension > 0 && len(v) != s.dimension {
		return apperr.New(apperr.KindIndexDimensionMismatch, "embedding",
			"model %s returned %d dimensions, configured %d", s.model, len(v), s.dimension)
	}
	return nil
}
