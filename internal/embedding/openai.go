package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	goopenai "github.com/sashabaranov/go-openai"

	"rag-apps/internal/config"
	"rag-apps/internal/helper"
)

// OpenAIClient calls the OpenAI embeddings endpoint directly.
type OpenAIClient struct {
	client *goopenai.Client
	model  goopenai.EmbeddingModel
}

func NewOpenAIClient(cfg config.EmbedConfig) (*OpenAIClient, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	oc := goopenai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: goopenai.NewClientWithConfig(oc),
		model:  goopenai.EmbeddingModel(cfg.Model),
	}, nil
}

func (c *OpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *OpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// classifyOpenAIError marks client side failures as permanent; rate limits
// and server errors stay retryable.
func classifyOpenAIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && isPermanentStatus(apiErr.HTTPStatusCode) {
		return helper.Permanent(err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && isPermanentStatus(reqErr.HTTPStatusCode) {
		return helper.Permanent(err)
	}
	return err
}

func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
