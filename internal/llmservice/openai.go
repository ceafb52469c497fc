package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"rag-apps/internal/config"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
)

// OpenAIBackend calls the chat completions endpoint through go-openai.
type OpenAIBackend struct {
	client      *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAIBackend(cfg config.LLMConfig) (*OpenAIBackend, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	oc := goopenai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{
		client:      goopenai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (b *OpenAIBackend) Complete(ctx context.Context, turns []models.Turn) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := goopenai.ChatMessageRoleUser
		switch t.Role {
		case models.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	resp, err := b.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    msgs,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) && isPermanentStatus(apiErr.HTTPStatusCode) {
			return "", helper.Permanent(err)
		}
		var reqErr *goopenai.RequestError
		if errors.As(err, &reqErr) && isPermanentStatus(reqErr.HTTPStatusCode) {
			return "", helper.Permanent(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
