package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-apps/internal/config"
	"rag-apps/internal/models"
)

// LangchainBackend drives any langchaingo chat model.
type LangchainBackend struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

func NewLangchainBackend(llm llms.Model, cfg config.LLMConfig) *LangchainBackend {
	return &LangchainBackend{llm: llm, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}
}

func NewOllamaBackend(cfg config.LLMConfig) (*LangchainBackend, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	return NewLangchainBackend(llm, cfg), nil
}

func NewOpenRouterBackend(cfg config.LLMConfig) (*LangchainBackend, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openrouter: %w", err)
	}
	return NewLangchainBackend(llm, cfg), nil
}

func (b *LangchainBackend) Complete(ctx context.Context, turns []models.Turn) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(b.temperature)}
	if b.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(b.maxTokens))
	}
	resp, err := b.llm.GenerateContent(ctx, toMessages(turns), opts...)
	if err != nil {
		return "", classifyMessage(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func toMessages(turns []models.Turn) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		role := llms.ChatMessageTypeHuman
		switch t.Role {
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, t.Content))
	}
	return msgs
}
