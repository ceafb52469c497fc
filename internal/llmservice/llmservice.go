package llmservice

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Generator produces text from a prompt or a conversation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Chat(ctx context.Context, turns []models.Turn) (string, error)
	Model() string
}

// Backend is a single provider call with no retry logic.
type Backend interface {
	Complete(ctx context.Context, turns []models.Turn) (string, error)
}

// Service adds bounded retries and error classification to a Backend.
// Replies are returned verbatim unless StripThinking is set.
type Service struct {
	backend Backend
	model   string
	policy  helper.RetryPolicy

	StripThinking bool
}

func NewService(backend Backend, model string, policy helper.RetryPolicy) *Service {
	return &Service{backend: backend, model: model, policy: policy}
}

// NewGenerator builds the provider selected by cfg.LLM.Provider.
func NewGenerator(cfg *config.Config) (*Service, error) {
	lc := cfg.LLM
	log.Debug().Str("provider", lc.Provider).Str("model", lc.Model).Str("base_url", lc.BaseURL).Msg("Creating generator")

	var (
		backend Backend
		err     error
	)
	switch lc.Provider {
	case "ollama":
		backend, err = NewOllamaBackend(lc)
	case "openrouter":
		backend, err = NewOpenRouterBackend(lc)
	case "openai":
		backend, err = NewOpenAIBackend(lc)
	default:
		return nil, apperr.New(apperr.KindInputInvalid, "llmservice.NewGenerator", "unsupported llm provider %q", lc.Provider)
	}
	if err != nil {
		return nil, err
	}
	svc := NewService(backend, lc.Model, helper.PolicyFrom(cfg.Retry))
	svc.StripThinking = lc.StripThinking
	return svc, nil
}

func (s *Service) Model() string { return s.model }

func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.New(apperr.KindInputInvalid, "llmservice.Generate", "prompt is empty")
	}
	return s.complete(ctx, "llmservice.Generate", []models.Turn{{Role: models.RoleUser, Content: prompt}})
}

func (s *Service) Chat(ctx context.Context, turns []models.Turn) (string, error) {
	if len(turns) == 0 {
		return "", apperr.New(apperr.KindInputInvalid, "llmservice.Chat", "conversation is empty")
	}
	return s.complete(ctx, "llmservice.Chat", turns)
}

func (s *Service) complete(ctx context.Context, op string, turns []models.Turn) (string, error) {
	out, err := helper.Retry(ctx, s.policy, "generate:"+s.model, func(ctx context.Context) (string, error) {
		return s.backend.Complete(ctx, turns)
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindGenerationUnavailable, op, err)
	}
	if s.StripThinking {
		return CleanResponse(out), nil
	}
	return out, nil
}

// CleanResponse drops reasoning blocks some models emit before the answer.
func CleanResponse(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

var permanentMarkers = []string{
	"status code: 400", "status code: 401", "status code: 403", "status code: 404",
	"invalid api key", "incorrect api key", "unauthorized", "model not found",
}

// classifyMessage marks failures that a retry cannot fix, judged from the
// error text since the langchaingo clients do not expose status codes.
func classifyMessage(err error) error {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return helper.Permanent(err)
		}
	}
	return err
}
