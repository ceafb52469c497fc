package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
)

type scriptedBackend struct {
	calls   atomic.Int32
	fail    int32
	block   bool
	reply   string
	lastLen int
}

func (b *scriptedBackend) Complete(ctx context.Context, turns []models.Turn) (string, error) {
	n := b.calls.Add(1)
	b.lastLen = len(turns)
	if b.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if n <= b.fail {
		return "", errors.New("502 bad gateway")
	}
	return b.reply, nil
}

func testPolicy() helper.RetryPolicy {
	return helper.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		AttemptTimeout:  20 * time.Millisecond,
	}
}

func TestThreeTimeoutsGiveGenerationUnavailable(t *testing.T) {
	b := &scriptedBackend{block: true}
	s := NewService(b, "slow", testPolicy())

	_, err := s.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)
	assert.Equal(t, int32(3), b.calls.Load(), "no fourth attempt")
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	b := &scriptedBackend{fail: 2, reply: "Paris"}
	s := NewService(b, "m", testPolicy())

	out, err := s.Generate(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
	assert.Equal(t, int32(3), b.calls.Load())
}

func TestGenerateReturnsReplyVerbatim(t *testing.T) {
	reply := "<think>let me see</think>\nParis \n"
	s := NewService(&scriptedBackend{reply: reply}, "m", testPolicy())

	out, err := s.Generate(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, reply, out)

	s.StripThinking = true
	out, err = s.Generate(context.Background(), "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	b := &scriptedBackend{reply: "x"}
	s := NewService(b, "m", testPolicy())

	_, err := s.Generate(context.Background(), "  ")
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
	assert.Zero(t, b.calls.Load())
}

func TestChatPassesWholeConversation(t *testing.T) {
	b := &scriptedBackend{reply: "sure"}
	s := NewService(b, "m", testPolicy())

	out, err := s.Chat(context.Background(), []models.Turn{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sure", out)
	assert.Equal(t, 2, b.lastLen)

	_, err = s.Chat(context.Background(), nil)
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
}

func TestClassifyMessage(t *testing.T) {
	perm := classifyMessage(errors.New("API returned unexpected status code: 401: Invalid API key"))
	_, err := helper.Retry(context.Background(), testPolicy(), "t", func(context.Context) (int, error) { return 0, perm })
	assert.EqualError(t, err, "API returned unexpected status code: 401: Invalid API key")

	transient := errors.New("status code: 503")
	assert.Same(t, transient, classifyMessage(transient))
	assert.ErrorIs(t, classifyMessage(context.DeadlineExceeded), context.DeadlineExceeded)
}

type fakeModel struct {
	got  []llms.MessageContent
	opts llms.CallOptions
}

func (m *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.got = msgs
	for _, o := range options {
		o(&m.opts)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangchainBackendMapsRoles(t *testing.T) {
	m := &fakeModel{}
	b := NewLangchainBackend(m, config.LLMConfig{Temperature: 0.3, MaxTokens: 128})

	out, err := b.Complete(context.Background(), []models.Turn{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	require.Len(t, m.got, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.got[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.got[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, m.got[2].Role)
	assert.InDelta(t, 0.3, m.opts.Temperature, 1e-9)
	assert.Equal(t, 128, m.opts.MaxTokens)
}

func chatServer(t *testing.T, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": "Hello there"},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIBackend(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, http.StatusOK, &calls)
	b, err := NewOpenAIBackend(config.LLMConfig{Key: "sk", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	out, err := NewService(b, "gpt-4o-mini", testPolicy()).Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)
}

func TestOpenAIBackendAuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, http.StatusForbidden, &calls)
	b, err := NewOpenAIBackend(config.LLMConfig{Key: "sk", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = NewService(b, "m", testPolicy()).Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewGeneratorRequiresOpenAIKey(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Key = ""
	_, err := NewGenerator(cfg)
	assert.Error(t, err)

	cfg.LLM.Provider = "bard"
	_, err = NewGenerator(cfg)
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
}
