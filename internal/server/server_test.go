package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-apps/internal/agent"
	"rag-apps/internal/apperr"
	"rag-apps/internal/chunker"
	"rag-apps/internal/classifier"
	"rag-apps/internal/config"
	"rag-apps/internal/copywriter"
	"rag-apps/internal/fakes"
	"rag-apps/internal/models"
	"rag-apps/internal/rag"
	"rag-apps/internal/vectorstore/chromemdb"
)

type fixture struct {
	srv *Server
	gen *fakes.Generator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := config.Default()
	splitter, err := chunker.NewFromConfig(cfg.RAG)
	require.NoError(t, err)
	store, err := chromemdb.NewVectorDBManager(config.ChromemConfig{InMemory: true})
	require.NoError(t, err)
	emb := &fakes.Embedder{}
	gen := &fakes.Generator{Reply: "Refunds take five days."}
	p := rag.New(splitter, emb, store, gen, cfg.RAG)

	_, err = p.Ingest(context.Background(), cfg.RAG.IndexName, []models.Document{
		{Content: "Refunds are processed within five business days.", Metadata: map[string]string{models.MetaSource: "refunds.md"}},
		{Content: "The office opens at nine.", Metadata: map[string]string{models.MetaSource: "hours.md"}},
	})
	require.NoError(t, err)

	model, _, err := classifier.Train(context.Background(), emb, []classifier.Example{
		{Text: "aaa bbb", Department: "HR"}, {Text: "abab", Department: "HR"},
		{Text: "xxx yyy", Department: "IT"}, {Text: "xyxy", Department: "IT"},
	}, 0)
	require.NoError(t, err)

	srv := New(cfg, Deps{
		Pipeline:  p,
		Router:    classifier.NewRouter(model, emb),
		Agent:     agent.NewTableAgent(agent.NewLLMDelegate(gen), cfg.Agent.MaxRows),
		Writer:    copywriter.New(gen),
		Generator: gen,
	})
	return fixture{srv: srv, gen: gen}
}

func (f fixture) do(t *testing.T, method, path, body, session string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])
}

func TestAskReturnsAnswerAndSources(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/ask", `{"query":"How long do refunds take?","k":1}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ans := decode[rag.Answer](t, resp)
	assert.Equal(t, "Refunds take five days.", ans.Text)
	require.Len(t, ans.Sources, 1)
	assert.Contains(t, f.gen.LastPrompt(), "Question: How long do refunds take?")
}

func TestSearchErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/search", `{"query":"refunds","k":2}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[searchResponse](t, resp).Matches, 2)

	resp = f.do(t, http.MethodPost, "/api/search", `{"query":""}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperr.KindInputInvalid, decode[ErrorResponse](t, resp).Kind)

	resp = f.do(t, http.MethodPost, "/api/search", `{"index":"missing","query":"refunds"}`, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/search", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTicketsAreSessionScoped(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/tickets", `{"text":"xx yy xy"}`, "alice")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alice", resp.Header.Get(SessionHeader))
	assert.Equal(t, "IT", decode[models.Ticket](t, resp).Department)

	lists := decode[map[string][]models.Ticket](t, f.do(t, http.MethodGet, "/api/tickets", "", "alice"))
	assert.Len(t, lists["IT"], 1)
	assert.Empty(t, lists["HR"])

	other := decode[map[string][]models.Ticket](t, f.do(t, http.MethodGet, "/api/tickets", "", "bob"))
	assert.Empty(t, other["IT"])
}

func TestNewSessionIDIssued(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/tickets", "", "")
	assert.NotEmpty(t, resp.Header.Get(SessionHeader))
}

func TestChatKeepsHistoryPerSession(t *testing.T) {
	f := newFixture(t)
	f.gen.Script = []string{"Hello Trish.", "Your name is Trish."}

	f.do(t, http.MethodPost, "/api/chat", `{"message":"I am Trish"}`, "s1")
	resp := f.do(t, http.MethodPost, "/api/chat", `{"message":"What is my name?"}`, "s1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[chatResponse](t, resp)
	assert.Equal(t, "Your name is Trish.", out.Reply)
	assert.Len(t, out.Turns, 5)
	assert.Equal(t, models.RoleSystem, out.Turns[0].Role)
}

func TestChatGenerationFailureIs502(t *testing.T) {
	f := newFixture(t)
	f.gen.Err = apperr.Wrap(apperr.KindGenerationUnavailable, "fake", errors.New("timeout"))
	resp := f.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, "s1")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, "Service temporarily unavailable")
}

func TestAnalyzeUpload(t *testing.T) {
	f := newFixture(t)
	f.gen.Reply = "south"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "sales.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "region,amount\nnorth,1\nsouth,9\n")
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("query", "top region?"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[analyzeResponse](t, resp).Result, "**Query Result:**\nsouth")

	resp = f.do(t, http.MethodPost, "/api/analyze", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCopy(t *testing.T) {
	f := newFixture(t)
	f.gen.Reply = "Buy it!"
	resp := f.do(t, http.MethodPost, "/api/copy", `{"query":"phone","age_group":"Adult","task":"Create a tweet"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Buy it!", decode[map[string]string](t, resp)["copy"])
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		apperr.New(apperr.KindIndexDimensionMismatch, "op", "x"): http.StatusConflict,
		apperr.New(apperr.KindIndexUnavailable, "op", "x"):       http.StatusServiceUnavailable,
		apperr.New(apperr.KindStoreUnavailable, "op", "x"):       http.StatusServiceUnavailable,
		apperr.New(apperr.KindEmbeddingUnavailable, "op", "x"):   http.StatusBadGateway,
		fiber.ErrMethodNotAllowed:                                 http.StatusMethodNotAllowed,
		errors.New("boom"):                                        http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}

func TestSessionStoreReusesSession(t *testing.T) {
	s := NewSessionStore(0, 10, []string{"HR"})
	a := s.Get("x")
	a.History.Append(models.RoleUser, "hi")
	b := s.Get("x")
	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Count())
	s.Delete("x")
	assert.NotSame(t, a, s.Get("x"))
}
