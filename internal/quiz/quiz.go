package quiz

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"rag-apps/internal/apperr"
	"rag-apps/internal/chunker"
	"rag-apps/internal/config"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/models"
	"rag-apps/internal/parser"
)

// QuestionSink persists extracted questions.
type QuestionSink interface {
	InsertQuestions(ctx context.Context, questions []models.Question) (int, error)
}

// Extractor asks a model for multiple choice questions chunk by chunk.
type Extractor struct {
	gen      llmservice.Generator
	splitter *chunker.Splitter
	counter  TokenCounter
	prompt   prompts.PromptTemplate
	cfg      config.QuizConfig
	sleep    func(context.Context, time.Duration) error
}

func NewExtractor(gen llmservice.Generator, counter TokenCounter, cfg config.QuizConfig) (*Extractor, error) {
	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, chunker.Whitespace)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = RuneEstimate{}
	}
	return &Extractor{
		gen:      gen,
		splitter: splitter,
		counter:  counter,
		prompt:   prompts.NewPromptTemplate(models.QuestionExtractionPromptTemplate, []string{"text"}),
		cfg:      cfg,
		sleep:    sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Extract splits text and collects the questions of every chunk. Replies
// that hold no parseable JSON are logged and skipped. A generation failure
// stops extraction and returns what was collected so far.
func (e *Extractor) Extract(ctx context.Context, text, source string) ([]models.Question, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindInputInvalid, "quiz.Extract", "no text to extract questions from")
	}
	var chunks []string
	for span := range e.splitter.Split(text) {
		if strings.TrimSpace(span.Text) == "" {
			continue
		}
		chunks = append(chunks, span.Text)
		if e.cfg.MaxChunks > 0 && len(chunks) == e.cfg.MaxChunks {
			break
		}
	}

	var out []models.Question
	pause := time.Duration(e.cfg.RateSleepSecond * float64(time.Second))
	for i, chunk := range chunks {
		log.Info().Int("chunk", i+1).Int("total", len(chunks)).Msg("Extracting questions")
		prompt, err := e.buildPrompt(chunk)
		if err != nil {
			return out, err
		}
		reply, err := e.gen.Generate(ctx, prompt)
		if err != nil {
			return out, err
		}
		items, err := ParseReply(reply)
		if err != nil {
			log.Warn().Err(err).Int("chunk", i+1).Msg("Skipping unparseable reply")
		}
		for _, item := range items {
			if q, ok := Normalize(item, source, e.cfg.Topic, e.cfg.Difficulty); ok {
				out = append(out, q)
			}
		}
		if i < len(chunks)-1 {
			if err := e.sleep(ctx, pause); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// buildPrompt shrinks chunk proportionally, with a 5% margin, until the
// prompt fits max_input_tokens.
func (e *Extractor) buildPrompt(chunk string) (string, error) {
	prompt, err := e.prompt.Format(map[string]any{"text": chunk})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInputInvalid, "quiz.buildPrompt", err)
	}
	limit := e.cfg.MaxInputTokens
	if limit <= 0 {
		return prompt, nil
	}
	for n := e.counter.Count(prompt); n > limit; n = e.counter.Count(prompt) {
		runes := []rune(chunk)
		keep := int(float64(len(runes)) * float64(limit) / float64(n) * 0.95)
		if keep >= len(runes) {
			keep = len(runes) - 1
		}
		if keep <= 0 {
			return "", apperr.New(apperr.KindInputInvalid, "quiz.buildPrompt", "prompt template alone exceeds %d tokens", limit)
		}
		chunk = string(runes[:keep])
		if prompt, err = e.prompt.Format(map[string]any{"text": chunk}); err != nil {
			return "", apperr.Wrap(apperr.KindInputInvalid, "quiz.buildPrompt", err)
		}
	}
	return prompt, nil
}

// ExtractRegex parses questions already laid out in the Q1./(a)..(d) format.
func ExtractRegex(text, source string, cfg config.QuizConfig) []models.Question {
	return parser.ParseMCQText(text, source, cfg.Topic, cfg.Difficulty)
}

// Store writes questions to sink in one batch. An empty set is not an error.
func Store(ctx context.Context, sink QuestionSink, questions []models.Question) (int, error) {
	if len(questions) == 0 {
		log.Info().Msg("No questions to store")
		return 0, nil
	}
	n, err := sink.InsertQuestions(ctx, questions)
	if err != nil {
		return 0, err
	}
	log.Info().Int("questions", n).Msg("Stored questions")
	return n, nil
}
