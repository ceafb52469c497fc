package rag

import (
	"context"
	"iter"
	"maps"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"rag-apps/internal/apperr"
	"rag-apps/internal/chunker"
	"rag-apps/internal/config"
	"rag-apps/internal/embedding"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/models"
	"rag-apps/internal/vectorstore"
)

const embedBatch = 64

// Answer is the generated text together with the matches it was built from.
type Answer struct {
	Text    string                 `json:"answer"`
	Sources models.RetrievalResult `json:"sources"`
}

// Pipeline ties chunking, embedding, the index store and generation into
// ingest and question answering.
type Pipeline struct {
	splitter *chunker.Splitter
	embedder embedding.Embedder
	store    vectorstore.Store
	gen      llmservice.Generator
	metric   models.Metric
	topK     int

	qaPrompt      prompts.PromptTemplate
	summaryPrompt prompts.PromptTemplate
}

func New(splitter *chunker.Splitter, embedder embedding.Embedder, store vectorstore.Store, gen llmservice.Generator, cfg config.RAGConfig) *Pipeline {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 2
	}
	metric := models.Metric(cfg.Metric)
	if metric == "" {
		metric = models.MetricCosine
	}
	return &Pipeline{
		splitter:      splitter,
		embedder:      embedder,
		store:         store,
		gen:           gen,
		metric:        metric,
		topK:          topK,
		qaPrompt:      prompts.NewPromptTemplate(models.QAPromptTemplate, []string{"context", "question"}),
		summaryPrompt: prompts.NewPromptTemplate(models.SummaryPromptTemplate, []string{"text"}),
	}
}

func (p *Pipeline) Store() vectorstore.Store { return p.store }
func (p *Pipeline) Embedder() embedding.Embedder { return p.embedder }
func (p *Pipeline) Generator() llmservice.Generator { return p.gen }

// Ingest chunks docs, embeds the chunks in batches and upserts them into
// index, creating it with the embedder's dimension when absent. It returns
// the number of records written.
func (p *Pipeline) Ingest(ctx context.Context, index string, docs []models.Document) (int, error) {
	if len(docs) == 0 {
		return 0, apperr.New(apperr.KindInputInvalid, "rag.Ingest", "no documents to ingest")
	}
	if err := p.checkRecordIDs(docs); err != nil {
		return 0, err
	}
	if err := p.store.EnsureIndex(ctx, index, p.embedder.Dimension(), p.metric); err != nil {
		return 0, err
	}
	written := 0
	for batch := range batches(p.splitter.SplitDocuments(docs), embedBatch) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, err
		}
		records := make([]models.IndexRecord, len(batch))
		for i, c := range batch {
			records[i] = models.IndexRecord{
				ID:        c.RecordID(),
				Content:   c.Content,
				Metadata:  maps.Clone(c.Metadata),
				Embedding: vecs[i],
			}
		}
		if err := p.store.Upsert(ctx, index, records); err != nil {
			return written, err
		}
		written += len(records)
	}
	log.Info().Str("index", index).Int("documents", len(docs)).Int("records", written).Msg("Ingested documents")
	return written, nil
}

// checkRecordIDs rejects inputs where two documents map to the same record
// id, since the later one would silently replace the earlier.
func (p *Pipeline) checkRecordIDs(docs []models.Document) error {
	owner := make(map[string]int)
	for c := range p.splitter.SplitDocuments(docs) {
		id := c.RecordID()
		if prev, ok := owner[id]; ok && prev != c.DocumentIndex {
			return apperr.New(apperr.KindInputInvalid, "rag.Ingest",
				"documents %d and %d share record id %q, give them distinct sources", prev, c.DocumentIndex, id)
		}
		owner[id] = c.DocumentIndex
	}
	return nil
}

// batches groups chunks, skipping those with no visible text.
func batches(seq iter.Seq[models.Chunk], size int) iter.Seq[[]models.Chunk] {
	return func(yield func([]models.Chunk) bool) {
		batch := make([]models.Chunk, 0, size)
		for c := range seq {
			if strings.TrimSpace(c.Content) == "" {
				continue
			}
			batch = append(batch, c)
			if len(batch) == size {
				if !yield(batch) {
					return
				}
				batch = make([]models.Chunk, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}

// Retrieve embeds query and returns the k closest records. k of zero means
// the configured top_k.
func (p *Pipeline) Retrieve(ctx context.Context, index, query string, k int, filter map[string]string) (models.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.KindInputInvalid, "rag.Retrieve", "query is empty")
	}
	if k == 0 {
		k = p.topK
	}
	if k < 0 {
		return nil, apperr.New(apperr.KindInputInvalid, "rag.Retrieve", "k must be positive, got %d", k)
	}
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	res, err := p.store.Query(ctx, index, vec, k, filter)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("index", index).Int("k", k).Int("matches", len(res)).Msg("Retrieved")
	return res, nil
}

// Answer retrieves context for query and asks the generator with every
// retrieved text stuffed into one prompt. The model output is returned as is.
func (p *Pipeline) Answer(ctx context.Context, index, query string, k int, filter map[string]string) (Answer, error) {
	matches, err := p.Retrieve(ctx, index, query, k, filter)
	if err != nil {
		return Answer{}, err
	}
	prompt, err := p.qaPrompt.Format(map[string]any{
		"context":  strings.Join(matches.Texts(), models.ContextSeparator),
		"question": query,
	})
	if err != nil {
		return Answer{}, apperr.Wrap(apperr.KindInputInvalid, "rag.Answer", err)
	}
	text, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Sources: matches}, nil
}

// Summarize asks for a concise summary of text.
func (p *Pipeline) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.KindInputInvalid, "rag.Summarize", "nothing to summarize")
	}
	prompt, err := p.summaryPrompt.Format(map[string]any{"text": text})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInputInvalid, "rag.Summarize", err)
	}
	return p.gen.Generate(ctx, prompt)
}
