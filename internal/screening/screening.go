package screening

import (
	"cmp"
	"context"
	"io"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"rag-apps/internal/apperr"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
	"rag-apps/internal/parser"
	"rag-apps/internal/rag"
)

// Upload is one resume file as received from the user.
type Upload struct {
	Name   string
	Reader io.ReaderAt
	Size   int64
}

// Candidate is a ranked resume with its generated summary.
type Candidate struct {
	Name    string  `json:"name"`
	Score   float32 `json:"score"`
	Excerpt string  `json:"excerpt"`
	Summary string  `json:"summary"`
}

// Screener ranks uploaded resumes against a job description. Each batch of
// uploads is tagged with a unique id so queries only see that batch.
type Screener struct {
	pipeline *rag.Pipeline
	loader   *parser.Loader
	index    string
}

func New(pipeline *rag.Pipeline, loader *parser.Loader, index string) *Screener {
	return &Screener{pipeline: pipeline, loader: loader, index: index}
}

// NewBatchID returns a fresh id for a set of uploads.
func NewBatchID() (string, error) {
	return helper.GenerateUUID()
}

// Ingest parses and indexes uploads under batchID.
func (s *Screener) Ingest(ctx context.Context, batchID string, uploads []Upload) (int, error) {
	if batchID == "" {
		return 0, apperr.New(apperr.KindInputInvalid, "screening.Ingest", "batch id is empty")
	}
	if len(uploads) == 0 {
		return 0, apperr.New(apperr.KindInputInvalid, "screening.Ingest", "no resumes uploaded")
	}
	docs := make([]models.Document, 0, len(uploads))
	for _, u := range uploads {
		doc, err := s.loader.LoadUpload(u.Name, u.Reader, u.Size, map[string]string{
			models.MetaUniqueID: batchID,
			models.MetaSource:   batchID + "/" + u.Name,
		})
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}
	return s.pipeline.Ingest(ctx, s.index, docs)
}

// Screen returns up to k resumes of batchID closest to jobDescription, best
// first, each summarised by the generator. A resume split into several
// chunks is ranked by its best chunk.
func (s *Screener) Screen(ctx context.Context, batchID, jobDescription string, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, apperr.New(apperr.KindInputInvalid, "screening.Screen", "number of resumes must be positive, got %d", k)
	}
	matches, err := s.pipeline.Retrieve(ctx, s.index, jobDescription, k*4, map[string]string{models.MetaUniqueID: batchID})
	if err != nil {
		return nil, err
	}

	byName := map[string]*Candidate{}
	texts := map[string][]string{}
	var order []*Candidate
	for _, m := range matches {
		name := m.Metadata[models.MetaName]
		texts[name] = append(texts[name], m.Content)
		if c, ok := byName[name]; ok {
			c.Score = max(c.Score, m.Score)
			continue
		}
		c := &Candidate{Name: name, Score: m.Score, Excerpt: excerpt(m.Content)}
		byName[name] = c
		order = append(order, c)
	}
	slices.SortStableFunc(order, func(a, b *Candidate) int { return cmp.Compare(b.Score, a.Score) })
	if len(order) > k {
		order = order[:k]
	}

	out := make([]Candidate, len(order))
	for i, c := range order {
		summary, err := s.pipeline.Summarize(ctx, strings.Join(texts[c.Name], "\n"))
		if err != nil {
			return nil, err
		}
		c.Summary = summary
		out[i] = *c
	}
	log.Info().Str("batch", batchID).Int("candidates", len(out)).Msg("Screened resumes")
	return out, nil
}

func excerpt(s string) string {
	const n = 200
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
