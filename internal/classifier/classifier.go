package classifier

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"rag-apps/internal/apperr"
	"rag-apps/internal/embedding"
)

// Example is one labelled training row.
type Example struct {
	Text       string
	Department string
}

// ReadLabelledCSV reads headerless "text,department" rows. Rows without a
// label are skipped.
func ReadLabelledCSV(r io.Reader) ([]Example, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var out []Example
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInputInvalid, "classifier.ReadCSV", err)
		}
		if len(rec) < 2 {
			continue
		}
		text, dept := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		if text == "" || dept == "" {
			continue
		}
		out = append(out, Example{Text: text, Department: dept})
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.KindInputInvalid, "classifier.ReadCSV", "no labelled rows found")
	}
	return out, nil
}

// Model is a nearest centroid classifier over embedding vectors.
type Model struct {
	EmbeddingModel string      `json:"embedding_model"`
	Dimension      int         `json:"dimension"`
	Departments    []string    `json:"departments"`
	Centroids      [][]float32 `json:"centroids"`
	TrainedAt      time.Time   `json:"trained_at"`
}

// Report summarises a training run.
type Report struct {
	TrainSize int     `json:"train_size"`
	TestSize  int     `json:"test_size"`
	Accuracy  float64 `json:"accuracy"`
}

// Train embeds every example, fits centroids on a seeded shuffle of
// 1-testFraction of them and scores the held out rest.
func Train(ctx context.Context, emb embedding.Embedder, examples []Example, testFraction float64) (*Model, Report, error) {
	const op = "classifier.Train"
	if len(examples) < 2 {
		return nil, Report{}, apperr.New(apperr.KindInputInvalid, op, "need at least 2 examples, got %d", len(examples))
	}
	if testFraction < 0 || testFraction >= 1 {
		return nil, Report{}, apperr.New(apperr.KindInputInvalid, op, "test fraction must be in [0,1), got %v", testFraction)
	}
	texts := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, Report{}, err
	}

	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewPCG(0, 0))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	nTest := int(float64(len(order)) * testFraction)
	test, train := order[:nTest], order[nTest:]

	sums := map[string][]float64{}
	counts := map[string]int{}
	for _, i := range train {
		d := examples[i].Department
		if sums[d] == nil {
			sums[d] = make([]float64, emb.Dimension())
		}
		for j, x := range vecs[i] {
			sums[d][j] += float64(x)
		}
		counts[d]++
	}
	m := &Model{
		EmbeddingModel: emb.Model(),
		Dimension:      emb.Dimension(),
		TrainedAt:      time.Now().UTC(),
	}
	for d := range sums {
		m.Departments = append(m.Departments, d)
	}
	slices.Sort(m.Departments)
	for _, d := range m.Departments {
		c := make([]float32, m.Dimension)
		for j, s := range sums[d] {
			c[j] = float32(s / float64(counts[d]))
		}
		m.Centroids = append(m.Centroids, c)
	}

	rep := Report{TrainSize: len(train), TestSize: len(test)}
	if len(test) > 0 {
		hits := 0
		for _, i := range test {
			got, _, err := m.Predict(vecs[i])
			if err != nil {
				return nil, Report{}, err
			}
			if got == examples[i].Department {
				hits++
			}
		}
		rep.Accuracy = float64(hits) / float64(len(test))
	}
	log.Info().Int("departments", len(m.Departments)).Int("train", rep.TrainSize).Int("test", rep.TestSize).
		Float64("accuracy", rep.Accuracy).Msg("Trained classifier")
	return m, rep, nil
}

// Predict returns the department whose centroid is most cosine-similar.
func (m *Model) Predict(vec []float32) (string, float32, error) {
	if len(m.Centroids) == 0 {
		return "", 0, apperr.New(apperr.KindInputInvalid, "classifier.Predict", "model has no departments")
	}
	if len(vec) != m.Dimension {
		return "", 0, apperr.New(apperr.KindIndexDimensionMismatch, "classifier.Predict",
			"model trained on %d dimensions, got %d", m.Dimension, len(vec))
	}
	best, bestScore := 0, float32(math.Inf(-1))
	for i, c := range m.Centroids {
		if s := cosine(vec, c); s > bestScore {
			best, bestScore = i, s
		}
	}
	return m.Departments[best], bestScore, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / math.Sqrt(na*nb))
}

func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "classifier.Load", fmt.Errorf("no trained model at %s: %w", path, err))
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "classifier.Load", err)
	}
	if len(m.Departments) != len(m.Centroids) {
		return nil, apperr.New(apperr.KindInputInvalid, "classifier.Load", "corrupt model: %d departments, %d centroids", len(m.Departments), len(m.Centroids))
	}
	return &m, nil
}
