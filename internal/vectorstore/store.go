// Package vectorstore defines the index store contract shared by the
// chromem, pgvector and qdrant backends.
package vectorstore

import (
	"context"
	"regexp"
	"sort"

	"rag-apps/internal/apperr"
	"rag-apps/internal/models"
)

// Store persists embedded records and answers nearest neighbour queries.
type Store interface {
	// EnsureIndex creates the index if absent. An existing index with a
	// different dimension is never reused.
	EnsureIndex(ctx context.Context, name string, dimension int, metric models.Metric) error
	// Upsert inserts or overwrites records by ID.
	Upsert(ctx context.Context, name string, records []models.IndexRecord) error
	// Query returns at most k matches ordered by non-increasing score. Every
	// filter pair must equal the record metadata.
	Query(ctx context.Context, name string, vector []float32, k int, filter map[string]string) (models.RetrievalResult, error)
	ListIndexes(ctx context.Context) ([]models.IndexInfo, error)
	DeleteIndex(ctx context.Context, name string) error
	Close() error
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// ValidateName accepts names that are safe as collection and table keys.
func ValidateName(op, name string) error {
	if !nameRe.MatchString(name) {
		return apperr.New(apperr.KindInputInvalid, op, "invalid index name %q", name)
	}
	return nil
}

func ValidateMetric(op string, metric models.Metric) error {
	switch metric {
	case models.MetricCosine, models.MetricEuclidean, models.MetricDotProduct:
		return nil
	}
	return apperr.New(apperr.KindInputInvalid, op, "unsupported metric %q", metric)
}

// ValidateEnsure checks the arguments of EnsureIndex.
func ValidateEnsure(op, name string, dimension int, metric models.Metric) error {
	if err := ValidateName(op, name); err != nil {
		return err
	}
	if dimension <= 0 {
		return apperr.New(apperr.KindInputInvalid, op, "dimension must be positive, got %d", dimension)
	}
	return ValidateMetric(op, metric)
}

// CheckExisting compares a stored index against an EnsureIndex request.
func CheckExisting(op string, existing models.IndexInfo, dimension int, metric models.Metric) error {
	if existing.Dimension != dimension {
		return apperr.New(apperr.KindIndexDimensionMismatch, op,
			"index %q has dimension %d, requested %d", existing.Name, existing.Dimension, dimension)
	}
	if existing.Metric != metric {
		return apperr.New(apperr.KindInputInvalid, op,
			"index %q uses metric %s, requested %s", existing.Name, existing.Metric, metric)
	}
	return nil
}

// PrepareRecords checks every record against the index dimension and
// collapses duplicate IDs so the last occurrence wins.
func PrepareRecords(op string, dimension int, records []models.IndexRecord) ([]models.IndexRecord, error) {
	pos := make(map[string]int, len(records))
	out := make([]models.IndexRecord, 0, len(records))
	for i, r := range records {
		if r.ID == "" {
			return nil, apperr.New(apperr.KindInputInvalid, op, "record %d has an empty id", i)
		}
		if len(r.Embedding) != dimension {
			return nil, apperr.New(apperr.KindIndexDimensionMismatch, op,
				"record %q has dimension %d, index expects %d", r.ID, len(r.Embedding), dimension)
		}
		if j, ok := pos[r.ID]; ok {
			out[j] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// ValidateQuery checks k and the query vector length.
func ValidateQuery(op string, dimension int, vector []float32, k int) error {
	if k <= 0 {
		return apperr.New(apperr.KindInputInvalid, op, "k must be positive, got %d", k)
	}
	if len(vector) != dimension {
		return apperr.New(apperr.KindIndexDimensionMismatch, op,
			"query has dimension %d, index expects %d", len(vector), dimension)
	}
	return nil
}

// MatchesFilter reports whether meta contains every pair in filter.
func MatchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if got, ok := meta[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// SortMatches orders by score, highest first, with ID as tiebreaker, and
// truncates to k.
func SortMatches(m models.RetrievalResult, k int) models.RetrievalResult {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Score != m[j].Score {
			return m[i].Score > m[j].Score
		}
		return m[i].ID < m[j].ID
	})
	if len(m) > k {
		m = m[:k]
	}
	return m
}

func NotFound(op, name string) error {
	return apperr.New(apperr.KindIndexNotFound, op, "index %q does not exist", name)
}
