// Package storetest holds behaviour checks every vectorstore backend must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-apps/internal/apperr"
	"rag-apps/internal/models"
	"rag-apps/internal/vectorstore"
)

// Factory returns an empty store; it is called once per subtest.
type Factory func(t *testing.T) vectorstore.Store

func fixtures() []models.IndexRecord {
	return []models.IndexRecord{
		{ID: "a", Content: "alpha", Metadata: map[string]string{"source": "a.pdf"}, Embedding: []float32{1, 0, 0}},
		{ID: "b", Content: "bravo", Metadata: map[string]string{"source": "b.pdf"}, Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c", Content: "charlie", Metadata: map[string]string{"source": "b.pdf"}, Embedding: []float32{0, 1, 0}},
		{ID: "d", Content: "delta", Metadata: map[string]string{"source": "d.pdf"}, Embedding: []float32{0, 0, 1}},
		{ID: "e", Content: "echo", Metadata: map[string]string{"source": "b.pdf", "page": "2"}, Embedding: []float32{0.5, 0.5, 0}},
	}
}

func seeded(t *testing.T, f Factory, metric models.Metric) vectorstore.Store {
	t.Helper()
	s := f(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureIndex(ctx, "docs", 3, metric))
	require.NoError(t, s.Upsert(ctx, "docs", fixtures()))
	return s
}

func ids(r models.RetrievalResult) []string {
	out := make([]string, len(r))
	for i, m := range r {
		out[i] = m.ID
	}
	return out
}

// Run exercises the Store contract with the given metric.
func Run(t *testing.T, f Factory, metric models.Metric) {
	ctx := context.Background()

	t.Run("EnsureIndexIsIdempotent", func(t *testing.T) {
		s := f(t)
		require.NoError(t, s.EnsureIndex(ctx, "docs", 3, metric))
		require.NoError(t, s.EnsureIndex(ctx, "docs", 3, metric))

		infos, err := s.ListIndexes(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "docs", infos[0].Name)
		assert.Equal(t, 3, infos[0].Dimension)
		assert.Equal(t, metric, infos[0].Metric)
	})

	t.Run("EnsureIndexGuardsDimension", func(t *testing.T) {
		s := f(t)
		require.NoError(t, s.EnsureIndex(ctx, "docs", 3, metric))
		err := s.EnsureIndex(ctx, "docs", 4, metric)
		assert.ErrorIs(t, err, apperr.ErrIndexDimensionMismatch)
	})

	t.Run("EnsureIndexRejectsBadArguments", func(t *testing.T) {
		s := f(t)
		assert.ErrorIs(t, s.EnsureIndex(ctx, "docs", 0, metric), apperr.ErrInputInvalid)
		assert.ErrorIs(t, s.EnsureIndex(ctx, "bad name!", 3, metric), apperr.ErrInputInvalid)
		assert.ErrorIs(t, s.EnsureIndex(ctx, "docs", 3, "manhattan"), apperr.ErrInputInvalid)
	})

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		s := seeded(t, f, metric)
		first, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 5, nil)
		require.NoError(t, err)

		require.NoError(t, s.Upsert(ctx, "docs", fixtures()))
		second, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 5, nil)
		require.NoError(t, err)

		assert.Equal(t, ids(first), ids(second))
		infos, err := s.ListIndexes(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, 5, infos[0].Count)
	})

	t.Run("UpsertOverwritesByID", func(t *testing.T) {
		s := seeded(t, f, metric)
		require.NoError(t, s.Upsert(ctx, "docs", []models.IndexRecord{
			{ID: "a", Content: "alpha v2", Metadata: map[string]string{"source": "a.pdf"}, Embedding: []float32{1, 0, 0}},
		}))
		res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "alpha v2", res[0].Content)
		assert.Equal(t, "a.pdf", res[0].Metadata["source"])
	})

	t.Run("UpsertGuardsDimension", func(t *testing.T) {
		s := seeded(t, f, metric)
		err := s.Upsert(ctx, "docs", []models.IndexRecord{{ID: "x", Content: "x", Embedding: []float32{1, 0}}})
		assert.ErrorIs(t, err, apperr.ErrIndexDimensionMismatch)
	})

	t.Run("QueryTopKOrdering", func(t *testing.T) {
		s := seeded(t, f, metric)
		res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 3, nil)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, []string{"a", "b", "e"}, ids(res))
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}
	})

	t.Run("QueryKLargerThanIndex", func(t *testing.T) {
		s := seeded(t, f, metric)
		res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 50, nil)
		require.NoError(t, err)
		assert.Len(t, res, 5)
	})

	t.Run("QueryFilter", func(t *testing.T) {
		s := seeded(t, f, metric)
		res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 5, map[string]string{"source": "b.pdf"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"b", "c", "e"}, ids(res))

		res, err = s.Query(ctx, "docs", []float32{1, 0, 0}, 5, map[string]string{"source": "b.pdf", "page": "2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"e"}, ids(res))
	})

	t.Run("QueryFilterWithNoMatchesIsEmpty", func(t *testing.T) {
		s := seeded(t, f, metric)
		res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 3, map[string]string{"source": "missing.pdf"})
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("QueryEmptyIndex", func(t *testing.T) {
		s := f(t)
		require.NoError(t, s.EnsureIndex(ctx, "docs", 3, metric))
		res, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 3, nil)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("QueryRejectsBadArguments", func(t *testing.T) {
		s := seeded(t, f, metric)
		_, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 0, nil)
		assert.ErrorIs(t, err, apperr.ErrInputInvalid)
		_, err = s.Query(ctx, "docs", []float32{1, 0}, 2, nil)
		assert.ErrorIs(t, err, apperr.ErrIndexDimensionMismatch)
	})

	t.Run("UnknownIndex", func(t *testing.T) {
		s := f(t)
		_, err := s.Query(ctx, "nope", []float32{1, 0, 0}, 1, nil)
		assert.ErrorIs(t, err, apperr.ErrIndexNotFound)
		err = s.Upsert(ctx, "nope", fixtures())
		assert.ErrorIs(t, err, apperr.ErrIndexNotFound)
		assert.ErrorIs(t, s.DeleteIndex(ctx, "nope"), apperr.ErrIndexNotFound)
	})

	t.Run("DeleteIndex", func(t *testing.T) {
		s := seeded(t, f, metric)
		require.NoError(t, s.DeleteIndex(ctx, "docs"))
		_, err := s.Query(ctx, "docs", []float32{1, 0, 0}, 1, nil)
		assert.ErrorIs(t, err, apperr.ErrIndexNotFound)
		infos, err := s.ListIndexes(ctx)
		require.NoError(t, err)
		assert.Empty(t, infos)

		// a deleted name can be reused with another dimension
		require.NoError(t, s.EnsureIndex(ctx, "docs", 2, metric))
	})
}
