package chromemdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/models"
	"rag-apps/internal/vectorstore"
	"rag-apps/internal/vectorstore/storetest"
)

func TestInMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectorstore.Store {
		m, err := NewVectorDBManager(config.ChromemConfig{InMemory: true})
		require.NoError(t, err)
		return m
	}, models.MetricCosine)
}

func TestPersistentStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectorstore.Store {
		m, err := NewVectorDBManager(config.ChromemConfig{Path: t.TempDir()})
		require.NoError(t, err)
		return m
	}, models.MetricCosine)
}

func TestOnlyCosineIsSupported(t *testing.T) {
	m, err := NewVectorDBManager(config.ChromemConfig{InMemory: true})
	require.NoError(t, err)
	err = m.EnsureIndex(context.Background(), "docs", 3, models.MetricEuclidean)
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
}

func TestDimensionGuardSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewVectorDBManager(config.ChromemConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, m.EnsureIndex(ctx, "tickets", 3, models.MetricCosine))
	require.NoError(t, m.Upsert(ctx, "tickets", []models.IndexRecord{
		{ID: "t1", Content: "laptop broken", Embedding: []float32{1, 0, 0}},
	}))

	reopened, err := NewVectorDBManager(config.ChromemConfig{Path: dir})
	require.NoError(t, err)
	err = reopened.EnsureIndex(ctx, "tickets", 768, models.MetricCosine)
	assert.ErrorIs(t, err, apperr.ErrIndexDimensionMismatch)

	res, err := reopened.Query(ctx, "tickets", []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "laptop broken", res[0].Content)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := "0123456789abcdef0123456789abcdef"

	src, err := NewVectorDBManager(config.ChromemConfig{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, src.EnsureIndex(ctx, "docs", 3, models.MetricCosine))
	require.NoError(t, src.Upsert(ctx, "docs", []models.IndexRecord{
		{ID: "a", Content: "alpha", Metadata: map[string]string{"source": "a.pdf"}, Embedding: []float32{1, 0, 0}},
	}))

	path, err := src.Export(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "docs.chromem"), path)

	dst, err := NewVectorDBManager(config.ChromemConfig{InMemory: true, EncryptionKey: key})
	require.NoError(t, err)
	names, err := dst.Import(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names)

	infos, err := dst.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 3, infos[0].Dimension)
	assert.Equal(t, 1, infos[0].Count)
}

const testKey = "0123456789abcdef0123456789abcdef"

func newExporter(t *testing.T) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(config.ChromemConfig{Path: t.TempDir(), EncryptionKey: testKey})
	require.NoError(t, err)
	return m
}

func addIndex(t *testing.T, m *VectorDBManager, name string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.EnsureIndex(ctx, name, len(vec), models.MetricCosine))
	require.NoError(t, m.Upsert(ctx, name, []models.IndexRecord{{ID: name + "-1", Content: name, Embedding: vec}}))
}

func TestImportKeepsIndexesCreatedAfterExport(t *testing.T) {
	ctx := context.Background()
	m := newExporter(t)
	addIndex(t, m, "alpha", []float32{1, 0, 0})
	path, err := m.Export(ctx, "alpha")
	require.NoError(t, err)
	addIndex(t, m, "beta", []float32{0, 1, 0})

	names, err := m.Import(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)

	infos, err := m.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "beta", infos[1].Name)

	err = m.EnsureIndex(ctx, "beta", 5, models.MetricCosine)
	assert.ErrorIs(t, err, apperr.ErrIndexDimensionMismatch)
	res, err := m.Query(ctx, "beta", []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "beta", res[0].Content)
}

func TestImportRegistersOnlyExportedIndexes(t *testing.T) {
	ctx := context.Background()
	src := newExporter(t)
	addIndex(t, src, "alpha", []float32{1, 0, 0})
	addIndex(t, src, "beta", []float32{0, 1, 0})
	path, err := src.Export(ctx, "alpha")
	require.NoError(t, err)

	dst, err := NewVectorDBManager(config.ChromemConfig{InMemory: true, EncryptionKey: testKey})
	require.NoError(t, err)
	_, err = dst.Import(ctx, path)
	require.NoError(t, err)

	infos, err := dst.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "alpha", infos[0].Name)

	_, err = dst.Query(ctx, "beta", []float32{0, 1, 0}, 1, nil)
	assert.ErrorIs(t, err, apperr.ErrIndexNotFound)
	require.NoError(t, dst.EnsureIndex(ctx, "beta", 5, models.MetricCosine))
	require.NoError(t, dst.Upsert(ctx, "beta", []models.IndexRecord{
		{ID: "b", Content: "fresh", Embedding: []float32{0, 0, 0, 0, 1}},
	}))
}

func TestImportRejectsDimensionClash(t *testing.T) {
	ctx := context.Background()
	src := newExporter(t)
	addIndex(t, src, "alpha", []float32{1, 0, 0})
	path, err := src.Export(ctx, "alpha")
	require.NoError(t, err)

	dst, err := NewVectorDBManager(config.ChromemConfig{InMemory: true, EncryptionKey: testKey})
	require.NoError(t, err)
	addIndex(t, dst, "alpha", []float32{0, 0, 0, 0, 1})

	_, err = dst.Import(ctx, path)
	assert.ErrorIs(t, err, apperr.ErrIndexDimensionMismatch)

	infos, err := dst.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 5, infos[0].Dimension)
	res, err := dst.Query(ctx, "alpha", []float32{0, 0, 0, 0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestExportRequiresKey(t *testing.T) {
	m, err := NewVectorDBManager(config.ChromemConfig{Path: t.TempDir()})
	require.NoError(t, err)
	_, err = m.Export(context.Background(), "docs")
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
}
