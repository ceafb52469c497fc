package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/models"
	"rag-apps/internal/vectorstore"
)

// registryName holds one document per index carrying its dimension and
// metric, so the dimension guard survives a restart of a persistent DB.
const registryName = "_indexes"

// VectorDBManager is a vectorstore.Store on top of chromem-go, either in
// memory or persisted under dbPath.
type VectorDBManager struct {
	mu            sync.Mutex
	db            *chromem.DB
	registry      *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
}

var _ vectorstore.Store = (*VectorDBManager)(nil)

// noEmbed is installed on every collection: records always arrive embedded.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: records must carry embeddings")
}

// NewVectorDBManager opens the database described by cfg.
func NewVectorDBManager(cfg config.ChromemConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIndexUnavailable, "chromemdb.Open", fmt.Errorf("failed to create database: %w", err))
		}
	}
	reg, err := db.GetOrCreateCollection(registryName, nil, noEmbed)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, "chromemdb.Open", fmt.Errorf("failed to create/get registry: %w", err))
	}
	log.Debug().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Opened chromem database")
	return &VectorDBManager{
		db:            db,
		registry:      reg,
		dbPath:        cfg.Path,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
	}, nil
}

func (m *VectorDBManager) info(ctx context.Context, name string) (models.IndexInfo, bool) {
	doc, err := m.registry.GetByID(ctx, name)
	if err != nil {
		return models.IndexInfo{}, false
	}
	dim, _ := strconv.Atoi(doc.Metadata["dimension"])
	return models.IndexInfo{Name: name, Dimension: dim, Metric: models.Metric(doc.Metadata["metric"])}, true
}

func (m *VectorDBManager) collection(ctx context.Context, op, name string) (*chromem.Collection, models.IndexInfo, error) {
	if err := vectorstore.ValidateName(op, name); err != nil {
		return nil, models.IndexInfo{}, err
	}
	info, ok := m.info(ctx, name)
	if !ok {
		return nil, info, vectorstore.NotFound(op, name)
	}
	c := m.db.GetCollection(name, noEmbed)
	if c == nil {
		return nil, info, vectorstore.NotFound(op, name)
	}
	return c, info, nil
}

func (m *VectorDBManager) EnsureIndex(ctx context.Context, name string, dimension int, metric models.Metric) error {
	const op = "chromemdb.EnsureIndex"
	if err := vectorstore.ValidateEnsure(op, name, dimension, metric); err != nil {
		return err
	}
	if metric != models.MetricCosine {
		return apperr.New(apperr.KindInputInvalid, op, "chromem only supports the cosine metric, got %s", metric)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.info(ctx, name); ok {
		return vectorstore.CheckExisting(op, existing, dimension, metric)
	}
	meta := map[string]string{"dimension": strconv.Itoa(dimension), "metric": string(metric)}
	if _, err := m.db.GetOrCreateCollection(name, meta, noEmbed); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to create/get collection: %w", err))
	}
	entry := chromem.Document{
		ID:        name,
		Content:   name,
		Metadata:  map[string]string{"index": name, "dimension": meta["dimension"], "metric": meta["metric"]},
		Embedding: []float32{1},
	}
	if err := m.registry.AddDocument(ctx, entry); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to register index: %w", err))
	}
	log.Info().Str("index", name).Int("dimension", dimension).Msg("Created index")
	return nil
}

func (m *VectorDBManager) Upsert(ctx context.Context, name string, records []models.IndexRecord) error {
	const op = "chromemdb.Upsert"
	c, info, err := m.collection(ctx, op, name)
	if err != nil {
		return err
	}
	records, err = vectorstore.PrepareRecords(op, info.Dimension, records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Embedding: r.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to add documents: %w", err))
	}
	return nil
}

func (m *VectorDBManager) Query(ctx context.Context, name string, vector []float32, k int, filter map[string]string) (models.RetrievalResult, error) {
	const op = "chromemdb.Query"
	c, info, err := m.collection(ctx, op, name)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(op, info.Dimension, vector, k); err != nil {
		return nil, err
	}
	// chromem rejects nResults above the collection size
	n := min(k, c.Count())
	if n == 0 {
		return models.RetrievalResult{}, nil
	}
	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	res, err := c.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to query by similarity: %w", err))
	}
	out := make(models.RetrievalResult, 0, len(res))
	for _, r := range res {
		out = append(out, models.Match{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Score: r.Similarity})
	}
	return vectorstore.SortMatches(out, k), nil
}

func (m *VectorDBManager) ListIndexes(ctx context.Context) ([]models.IndexInfo, error) {
	var infos []models.IndexInfo
	for name, c := range m.db.ListCollections() {
		if name == registryName {
			continue
		}
		info, ok := m.info(ctx, name)
		if !ok {
			continue
		}
		info.Count = c.Count()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (m *VectorDBManager) DeleteIndex(ctx context.Context, name string) error {
	const op = "chromemdb.DeleteIndex"
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, _, err := m.collection(ctx, op, name); err != nil {
		return err
	}
	if err := m.db.DeleteCollection(name); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to drop collection: %w", err))
	}
	if err := m.registry.Delete(ctx, nil, nil, name); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to unregister index: %w", err))
	}
	log.Info().Str("index", name).Msg("Deleted index")
	return nil
}

// Export writes the named index and the registry to an encrypted file next
// to the database. Import only registers indexes whose collection is in the
// file, so other registry entries are inert.
func (m *VectorDBManager) Export(ctx context.Context, name string) (string, error) {
	const op = "chromemdb.Export"
	if m.encryptionKey == "" {
		return "", apperr.New(apperr.KindInputInvalid, op, "encryption key is required")
	}
	if m.dbPath == "" {
		return "", apperr.New(apperr.KindInputInvalid, op, "db path is required")
	}
	if _, _, err := m.collection(ctx, op, name); err != nil {
		return "", err
	}
	filePath := filepath.Join(m.dbPath, name+".chromem")
	log.Debug().Str("collection", name).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, name, registryName); err != nil {
		return "", apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to export database: %w", err))
	}
	return filePath, nil
}

// Import loads the indexes written by Export and merges their registry
// entries into the live registry. Nothing is written when an imported index
// clashes with a live one of another dimension or metric. An imported index
// replaces the records of a compatible live index of the same name.
func (m *VectorDBManager) Import(ctx context.Context, filePath string) ([]string, error) {
	const op = "chromemdb.Import"
	staging := chromem.NewDB()
	if err := staging.ImportFromFile(filePath, m.encryptionKey); err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, op, fmt.Errorf("failed to read export: %w", err))
	}
	stagingReg := staging.GetCollection(registryName, noEmbed)
	if stagingReg == nil {
		return nil, apperr.New(apperr.KindInputInvalid, op, "export file has no index registry")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var imported []models.IndexInfo
	for name := range staging.ListCollections() {
		if name == registryName {
			continue
		}
		doc, err := stagingReg.GetByID(ctx, name)
		if err != nil {
			return nil, apperr.New(apperr.KindInputInvalid, op, "export file has no registry entry for %q", name)
		}
		dim, _ := strconv.Atoi(doc.Metadata["dimension"])
		info := models.IndexInfo{Name: name, Dimension: dim, Metric: models.Metric(doc.Metadata["metric"])}
		if existing, ok := m.info(ctx, name); ok {
			if err := vectorstore.CheckExisting(op, existing, info.Dimension, info.Metric); err != nil {
				return nil, err
			}
		}
		imported = append(imported, info)
	}
	if len(imported) == 0 {
		return nil, apperr.New(apperr.KindInputInvalid, op, "export file holds no index")
	}
	sort.Slice(imported, func(i, j int) bool { return imported[i].Name < imported[j].Name })

	names := make([]string, len(imported))
	for i, info := range imported {
		names[i] = info.Name
	}
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, names...); err != nil {
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to import database: %w", err))
	}
	for _, info := range imported {
		entry := chromem.Document{
			ID:        info.Name,
			Content:   info.Name,
			Metadata:  map[string]string{"index": info.Name, "dimension": strconv.Itoa(info.Dimension), "metric": string(info.Metric)},
			Embedding: []float32{1},
		}
		if err := m.registry.AddDocument(ctx, entry); err != nil {
			return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("failed to register index: %w", err))
		}
		log.Info().Str("index", info.Name).Int("dimension", info.Dimension).Msg("Imported index")
	}
	return names, nil
}

// Close is a no-op; persistent writes happen on every change.
func (m *VectorDBManager) Close() error { return nil }
