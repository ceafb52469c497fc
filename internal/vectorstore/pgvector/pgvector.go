package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"rag-apps/internal/apperr"
	"rag-apps/internal/db"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
	"rag-apps/internal/vectorstore"
)

type IndexRow struct {
	bun.BaseModel `bun:"table:vector_indexes,alias:vi"`
	Name          string    `bun:"name,pk"`
	Dimension     int       `bun:"dimension,notnull"`
	Metric        string    `bun:"metric,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type RecordRow struct {
	bun.BaseModel `bun:"table:vector_records,alias:vr"`
	IndexName     string            `bun:"index_name,pk"`
	ID            string            `bun:"id,pk"`
	Content       string            `bun:"content,notnull"`
	Metadata      map[string]string `bun:"metadata,type:jsonb,notnull"`
	Embedding     pgvector.Vector   `bun:"embedding,type:vector,notnull"`
	Distance      float64           `bun:"distance,scanonly"`
}

// Store keeps every index in one records table keyed by (index_name, id).
type Store struct {
	db     *bun.DB
	policy helper.RetryPolicy
}

var _ vectorstore.Store = (*Store)(nil)

func New(bdb *bun.DB, policy helper.RetryPolicy) *Store {
	return &Store{db: bdb, policy: policy}
}

// InitDB installs the extension and creates both tables.
func (s *Store) InitDB(ctx context.Context) error {
	const op = "pgvector.InitDB"
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	if _, err := s.db.NewCreateTable().Model((*IndexRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	_, err := s.db.NewCreateTable().Model((*RecordRow)(nil)).IfNotExists().
		ForeignKey(`("index_name") REFERENCES "vector_indexes" ("name") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	return nil
}

// DropTables removes both tables.
func (s *Store) DropTables(ctx context.Context) error {
	for _, m := range []any{(*RecordRow)(nil), (*IndexRow)(nil)} {
		if _, err := s.db.NewDropTable().Model(m).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func retry[T any](ctx context.Context, s *Store, name string, op func(ctx context.Context) (T, error)) (T, error) {
	return helper.Retry(ctx, s.policy, "pgvector "+name, func(ctx context.Context) (T, error) {
		v, err := op(ctx)
		return v, db.Classify(err)
	})
}

func (s *Store) index(ctx context.Context, op, name string) (models.IndexInfo, error) {
	if err := vectorstore.ValidateName(op, name); err != nil {
		return models.IndexInfo{}, err
	}
	row, err := retry(ctx, s, "index", func(ctx context.Context) (IndexRow, error) {
		var row IndexRow
		err := s.db.NewSelect().Model(&row).Where("name = ?", name).Scan(ctx)
		return row, err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.IndexInfo{}, vectorstore.NotFound(op, name)
	}
	if err != nil {
		return models.IndexInfo{}, apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	return models.IndexInfo{Name: row.Name, Dimension: row.Dimension, Metric: models.Metric(row.Metric)}, nil
}

func (s *Store) EnsureIndex(ctx context.Context, name string, dimension int, metric models.Metric) error {
	const op = "pgvector.EnsureIndex"
	if err := vectorstore.ValidateEnsure(op, name, dimension, metric); err != nil {
		return err
	}
	_, err := retry(ctx, s, "register", func(ctx context.Context) (sql.Result, error) {
		return s.db.NewInsert().
			Model(&IndexRow{Name: name, Dimension: dimension, Metric: string(metric)}).
			On("CONFLICT (name) DO NOTHING").
			Exec(ctx)
	})
	if err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	// a concurrent or earlier creator may have won; compare what is stored
	existing, err := s.index(ctx, op, name)
	if err != nil {
		return err
	}
	if err := vectorstore.CheckExisting(op, existing, dimension, metric); err != nil {
		return err
	}
	log.Debug().Str("index", name).Int("dimension", dimension).Msg("Index ready")
	return nil
}

func (s *Store) Upsert(ctx context.Context, name string, records []models.IndexRecord) error {
	const op = "pgvector.Upsert"
	info, err := s.index(ctx, op, name)
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
	rows := make([]RecordRow, len(records))
	for i, r := range records {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		rows[i] = RecordRow{
			IndexName: name,
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  meta,
			Embedding: pgvector.NewVector(r.Embedding),
		}
	}
	_, err = retry(ctx, s, "upsert", func(ctx context.Context) (sql.Result, error) {
		return s.db.NewInsert().Model(&rows).
			On("CONFLICT (index_name, id) DO UPDATE").
			Set("content = EXCLUDED.content").
			Set("metadata = EXCLUDED.metadata").
			Set("embedding = EXCLUDED.embedding").
			Exec(ctx)
	})
	if err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	return nil
}

// distanceOperator returns the pgvector operator for metric.
func distanceOperator(metric models.Metric) string {
	switch metric {
	case models.MetricEuclidean:
		return "<->"
	case models.MetricDotProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// scoreFromDistance maps an operator result to a similarity where higher is
// closer. <#> yields the negated inner product.
func scoreFromDistance(metric models.Metric, d float64) float32 {
	switch metric {
	case models.MetricEuclidean:
		return float32(1 / (1 + d))
	case models.MetricDotProduct:
		return float32(-d)
	default:
		return float32(1 - d)
	}
}

func (s *Store) Query(ctx context.Context, name string, vector []float32, k int, filter map[string]string) (models.RetrievalResult, error) {
	const op = "pgvector.Query"
	info, err := s.index(ctx, op, name)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(op, info.Dimension, vector, k); err != nil {
		return nil, err
	}
	var filterJSON []byte
	if len(filter) > 0 {
		if filterJSON, err = json.Marshal(filter); err != nil {
			return nil, apperr.Wrap(apperr.KindInputInvalid, op, err)
		}
	}
	rows, err := retry(ctx, s, "query", func(ctx context.Context) ([]RecordRow, error) {
		var rows []RecordRow
		q := s.db.NewSelect().Model(&rows).
			Column("id", "content", "metadata").
			ColumnExpr("vr.embedding "+distanceOperator(info.Metric)+" ?::vector AS distance", pgvector.NewVector(vector)).
			Where("vr.index_name = ?", name)
		if filterJSON != nil {
			q = q.Where("vr.metadata @> ?::jsonb", string(filterJSON))
		}
		err := q.OrderExpr("distance ASC, vr.id ASC").Limit(k).Scan(ctx)
		return rows, err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	out := make(models.RetrievalResult, len(rows))
	for i, r := range rows {
		out[i] = models.Match{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    scoreFromDistance(info.Metric, r.Distance),
		}
	}
	return vectorstore.SortMatches(out, k), nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]models.IndexInfo, error) {
	const op = "pgvector.ListIndexes"
	var rows []IndexRow
	if err := s.db.NewSelect().Model(&rows).Order("name ASC").Scan(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, err)
	}
	infos := make([]models.IndexInfo, len(rows))
	for i, r := range rows {
		n, err := s.db.NewSelect().Model((*RecordRow)(nil)).Where("index_name = ?", r.Name).Count(ctx)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, err)
		}
		infos[i] = models.IndexInfo{Name: r.Name, Dimension: r.Dimension, Metric: models.Metric(r.Metric), Count: n}
	}
	return infos, nil
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	const op = "pgvector.DeleteIndex"
	if _, err := s.index(ctx, op, name); err != nil {
		return err
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*RecordRow)(nil)).Where("index_name = ?", name).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*IndexRow)(nil)).Where("name = ?", name).Exec(ctx)
		return err
	})
	if err != nil {
		return apperr.Wrap(apperr.KindIndexUnavailable, op, fmt.Errorf("delete index %q: %w", name, err))
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }
