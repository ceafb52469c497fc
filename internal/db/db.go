package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
)

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a pool with the configured driver. Connections are lazy.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, apperr.New(apperr.KindInputInvalid, "db.Connect", "database dsn is empty")
	}
	switch cfg.Driver {
	case "", "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	default:
		return nil, apperr.New(apperr.KindInputInvalid, "db.Connect", "unsupported database driver %q", cfg.Driver)
	}
}

// Open connects, wraps the pool in bun and checks the server is reachable.
func Open(ctx context.Context, cfg config.DatabaseConfig, policy helper.RetryPolicy) (*bun.DB, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg.Debug)
	_, err = helper.Retry(ctx, policy, "db ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, Classify(db.PingContext(ctx))
	})
	if err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "db.Open", err)
	}
	log.Debug().Str("driver", cfg.Driver).Msg("Connected to database")
	return db, nil
}

// retryable SQLSTATE classes: connection, resources, operator intervention,
// transaction rollback.
var retryableClasses = []string{"08", "53", "57", "40"}

// Classify marks server errors that a retry cannot fix as permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return helper.Permanent(err)
	}
	code := ""
	var pgErr pgdriver.Error
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Field('C')
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	default:
		return err
	}
	for _, c := range retryableClasses {
		if strings.HasPrefix(code, c) {
			return err
		}
	}
	return helper.Permanent(fmt.Errorf("sqlstate %s: %w", code, err))
}
