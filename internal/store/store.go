// Package store persists the job registry. Every driver upserts a job by its
// id and returns model.ErrJobNotFound for an unknown one.
package store

import (
	"context"
	"fmt"

	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/store/mongo"
	"github.com/CZERTAINLY/Runner/internal/store/redis"
	"github.com/CZERTAINLY/Runner/internal/store/sqldb"
)

type Store interface {
	// Save inserts or replaces the job with the same JobID.
	Save(ctx context.Context, job model.Job) error
	Get(ctx context.Context, jobID string) (model.Job, error)
	// List returns jobs of client in creation order, all jobs for an empty
	// client.
	List(ctx context.Context, client string) ([]model.Job, error)
	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*sqldb.Store)(nil)
	_ Store = (*mongo.Store)(nil)
	_ Store = (*redis.Store)(nil)
)

const defaultSQLite = "runner.db"

// Open connects the driver selected by cfg.
func Open(ctx context.Context, cfg model.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", model.StoreMemory:
		return NewMemory(), nil
	case model.StoreSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = defaultSQLite
		}
		return sqldb.Open(ctx, sqldb.SQLite, dsn)
	case model.StoreMySQL:
		return sqldb.Open(ctx, sqldb.MySQL, cfg.DSN)
	case model.StoreMongo:
		return mongo.Open(ctx, cfg.DSN, cfg.Database)
	case model.StoreRedis:
		return redis.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
