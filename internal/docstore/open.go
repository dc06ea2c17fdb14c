package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"econfair/internal/db"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

func ParseBackend(v string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(v))) {
	case BackendMemory, "":
		return BackendMemory, nil
	case BackendSQLite:
		return BackendSQLite, nil
	case BackendPostgres, "postgresql", "pg":
		return BackendPostgres, nil
	case BackendRedis:
		return BackendRedis, nil
	default:
		return "", fmt.Errorf("unsupported store backend %q", v)
	}
}

type Options struct {
	Backend     Backend
	SQLitePath  string
	DatabaseURL string
	MaxConns    int32
	Redis       RedisOptions
}

// Open builds the configured backend. Closing the returned store releases
// everything Open acquired.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("ECONFAIR_SQLITE_PATH is required for the sqlite store")
		}
		return OpenSQLite(ctx, opts.SQLitePath)
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		pool, err := db.Connect(ctx, opts.DatabaseURL, db.PoolOptions{MaxConns: opts.MaxConns})
		if err != nil {
			return nil, err
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &ownedPool{Postgres: s}, nil
	case BackendRedis:
		if opts.Redis.Addr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
		return OpenRedis(ctx, opts.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", opts.Backend)
	}
}

type ownedPool struct {
	*Postgres
}

func (o *ownedPool) Close() error {
	err := o.Postgres.Close()
	o.pool.Close()
	return err
}
