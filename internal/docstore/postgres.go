package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "econfair_documents"

// Postgres stores documents in one JSONB table and fans changes out through
// LISTEN/NOTIFY so watchers in other processes see every commit.
type Postgres struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	broker *Broker
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgres migrates the schema and starts the change listener. The pool
// stays owned by the caller.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Postgres{pool: pool, log: logger, broker: NewBroker(), done: make(chan struct{})}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listen(listenCtx)
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
				m.Version, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("record migration %s: %w", m.Version, err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key string) (Doc, error) {
	d := Doc{Key: key}
	err := s.pool.QueryRow(ctx, "SELECT version, data::text FROM documents WHERE key = $1", key).
		Scan(&d.Version, &d.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Doc{Key: key}, ErrNotFound
	}
	if err != nil {
		return Doc{Key: key}, fmt.Errorf("get %s: %w", key, err)
	}
	return d, nil
}

func (s *Postgres) List(ctx context.Context, prefix string) ([]Doc, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT key, version, data::text FROM documents WHERE starts_with(key, $1) ORDER BY key",
		prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()
	out := make([]Doc, 0)
	for rows.Next() {
		var d Doc
		if err := rows.Scan(&d.Key, &d.Version, &d.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

func (s *Postgres) Commit(ctx context.Context, writes ...Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, w := range writes {
			var tag pgconn.CommandTag
			var err error
			if w.Expect == 0 {
				tag, err = tx.Exec(ctx,
					"INSERT INTO documents (key, version, data, updated_at) VALUES ($1, 1, $2::jsonb, now()) ON CONFLICT (key) DO NOTHING",
					w.Key, string(w.Data))
			} else {
				tag, err = tx.Exec(ctx,
					"UPDATE documents SET version = version + 1, data = $2::jsonb, updated_at = now() WHERE key = $1 AND version = $3",
					w.Key, string(w.Data), w.Expect)
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", w.Key, err)
			}
			if tag.RowsAffected() != 1 {
				return ErrVersionConflict
			}
			if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, w.Key); err != nil {
				return fmt.Errorf("notify %s: %w", w.Key, err)
			}
		}
		return nil
	})
	if isSerializationError(err) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	s.broker.Publish(committed(writes)...)
	return nil
}

func (s *Postgres) Watch(ctx context.Context, key string) (<-chan Doc, error) {
	return watch(ctx, s, s.broker, key)
}

// listen holds one pooled connection on LISTEN and re-reads every notified
// key, reconnecting with a short pause when the connection drops.
func (s *Postgres) listen(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("document listener stopped", "err", err)
		if sleepWithContext(ctx, 2*time.Second) != nil {
			return
		}
	}
}

func (s *Postgres) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		d, err := s.Get(ctx, n.Payload)
		if err != nil {
			s.log.Warn("reload notified document", "key", n.Payload, "err", err)
			continue
		}
		s.broker.Publish(d)
	}
}

func (s *Postgres) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
