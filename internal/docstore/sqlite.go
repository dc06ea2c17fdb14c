package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLite stores documents in a single table. One connection serializes
// writers, so conditional updates never see a half-applied commit.
type SQLite struct {
	db     *sqlx.DB
	broker *Broker
}

type docRow struct {
	Key     string `db:"key"`
	Version int64  `db:"version"`
	Data    string `db:"data"`
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	s := &SQLite{db: db, broker: NewBroker()}
	if err := s.migrate(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var applied []string
	if err := s.db.SelectContext(ctx, &applied, "SELECT version FROM schema_migrations"); err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (Doc, error) {
	var row docRow
	err := s.db.GetContext(ctx, &row, "SELECT key, version, data FROM documents WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{Key: key}, ErrNotFound
	}
	if err != nil {
		return Doc{Key: key}, fmt.Errorf("get %s: %w", key, err)
	}
	return Doc{Key: row.Key, Version: row.Version, Data: []byte(row.Data)}, nil
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]Doc, error) {
	var rows []docRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT key, version, data FROM documents WHERE substr(key, 1, length(?)) = ? ORDER BY key",
		prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := make([]Doc, len(rows))
	for i, r := range rows {
		out[i] = Doc{Key: r.Key, Version: r.Version, Data: []byte(r.Data)}
	}
	return out, nil
}

func (s *SQLite) Commit(ctx context.Context, writes ...Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, w := range writes {
		var res sql.Result
		if w.Expect == 0 {
			res, err = tx.ExecContext(ctx,
				"INSERT INTO documents (key, version, data, updated_at) VALUES (?, 1, ?, ?) ON CONFLICT(key) DO NOTHING",
				w.Key, string(w.Data), now)
		} else {
			res, err = tx.ExecContext(ctx,
				"UPDATE documents SET version = version + 1, data = ?, updated_at = ? WHERE key = ? AND version = ?",
				string(w.Data), now, w.Key, w.Expect)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", w.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("write %s: %w", w.Key, err)
		}
		if n != 1 {
			return ErrVersionConflict
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.broker.Publish(committed(writes)...)
	return nil
}

// Watch only sees commits made through this handle.
func (s *SQLite) Watch(ctx context.Context, key string) (<-chan Doc, error) {
	return watch(ctx, s, s.broker, key)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
