package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatbridge/internal/domain"
)

// SQLite implements the queue store on a single SQLite table.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	store := &SQLite{db: db, logger: logger, now: time.Now}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS offline_queue (
		channel_key TEXT PRIMARY KEY,
		replies     TEXT NOT NULL,
		expires_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offline_queue_expiry ON offline_queue(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) load(ctx context.Context, q queryer, key string) ([]domain.Reply, error) {
	var (
		data      string
		expiresAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT replies, expires_at FROM offline_queue WHERE channel_key = ?`, key,
	).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return []domain.Reply{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue %s: %w", key, err)
	}
	if expiresAt <= s.now().Unix() {
		return []domain.Reply{}, nil
	}
	return decodeReplies([]byte(data))
}

func (s *SQLite) Get(ctx context.Context, key string) ([]domain.Reply, error) {
	return s.load(ctx, s.db, key)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) save(ctx context.Context, x execer, key string, replies []domain.Reply, ttl time.Duration) error {
	data, err := encodeReplies(replies)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = x.ExecContext(ctx,
		`INSERT INTO offline_queue (channel_key, replies, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(channel_key) DO UPDATE SET
		   replies = excluded.replies,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		key, string(data), now.Add(ttl).Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save queue %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Put(ctx context.Context, key string, replies []domain.Reply, ttl time.Duration) error {
	return s.save(ctx, s.db, key, replies, ttl)
}

// Append reads and rewrites the row inside one transaction.
func (s *SQLite) Append(ctx context.Context, key string, replies []domain.Reply, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.load(ctx, tx, key)
	if err != nil {
		return err
	}
	if err := s.save(ctx, tx, key, append(existing, replies...), ttl); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE channel_key = ?`, key); err != nil {
		return fmt.Errorf("delete queue %s: %w", key, err)
	}
	return nil
}

// Prune removes expired rows and returns how many were deleted.
func (s *SQLite) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune queue: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned expired offline queues", "count", n)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
