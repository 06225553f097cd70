package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memtier/internal/model"
)

// SQLite mirrors records into a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Mirror = (*SQLite)(nil)

// NewSQLite opens or creates a SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		return nil, errors.New("mirror: sqlite path is required")
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mirror: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("mirror: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          TEXT PRIMARY KEY,
		ts_ms       INTEGER NOT NULL,
		category    TEXT NOT NULL,
		content     TEXT NOT NULL,
		weight      REAL NOT NULL DEFAULT 0,
		origin      TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL,
		meta        TEXT,
		mirrored_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_category ON records(category);
	CREATE INDEX IF NOT EXISTS idx_records_ts ON records(ts_ms DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Save(ctx context.Context, r *model.Record) error {
	meta, err := encodeMeta(r)
	if err != nil {
		return fmt.Errorf("mirror: encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, ts_ms, category, content, weight, origin, fingerprint, meta, mirrored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET meta = excluded.meta, mirrored_at = excluded.mirrored_at`,
		r.ID, r.Timestamp.UnixMilli(), r.Category, r.Content, r.Weight, r.Origin, r.Fingerprint, meta,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mirror: save %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLite) Find(ctx context.Context, id string) (*model.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts_ms, category, content, weight, origin, fingerprint, meta
		 FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mirror: find %s: %w", id, err)
	}
	return r, true, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

func (s *SQLite) IsConnected(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
