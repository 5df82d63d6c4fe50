package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bgqueue/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	at           INTEGER NOT NULL, -- unix nanoseconds
	band         TEXT NOT NULL,
	pending      INTEGER NOT NULL,
	peak         INTEGER NOT NULL,
	capacity     INTEGER NOT NULL,
	healthy      INTEGER NOT NULL,
	worker_state TEXT NOT NULL,
	goroutines   INTEGER NOT NULL,
	heap_inuse   INTEGER NOT NULL,
	stats        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_at ON reports(at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	log.Debug("journal opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, rec Record) error {
	if s.db == nil {
		return ErrClosed
	}
	stats, err := json.Marshal(rec.Stats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports(id, at, band, pending, peak, capacity, healthy, worker_state, goroutines, heap_inuse, stats)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.At.UnixNano(), rec.Band, rec.Pending, rec.Peak, rec.Capacity,
		rec.Healthy, rec.WorkerState, rec.Goroutines, int64(rec.HeapInuse), string(stats),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, band, pending, peak, capacity, healthy, worker_state, goroutines, heap_inuse, stats
		 FROM reports ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec   Record
			at    int64
			heap  int64
			stats string
		)
		if err := rows.Scan(&rec.ID, &at, &rec.Band, &rec.Pending, &rec.Peak, &rec.Capacity,
			&rec.Healthy, &rec.WorkerState, &rec.Goroutines, &heap, &stats); err != nil {
			return nil, err
		}
		rec.At = time.Unix(0, at)
		rec.HeapInuse = uint64(heap)
		if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
