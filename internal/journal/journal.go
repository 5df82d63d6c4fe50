// Package journal persists background queue diagnostics reports.
//
// Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//
// An empty driver or "none" disables the journal.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"bgqueue/internal/background"
	"bgqueue/pkg/logx"
)

var ErrClosed = errors.New("journal closed")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one stored report. Keep it flat and schema-stable.
type Record struct {
	ID          string           `json:"id"`
	At          time.Time        `json:"at"`
	Band        string           `json:"band"`
	Pending     int              `json:"pending"`
	Peak        int              `json:"peak"`
	Capacity    int              `json:"capacity"`
	Healthy     bool             `json:"healthy"`
	WorkerState string           `json:"worker_state"`
	Goroutines  int              `json:"goroutines"`
	HeapInuse   uint64           `json:"heap_inuse"`
	Stats       background.Stats `json:"stats"`
}

func RecordFromReport(r background.Report) Record {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return Record{
		ID:          uuid.New().String(),
		At:          at,
		Band:        string(r.Band),
		Pending:     r.Pending,
		Peak:        r.Peak,
		Capacity:    r.Capacity,
		Healthy:     r.Healthy,
		WorkerState: r.WorkerState,
		Goroutines:  r.Goroutines,
		HeapInuse:   r.HeapInuse,
		Stats:       r.Stats,
	}
}

type Store interface {
	Append(ctx context.Context, rec Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when the journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "journal"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
