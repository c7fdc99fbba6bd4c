// Package storage is an optional audit log for moderation and broadcast
// outcomes. Core behavior never depends on it: moderation and session state
// stay in memory and are volatile by design.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"modbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string // "", "none" or "sqlite"
	Path        string
	BusyTimeout time.Duration // sqlite busy_timeout; 0 means default
}

// BanRecord is one leave-transition outcome worth auditing.
type BanRecord struct {
	At       time.Time
	ChatID   int64
	UserID   int64
	UserName string
	Elapsed  time.Duration
	Banned   bool
	Error    string // non-empty when the ban call failed
}

// BroadcastRecord is one completed dispatch report.
type BroadcastRecord struct {
	At           time.Time
	OperatorID   int64
	Succeeded    int
	Failed       int
	ItemsPerChat int
	TookMS       int64
}

type Store interface {
	RecordBan(ctx context.Context, r BanRecord) error
	RecordBroadcast(ctx context.Context, r BroadcastRecord) error
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) if storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
