package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "dianabot/pkg/logx"
)

// Store is the persistence API used by the notification engine and the
// engagement services.
type Store interface {
	// Dedup mirrors the notification duplicate window across restarts.
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// Engagement ledger.
	AddPoints(ctx context.Context, userID int64, delta int) (total int, err error)
	GetPoints(ctx context.Context, userID int64) (int, error)

	// PutMission records a mission completion. first is false when the user
	// had already completed the mission (the write is a no-op then).
	PutMission(ctx context.Context, userID int64, missionID string) (first bool, err error)

	// PutAchievement records an achievement unlock, idempotent like PutMission.
	PutAchievement(ctx context.Context, userID int64, achievementID string) (first bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
