package storage

import (
	"context"
	"errors"
	"strings"

	logx "tokbot/pkg/logx"
)

// Store is the minimal persistence API used by core/services and plugins.
type Store interface {
	AppendChat(ctx context.Context, e ChatEntry) error
	RecentChat(ctx context.Context, limit int) ([]ChatEntry, error)

	UpsertGift(ctx context.Context, g GiftRow) error
	GetGift(ctx context.Context, giftID int64) (GiftRow, bool, error)

	PutCounter(ctx context.Context, name string, value int64) error
	GetCounter(ctx context.Context, name string) (value int64, ok bool, err error)

	AddXP(ctx context.Context, actorID, actorName string, delta int64) (total int64, err error)
	TopXP(ctx context.Context, limit int) ([]XPEntry, error)

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
