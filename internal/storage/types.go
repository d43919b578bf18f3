package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ChatEntry records one normalized chat message.
// Keep it compact and schema-stable.
type ChatEntry struct {
	At        time.Time `json:"at"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Text      string    `json:"text"`
}

// GiftRow is a persisted gift catalog entry.
type GiftRow struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Diamonds int64  `json:"diamonds"`
}

// XPEntry is one row of the viewer XP leaderboard.
type XPEntry struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	XP        int64  `json:"xp"`
}
