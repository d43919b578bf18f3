// Package storage is the optional persistence layer: chat log appends,
// learned gift catalog rows, named counters (coin totals), and viewer
// XP with a leaderboard query. The file backend is always available;
// sqlite sits behind the "sqlite" build tag.
package storage
