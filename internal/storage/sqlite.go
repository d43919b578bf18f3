//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tokbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendChat(ctx context.Context, e ChatEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat(at, actor_id, actor_name, text) VALUES(?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorName), e.Text,
	)
	return err
}

func (s *sqliteStore) RecentChat(ctx context.Context, limit int) ([]ChatEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, actor_name, text FROM chat ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ChatEntry, 0, limit)
	for rows.Next() {
		var e ChatEntry
		var at string
		var name sql.NullString
		if err := rows.Scan(&at, &e.ActorID, &name, &e.Text); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.ActorName = name.String
		out = append(out, e)
	}
	// Oldest first, matching the file backend.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertGift(ctx context.Context, g GiftRow) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if g.ID <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gifts(id, name, diamonds) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, diamonds=excluded.diamonds`,
		g.ID, g.Name, g.Diamonds,
	)
	return err
}

func (s *sqliteStore) GetGift(ctx context.Context, giftID int64) (GiftRow, bool, error) {
	if s == nil || s.db == nil {
		return GiftRow{}, false, ErrDisabled
	}
	var g GiftRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, diamonds FROM gifts WHERE id = ?`, giftID,
	).Scan(&g.ID, &g.Name, &g.Diamonds)
	if errors.Is(err, sql.ErrNoRows) {
		return GiftRow{}, false, nil
	}
	if err != nil {
		return GiftRow{}, false, err
	}
	return g, true, nil
}

func (s *sqliteStore) PutCounter(ctx context.Context, name string, value int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(name) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO counters(name, value) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET value=excluded.value`,
		name, value,
	)
	return err
}

func (s *sqliteStore) GetCounter(ctx context.Context, name string) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrDisabled
	}
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *sqliteStore) AddXP(ctx context.Context, actorID, actorName string, delta int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return 0, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO xp(actor_id, actor_name, xp) VALUES(?,?,?)
		 ON CONFLICT(actor_id) DO UPDATE SET
		   xp = xp.xp + excluded.xp,
		   actor_name = CASE WHEN excluded.actor_name != '' THEN excluded.actor_name ELSE xp.actor_name END`,
		actorID, actorName, delta,
	)
	if err != nil {
		return 0, err
	}
	var total int64
	err = s.db.QueryRowContext(ctx, `SELECT xp FROM xp WHERE actor_id = ?`, actorID).Scan(&total)
	return total, err
}

func (s *sqliteStore) TopXP(ctx context.Context, limit int) ([]XPEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT actor_id, actor_name, xp FROM xp ORDER BY xp DESC, actor_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]XPEntry, 0, limit)
	for rows.Next() {
		var e XPEntry
		var name sql.NullString
		if err := rows.Scan(&e.ActorID, &name, &e.XP); err != nil {
			return nil, err
		}
		e.ActorName = name.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
