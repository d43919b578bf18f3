package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "tokbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.chat.jsonl     (append-only JSON Lines)
//   - <prefix>.state.json     (gifts + counters + xp snapshot)
//
// The state snapshot is rewritten atomically (tmp + rename) every
// stateFlushEvery gift/xp mutations, on every counter write, and on
// Close. Chat appends and counters are durable immediately; gifts and
// xp trade a bounded replay window for not rewriting the whole file
// per event.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	chatPath  string
	chatFile  *os.File
	statePath string

	state       fileState
	stateWrites int
}

const stateFlushEvery = 200

type fileState struct {
	Gifts    map[int64]GiftRow  `json:"gifts"`
	Counters map[string]int64   `json:"counters"`
	XP       map[string]XPEntry `json:"xp"` // keyed by actor id
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	chatPath := prefix + ".chat.jsonl"
	statePath := prefix + ".state.json"

	cf, err := os.OpenFile(chatPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := fileState{
		Gifts:    map[int64]GiftRow{},
		Counters: map[string]int64{},
		XP:       map[string]XPEntry{},
	}
	_ = loadState(statePath, &st)

	return &fileStore{
		log:       log,
		chatPath:  chatPath,
		chatFile:  cf,
		statePath: statePath,
		state:     st,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flushErr := s.flushStateLocked()
	var closeErr error
	if s.chatFile != nil {
		closeErr = s.chatFile.Close()
		s.chatFile = nil
	}
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (s *fileStore) AppendChat(ctx context.Context, e ChatEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatFile == nil {
		return errors.New("chat file closed")
	}
	return json.NewEncoder(s.chatFile).Encode(e)
}

func (s *fileStore) RecentChat(ctx context.Context, limit int) ([]ChatEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	path := s.chatPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// The chat log is modest (one local session per file); a full scan
	// keeping a ring of the last entries is fine here.
	ring := make([]ChatEntry, 0, limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e ChatEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, e)
	}
	return ring, sc.Err()
}

func (s *fileStore) UpsertGift(ctx context.Context, g GiftRow) error {
	_ = ctx
	if g.ID <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Gifts[g.ID] = g
	return s.noteWriteLocked()
}

func (s *fileStore) GetGift(ctx context.Context, giftID int64) (GiftRow, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.state.Gifts[giftID]
	return g, ok, nil
}

func (s *fileStore) PutCounter(ctx context.Context, name string, value int64) error {
	_ = ctx
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Counters[name] = value
	// Counters arrive on a slow cadence (periodic snapshots, not per
	// event), so write them through instead of waiting out the batch.
	return s.flushStateLocked()
}

func (s *fileStore) GetCounter(ctx context.Context, name string) (int64, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.Counters[strings.TrimSpace(name)]
	return v, ok, nil
}

func (s *fileStore) AddXP(ctx context.Context, actorID, actorName string, delta int64) (int64, error) {
	_ = ctx
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.state.XP[actorID]
	e.ActorID = actorID
	if strings.TrimSpace(actorName) != "" {
		e.ActorName = actorName
	}
	e.XP += delta
	s.state.XP[actorID] = e
	if err := s.noteWriteLocked(); err != nil {
		return e.XP, err
	}
	return e.XP, nil
}

func (s *fileStore) TopXP(ctx context.Context, limit int) ([]XPEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	out := make([]XPEntry, 0, len(s.state.XP))
	for _, e := range s.state.XP {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].ActorID < out[j].ActorID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) noteWriteLocked() error {
	s.stateWrites++
	if s.stateWrites%stateFlushEvery != 0 {
		return nil
	}
	if err := s.flushStateLocked(); err != nil {
		s.log.Debug("state flush failed", logx.Any("err", err))
		return nil // best-effort; next flush retries
	}
	return nil
}

func (s *fileStore) flushStateLocked() error {
	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func loadState(path string, out *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st fileState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	if st.Gifts != nil {
		out.Gifts = st.Gifts
	}
	if st.Counters != nil {
		out.Counters = st.Counters
	}
	if st.XP != nil {
		out.XP = st.XP
	}
	return nil
}
