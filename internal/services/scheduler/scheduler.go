package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "tokbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	DefaultTimeout time.Duration // applied when a job has no timeout of its own
	Timezone       string        // IANA TZ, e.g. "Asia/Jakarta"
}

type jobDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	run     func(ctx context.Context) error
	entryID cron.EntryID
	running bool
}

// JobInfo is a read-only snapshot of a registered job.
type JobInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next,omitempty"`
	Running bool      `json:"running"`
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef
	seq    int

	ctx     context.Context
	stopped bool
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Apply swaps the config; a timezone change restarts the cron runner so
// existing definitions fire in the new location. It blocks until jobs
// already mid-run have finished.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == newTZ {
		s.mu.Unlock()
		return
	}
	old := s.c
	s.c = nil
	s.mu.Unlock()

	// Wait with the mutex released: a running job's cleanup in fire()
	// needs it to mark itself done.
	<-old.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.stopped = false
	s.startLocked()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// startLocked builds a cron runner in the configured timezone and
// registers every definition on it.
func (s *Service) startLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Warn("schedule rejected",
				logx.String("job", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	old := s.c
	s.c = nil
	s.mu.Unlock()
	if old == nil {
		return
	}

	// Running jobs re-acquire the mutex to finish; wait without it.
	select {
	case <-old.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for running jobs")
	}
	s.log.Info("scheduler stopped")
}

// AddCron registers a job on a cron expression. The returned id removes it.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return s.add(name, spec, timeout, job)
}

// AddInterval registers a job every fixed duration.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(name, fmt.Sprintf("@every %s", every), timeout, job)
}

// AddDaily registers a job at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.add(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddSpec registers a job from a user-facing schedule string (cron,
// duration, or HH:MM) as accepted by ParseSchedule.
func (s *Service) AddSpec(name, raw string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return "", err
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	d := &jobDef{
		id:      fmt.Sprintf("job-%d", s.seq),
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeoutLocked(timeout),
		run:     job,
	}
	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			return "", err
		}
	}
	s.defs = append(s.defs, d)
	return d.id, nil
}

// Remove unregisters a job by id. Unknown ids are ignored.
func (s *Service) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.defs {
		if d.id != id {
			continue
		}
		if s.c != nil {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return
	}
}

// Jobs reports the registered jobs with their next fire time.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		ji := JobInfo{ID: d.id, Name: d.name, Spec: d.spec, Running: d.running}
		if s.c != nil {
			ji.Next = s.c.Entry(d.entryID).Next
		}
		out = append(out, ji)
	}
	return out
}

func (s *Service) registerLocked(d *jobDef) error {
	entryID, err := s.c.AddFunc(d.spec, func() { s.fire(d) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", d.spec, err)
	}
	d.entryID = entryID
	return nil
}

// fire runs one tick of a job. Overlapping ticks are skipped: a slow
// job must finish before its next run starts.
func (s *Service) fire(d *jobDef) {
	s.mu.Lock()
	if s.stopped || d.running {
		s.mu.Unlock()
		return
	}
	d.running = true
	parent := s.ctx
	timeout := d.timeout
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		d.running = false
		s.mu.Unlock()
	}()

	ctx := parent
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked",
				logx.String("job", d.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := d.run(ctx); err != nil {
		s.log.Warn("scheduled job failed",
			logx.String("job", d.name),
			logx.Duration("took", time.Since(started)),
			logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done",
		logx.String("job", d.name), logx.Duration("took", time.Since(started)))
}

func (s *Service) resolveTimeoutLocked(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if s.cfg.DefaultTimeout > 0 {
		return s.cfg.DefaultTimeout
	}
	return time.Minute
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local",
			logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
