// Package supervisor manages named goroutines tied to a shared context:
// panic recovery, optional cancel-on-first-error, restart loops with
// backoff, and timeout-aware waiting on stop.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "tokbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	started atomic.Uint64
	active  atomic.Int64

	errOnce  sync.Once
	firstErr atomic.Value // stores error
	wg       sync.WaitGroup
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first goroutine error cancel all siblings.
func WithCancelOnError(v bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = v }
}

func NewSupervisor(ctx context.Context, opts ...SupervisorOption) *Supervisor {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithCancel(ctx)
	s := &Supervisor{ctx: cctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunFunc is a supervised goroutine body. Returning nil (or the context's
// error after cancellation) is a clean exit.
type RunFunc func(ctx context.Context) error

// GoOption tunes one GoRestart loop.
type GoOption func(*goCfg)

type goCfg struct {
	publishFirstErr bool
	backoffBase     time.Duration
	backoffMax      time.Duration
}

// WithPublishFirstError records the loop's first error as the
// supervisor's FirstErr even when the loop keeps restarting.
func WithPublishFirstError(v bool) GoOption {
	return func(c *goCfg) { c.publishFirstErr = v }
}

// WithRestartBackoff sets the exponential restart backoff bounds.
func WithRestartBackoff(base, max time.Duration) GoOption {
	return func(c *goCfg) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// Go starts one supervised goroutine. Panics are recovered and logged;
// an error return may cancel siblings (see WithCancelOnError).
func (s *Supervisor) Go(name string, fn RunFunc) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		_ = s.runOnce(name, fn, true)
	}()
}

// GoRestart starts a supervised loop that re-runs fn after it returns an
// error, with exponential backoff, until the context is canceled.
func (s *Supervisor) GoRestart(name string, fn RunFunc, opts ...GoOption) {
	cfg := goCfg{backoffBase: 500 * time.Millisecond, backoffMax: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		backoff := cfg.backoffBase
		for {
			err := s.runOnce(name, fn, false)
			if s.ctx.Err() != nil {
				return
			}
			if err == nil {
				return
			}
			if cfg.publishFirstErr {
				s.noteErr(err)
			}
			s.log.Warn("supervised loop restarting",
				logx.String("name", name),
				logx.Duration("backoff", backoff),
				logx.Err(err))

			t := time.NewTimer(backoff)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff *= 2
			if backoff > cfg.backoffMax {
				backoff = cfg.backoffMax
			}
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn RunFunc, publish bool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", name, rec)
			s.log.Error("supervised goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())))
		}
		if err != nil && s.ctx.Err() == nil {
			if publish {
				s.noteErr(err)
			}
			if s.cancelOnErr {
				s.cancel()
			}
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) noteErr(err error) {
	if err == nil || err == context.Canceled {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

// FirstErr returns the first recorded error, if any.
func (s *Supervisor) FirstErr() error {
	if v := s.firstErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// Context returns the supervisor's context (canceled by Cancel).
func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals all supervised goroutines to stop.
func (s *Supervisor) Cancel() { s.cancel() }

// Wait blocks until all goroutines exit or ctx times out.
func (s *Supervisor) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor wait: %w (active=%d)", ctx.Err(), s.active.Load())
	}
}

// Active returns the number of currently running goroutines.
func (s *Supervisor) Active() int64 { return s.active.Load() }
