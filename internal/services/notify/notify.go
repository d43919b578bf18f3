// Package notify is a small async queue in front of the outbound
// transport: enqueue never blocks the event pipeline, a single worker
// drains with a rate limit and bounded retry.
package notify

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
)

type Config struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Service is safe for concurrent use. One worker keeps deliveries
// ordered; alerts are low-volume, so parallelism buys nothing here.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	sender  kit.Sender
	log     logx.Logger
	limiter *rate.Limiter

	queue  chan kit.Notification
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan kit.Notification, cfg.QueueSize),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || !s.cfg.Enabled || s.sender == nil {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(wctx)
	}()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Enqueue queues one notification. Never blocks: a full queue drops the
// message and returns ErrQueueFull (alerts are advisory, the pipeline
// must not stall on Telegram).
func (s *Service) Enqueue(n kit.Notification) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	select {
	case s.queue <- n:
		return nil
	default:
		s.log.Warn("notification dropped (queue full)", logx.Int("queue_cap", cap(s.queue)))
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	s.mu.Lock()
	cfg := s.cfg
	sender := s.sender
	s.mu.Unlock()

	var err error
	delay := cfg.RetryBase
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter.
			wait := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay *= 2
			if delay > cfg.RetryMaxDelay {
				delay = cfg.RetryMaxDelay
			}
		}
		err = sender.SendText(ctx, n.Text, n.Options)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
	s.log.Warn("notification delivery failed",
		logx.Int("attempts", cfg.RetryMax+1),
		logx.Err(err))
}

// LogSink adapts the notify queue to logx.Sink so warnings can be
// mirrored into the destination chat with the same rate limiting.
type LogSink struct{ Svc *Service }

func (s LogSink) SendLine(ctx context.Context, line string) error {
	_ = ctx
	if s.Svc == nil {
		return nil
	}
	return s.Svc.Enqueue(kit.Notification{Text: line, Options: &kit.SendOptions{DisablePreview: true}})
}
