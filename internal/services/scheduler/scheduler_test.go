package scheduler

import (
	"context"
	"testing"
	"time"

	logx "tokbot/pkg/logx"
)

// blockingJob signals once when it starts running and then blocks until
// release is closed. Later runs return immediately.
func blockingJob(started chan struct{}, release chan struct{}) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
}

func TestApplyTimezoneWhileJobRunning(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	if _, err := s.AddInterval("slow", 20*time.Millisecond, time.Minute, blockingJob(started, release)); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	applied := make(chan struct{})
	go func() {
		s.Apply(Config{Enabled: true, Timezone: "UTC"})
		close(applied)
	}()

	// Apply waits for the running job, but must not wedge the mutex:
	// other scheduler calls stay serviceable meanwhile.
	select {
	case <-applied:
		t.Fatal("Apply returned while the job was still running")
	case <-time.After(100 * time.Millisecond):
	}
	jobsDone := make(chan struct{})
	go func() {
		_ = s.Jobs()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Jobs blocked while Apply was waiting")
	}

	close(release)
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("Apply never returned after the job finished")
	}
}

func TestStopReturnsOnceRunningJobFinishes(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	if _, err := s.AddInterval("slow", 20*time.Millisecond, time.Minute, blockingJob(started, release)); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the job was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned after the job finished")
	}
}

func TestApplySameTimezoneIsNoOp(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	before := s.c
	s.Apply(Config{Enabled: true, Timezone: "UTC", DefaultTimeout: time.Second})
	if s.c != before {
		t.Fatal("runner restarted without a timezone change")
	}
}
