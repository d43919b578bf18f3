// Package scheduler wraps robfig/cron with a small job surface for
// periodic plugin work: cron expressions, fixed intervals, and daily
// HH:MM helpers, all resolved in a configurable timezone.
//
// Jobs run in their own goroutine with a per-job timeout and panic
// recovery. There is no retry or queueing here; jobs are periodic and
// best-effort, and the next tick is the retry.
package scheduler
