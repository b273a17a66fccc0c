// Package loops implements the three cooperating periodic loops — Health
// Monitor, Optimizer, and Security scanner — that share a common shape:
// scheduled tick, snapshot, issue derivation, dispatch into the incident
// store (and, where the derivation rule says so, an immediate remediation
// attempt).
package loops

import (
	"context"
	"sync"
	"time"

	"github.com/homelab/sentinel/internal/metrics"
)

// scheduler runs one tick function on a fixed interval, skipping a tick
// entirely if the previous one is still running rather than queuing it —
// "two ticks of the same loop never overlap".
type scheduler struct {
	name     string
	interval time.Duration
	running  sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

func newScheduler(name string, interval time.Duration) *scheduler {
	return &scheduler{
		name:     name,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// start launches the ticker goroutine. tick is invoked at most once
// concurrently; an overrunning tick causes the next scheduled tick to be
// skipped, not queued.
func (s *scheduler) start(ctx context.Context, tick func(context.Context)) {
	go func() {
		defer close(s.doneCh)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if !s.running.TryLock() {
					metrics.LoopTicksTotal.WithLabelValues(s.name, "skipped").Inc()
					continue
				}
				started := time.Now()
				tick(ctx)
				metrics.LoopTickDuration.WithLabelValues(s.name).Observe(time.Since(started).Seconds())
				metrics.LoopTicksTotal.WithLabelValues(s.name, "completed").Inc()
				s.running.Unlock()
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *scheduler) stop() {
	close(s.stopCh)
	<-s.doneCh
}

// history is a bounded, most-recent-last ring of snapshots kept for trend
// reporting: a short in-memory history, bounded at 50-100 snapshots.
type history[T any] struct {
	mu    sync.Mutex
	items []T
	max   int
}

func newHistory[T any](max int) *history[T] {
	return &history[T]{max: max}
}

func (h *history[T]) push(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	if len(h.items) > h.max {
		h.items = h.items[len(h.items)-h.max:]
	}
}

func (h *history[T]) snapshot() []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]T, len(h.items))
	copy(out, h.items)
	return out
}

func (h *history[T]) latest() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	if len(h.items) == 0 {
		return zero, false
	}
	return h.items[len(h.items)-1], true
}
