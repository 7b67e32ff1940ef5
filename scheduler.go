package testengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunFunc performs one test run. Its context is cancelled when the scheduler stops.
type RunFunc func(ctx context.Context) error

// Scheduler triggers test runs: once, or immediately and then on every interval tick.
type Scheduler struct {
	interval time.Duration
	runOnce  bool
	log      log.Logger
	run      RunFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	started atomic.Bool
	stopped atomic.Bool
	runs    atomic.Uint64
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. An interval of zero or less always runs once.
func NewScheduler(interval time.Duration, runOnce bool, logger log.Logger, run RunFunc) *Scheduler {
	return &Scheduler{
		interval: interval,
		runOnce:  runOnce || interval <= 0,
		log:      logger,
		run:      run,
	}
}

// Start performs the first run synchronously and returns its error. In periodic mode later runs
// happen on a background goroutine until Stop is called or ctx is done; their errors are logged.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.run == nil {
		return errors.New("scheduler has no run function")
	}
	if s.started.Swap(true) {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.trigger(runCtx); err != nil || s.runOnce {
		if s.runOnce {
			s.log.Debug("Run-once scheduler finished", "runs", s.runs.Load())
		}
		return err
	}

	s.wg.Add(1)
	go s.loop(runCtx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Periodic test runs stopped", "runs", s.runs.Load(), "reason", context.Cause(ctx))
			s.stopped.Store(true)
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if err := s.trigger(ctx); err != nil {
				s.log.Error("Scheduled test run failed", "run", s.runs.Load(), "error", err)
			}
			s.log.Info("Next test run scheduled", "in", s.interval)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) error {
	n := s.runs.Add(1)
	s.log.Info("Starting scheduled test run", "run", n)
	return s.run(ctx)
}

// Runs returns the number of runs started so far
func (s *Scheduler) Runs() uint64 {
	return s.runs.Load()
}

// Stop cancels the context of the in-flight run and prevents further runs. It is idempotent.
func (s *Scheduler) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Stopped reports whether Stop was called or the periodic loop ended
func (s *Scheduler) Stopped() bool {
	return s.stopped.Load()
}

// Wait blocks until the periodic goroutine has exited or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("Timed out waiting for scheduled runs to finish", "error", ctx.Err())
		return ctx.Err()
	}
}
