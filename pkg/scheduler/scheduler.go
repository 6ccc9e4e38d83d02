// Package scheduler runs monitor cycles on a fixed interval with at most
// one cycle in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roshinpv/regulateai/pkg/monitor"
	"github.com/roshinpv/regulateai/pkg/observability"
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")
	// ErrCycleInProgress is returned when a cycle is already in flight.
	ErrCycleInProgress = errors.New("cycle already in progress")
	// ErrLeaseHeld is returned when another process holds the cycle lease.
	ErrLeaseHeld = errors.New("cycle lease held elsewhere")
)

// Runner executes one cycle. *monitor.Monitor implements it.
type Runner interface {
	RunCycle(ctx context.Context) (*monitor.CycleReport, error)
}

// Lease extends the one-cycle guarantee across processes.
type Lease interface {
	// Acquire reports whether this process now holds the lease.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease up if this process still holds it.
	Release(ctx context.Context) error
}

// Scheduler triggers Runner every interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	lease    Lease
	obs      *observability.Provider
	onReport func(*monitor.CycleReport, error)
	logger   *slog.Logger

	inFlight atomic.Bool
	cycles   sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLease requires lease to be held for a cycle to run.
func WithLease(l Lease) Option {
	return func(s *Scheduler) { s.lease = l }
}

// WithObservability records skipped ticks.
func WithObservability(p *observability.Provider) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.obs = p
		}
	}
}

// WithReportHook is called after every cycle that ran.
func WithReportHook(fn func(*monitor.CycleReport, error)) Option {
	return func(s *Scheduler) { s.onReport = fn }
}

// New returns a stopped scheduler.
func New(runner Runner, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		obs:      observability.Disabled(),
		logger:   slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the first cycle immediately and then one per interval until
// Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval.String())
	return nil
}

// Stop cancels the loop and waits for any in-flight cycle to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.cycles.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a cycle in the background unless one is in flight, in which
// case the tick is dropped.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped(ctx)
		return
	}
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.inFlight.Store(false)
		report, err := s.run(ctx)
		if errors.Is(err, ErrLeaseHeld) {
			return
		}
		if s.onReport != nil {
			s.onReport(report, err)
		}
	}()
}

func (s *Scheduler) skipped(ctx context.Context) {
	s.obs.RecordSkippedCycle(ctx)
	s.logger.WarnContext(ctx, "tick skipped, previous cycle still running")
}

// RunCycleOnce runs one cycle now. It returns ErrCycleInProgress without
// running anything if a cycle is already in flight.
func (s *Scheduler) RunCycleOnce(ctx context.Context) (*monitor.CycleReport, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped(ctx)
		return nil, ErrCycleInProgress
	}
	defer s.inFlight.Store(false)
	return s.run(ctx)
}

// run executes the cycle under the lease. The caller holds inFlight.
func (s *Scheduler) run(ctx context.Context) (report *monitor.CycleReport, err error) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "tick skipped, lease unavailable", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrLeaseHeld, err)
		}
		if !ok {
			s.logger.WarnContext(ctx, "tick skipped, lease held by another process")
			return nil, ErrLeaseHeld
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "lease release failed", "error", err)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "cycle panicked", "panic", r)
			report, err = nil, fmt.Errorf("cycle panic: %v", r)
		}
	}()

	start := time.Now()
	report, err = s.runner.RunCycle(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "cycle failed", "error", err, "duration", time.Since(start).String())
	}
	return report, err
}
