package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshinpv/regulateai/pkg/alert"
	"github.com/roshinpv/regulateai/pkg/collector"
	"github.com/roshinpv/regulateai/pkg/monitor"
	"github.com/roshinpv/regulateai/pkg/update"
)

// blockingCollector parks inside CollectUpdates until released.
type blockingCollector struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingCollector() *blockingCollector {
	return &blockingCollector{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingCollector) Kind() update.CollectorKind { return update.KindFeed }
func (b *blockingCollector) AgencyID() string           { return "OCC" }

func (b *blockingCollector) CollectUpdates(ctx context.Context) []update.Update {
	b.calls.Add(1)
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

type countingRunner struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (c *countingRunner) RunCycle(context.Context) (*monitor.CycleReport, error) {
	c.calls.Add(1)
	if c.panic {
		panic("nil map write")
	}
	return &monitor.CycleReport{Collected: map[string]int{}}, c.err
}

type fakeLease struct {
	grant    bool
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (f *fakeLease) Acquire(context.Context) (bool, error) {
	if f.err != nil || !f.grant {
		return false, f.err
	}
	f.acquired.Add(1)
	return true, nil
}

func (f *fakeLease) Release(context.Context) error {
	f.released.Add(1)
	return nil
}

// TestScheduler_OverlapSkipsTick verifies the single-slot guard.
// Invariant: a tick that fires while a cycle is running invokes no
// collector and is not queued.
func TestScheduler_OverlapSkipsTick(t *testing.T) {
	c := newBlockingCollector()
	m := monitor.New([]collector.Collector{c}, alert.NewManager(alert.NewMemoryStore()))
	s := New(m, time.Hour)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.RunCycleOnce(ctx)
		firstDone <- err
	}()
	<-c.entered

	s.tick(ctx)
	_, err := s.RunCycleOnce(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Equal(t, int32(1), c.calls.Load(), "skipped ticks never reach the collectors")

	close(c.release)
	require.NoError(t, <-firstDone)
	s.cycles.Wait()
	assert.Equal(t, int32(1), c.calls.Load(), "skipped tick is not queued")

	_, err = s.RunCycleOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.calls.Load())
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	r := &countingRunner{}
	var reports atomic.Int32
	s := New(r, 10*time.Millisecond, WithReportHook(func(rep *monitor.CycleReport, err error) {
		if rep != nil && err == nil {
			reports.Add(1)
		}
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	assert.False(t, s.Running())

	after := r.calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, r.calls.Load(), "no cycles after Stop")
	assert.Equal(t, after, reports.Load())

	s.Stop()
	require.NoError(t, s.Start(context.Background()), "restart after stop")
	s.Stop()
}

func TestScheduler_RejectsBadInterval(t *testing.T) {
	assert.Error(t, New(&countingRunner{}, 0).Start(context.Background()))
}

func TestScheduler_RecoversPanic(t *testing.T) {
	s := New(&countingRunner{panic: true}, time.Hour)
	_, err := s.RunCycleOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle panic")

	_, err = s.RunCycleOnce(context.Background())
	assert.NotErrorIs(t, err, ErrCycleInProgress, "guard is released after a panic")
}

func TestScheduler_Lease(t *testing.T) {
	r := &countingRunner{}

	held := &fakeLease{grant: false}
	_, err := New(r, time.Hour, WithLease(held)).RunCycleOnce(context.Background())
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.Equal(t, int32(0), r.calls.Load())

	broken := &fakeLease{err: errors.New("connection refused")}
	_, err = New(r, time.Hour, WithLease(broken)).RunCycleOnce(context.Background())
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.Equal(t, int32(0), r.calls.Load())

	free := &fakeLease{grant: true}
	_, err = New(r, time.Hour, WithLease(free)).RunCycleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int32(1), free.acquired.Load())
	assert.Equal(t, int32(1), free.released.Load())
}

func TestScheduler_CycleErrorReported(t *testing.T) {
	boom := errors.New("pending alerts unavailable")
	done := make(chan error, 1)
	s := New(&countingRunner{err: boom}, time.Hour, WithReportHook(func(_ *monitor.CycleReport, err error) {
		done <- err
	}))
	s.tick(context.Background())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("report hook not called")
	}
	s.cycles.Wait()
}
