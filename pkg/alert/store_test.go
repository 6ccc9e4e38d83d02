package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roshinpv/regulateai/pkg/update"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var stores = map[string]storeFactory{
	"memory": func(*testing.T) Store { return NewMemoryStore() },
	"sqlite": newSQLiteForTest,
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func sampleAlert(id, title string, p Priority, published time.Time) Alert {
	md := update.NewMetadata()
	md.SetString("feed_url", "https://x.gov/rss")
	md.SetNumber("rank", 1)
	return Alert{
		ID:            id,
		DedupKey:      DedupKey("OCC", title, published),
		AgencyID:      "OCC",
		Title:         title,
		Content:       "body",
		UpdateType:    TypeBulletin,
		Priority:      p,
		Status:        StatusNew,
		PublishedDate: published,
		URL:           "https://x.gov/" + id,
		CollectorKind: update.KindFeed,
		Metadata:      md,
		CreatedAt:     t0,
	}
}

// TestStore_CreateIsIdempotent verifies the atomic dedup upsert.
// Invariant: the same dedup key yields one row and returns the first id.
func TestStore_CreateIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := sampleAlert("a1", "Bulletin 2024-3", PriorityMedium, t0)

		id, created, err := s.CreateAlertIfAbsent(ctx, a)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "a1", id)

		dup := a
		dup.ID = "a2"
		id, created, err = s.CreateAlertIfAbsent(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "a1", id)

		pending, err := s.ListAlerts(ctx, StatusNew)
		require.NoError(t, err)
		assert.Len(t, pending, 1)

		got, err := s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, a.Title, got.Title)
		assert.Equal(t, a.PublishedDate, got.PublishedDate)
		assert.Equal(t, a.CreatedAt, got.CreatedAt)
		assert.Equal(t, update.KindFeed, got.CollectorKind)
		assert.Equal(t, []string{"feed_url", "rank"}, got.Metadata.Keys())
		assert.Nil(t, got.ProcessedAt)
		assert.Nil(t, got.NotifiedAt)

		_, err = s.GetAlert(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// TestStore_ConcurrentCreate races many writers on one dedup key.
// Invariant: exactly one writer creates; all observe the same id.
func TestStore_ConcurrentCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers = 16

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     = map[string]int{}
			created int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a := sampleAlert(fmt.Sprintf("w%d", i), "Same update", PriorityHigh, t0)
				id, c, err := s.CreateAlertIfAbsent(ctx, a)
				assert.NoError(t, err)
				mu.Lock()
				ids[id]++
				if c {
					created++
				}
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, ids, 1)
	})
}

// TestStore_ListOrder verifies pending ordering.
// Invariant: priority descending, then published date descending.
func TestStore_ListOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, a := range []Alert{
			sampleAlert("low-new", "a", PriorityLow, t0.Add(48*time.Hour)),
			sampleAlert("high-old", "b", PriorityHigh, t0),
			sampleAlert("med", "c", PriorityMedium, t0),
			sampleAlert("high-new", "d", PriorityHigh, t0.Add(time.Hour)),
		} {
			_, _, err := s.CreateAlertIfAbsent(ctx, a)
			require.NoError(t, err)
		}
		require.NoError(t, s.SetAlertStatus(ctx, "med", StatusAnalyzed, nil, t0))

		pending, err := s.ListAlerts(ctx, StatusNew)
		require.NoError(t, err)
		var ids []string
		for _, a := range pending {
			ids = append(ids, a.ID)
		}
		assert.Equal(t, []string{"high-new", "high-old", "low-new"}, ids)

		analyzed, err := s.ListAlerts(ctx, StatusAnalyzed)
		require.NoError(t, err)
		require.Len(t, analyzed, 1)
		assert.Equal(t, "med", analyzed[0].ID)
	})
}

// TestStore_StatusLifecycle walks New -> Analyzed -> Notified.
// Invariant: processed_at and notified_at are stamped once, on first entry.
func TestStore_StatusLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, _, err := s.CreateAlertIfAbsent(ctx, sampleAlert("a1", "x", PriorityHigh, t0))
		require.NoError(t, err)

		first := t0.Add(time.Minute)
		patch := update.NewMetadata()
		patch.SetString("analyzer", "passthrough")
		patch.SetNumber("rank", 2)
		require.NoError(t, s.SetAlertStatus(ctx, "a1", StatusAnalyzed, patch, first))

		again := update.NewMetadata()
		again.SetBool("rerun", true)
		require.NoError(t, s.SetAlertStatus(ctx, "a1", StatusAnalyzed, again, first.Add(time.Hour)))

		got, err := s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, StatusAnalyzed, got.Status)
		require.NotNil(t, got.ProcessedAt)
		assert.Equal(t, first, *got.ProcessedAt, "second Analyzed call keeps the first stamp")
		assert.Nil(t, got.NotifiedAt)
		assert.Equal(t, "https://x.gov/rss", got.Metadata.GetString("feed_url"), "merge is additive")
		assert.Equal(t, "passthrough", got.Metadata.GetString("analyzer"))
		rank, _ := got.Metadata.Get("rank")
		n, _ := rank.Num()
		assert.Equal(t, float64(2), n, "patch overwrites the same key")
		rerun, _ := got.Metadata.Get("rerun")
		b, _ := rerun.Boolean()
		assert.True(t, b)

		notified := first.Add(2 * time.Hour)
		require.NoError(t, s.SetAlertStatus(ctx, "a1", StatusNotified, nil, notified))
		require.NoError(t, s.SetAlertStatus(ctx, "a1", StatusNotified, nil, notified.Add(time.Hour)))

		got, err = s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, StatusNotified, got.Status)
		assert.Equal(t, first, *got.ProcessedAt)
		require.NotNil(t, got.NotifiedAt)
		assert.Equal(t, notified, *got.NotifiedAt)
	})
}

// TestStore_RejectsBadTransitions verifies the transition guard.
// Invariant: no call moves an alert backward or skips a state.
func TestStore_RejectsBadTransitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, _, err := s.CreateAlertIfAbsent(ctx, sampleAlert("a1", "x", PriorityHigh, t0))
		require.NoError(t, err)

		err = s.SetAlertStatus(ctx, "a1", StatusNotified, nil, t0)
		assert.ErrorIs(t, err, ErrInvalidTransition, "New cannot skip to Notified")

		require.NoError(t, s.SetAlertStatus(ctx, "a1", StatusAnalyzed, nil, t0))
		assert.ErrorIs(t, s.SetAlertStatus(ctx, "a1", StatusNew, nil, t0), ErrInvalidTransition)

		require.NoError(t, s.SetAlertStatus(ctx, "a1", StatusNotified, nil, t0))
		assert.ErrorIs(t, s.SetAlertStatus(ctx, "a1", StatusAnalyzed, nil, t0), ErrInvalidTransition)
		assert.ErrorIs(t, s.SetAlertStatus(ctx, "a1", StatusNew, nil, t0), ErrInvalidTransition)
		assert.ErrorIs(t, s.SetAlertStatus(ctx, "a1", Status("Archived"), nil, t0), ErrInvalidTransition)

		got, err := s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, StatusNotified, got.Status)

		assert.ErrorIs(t, s.SetAlertStatus(ctx, "nope", StatusAnalyzed, nil, t0), ErrNotFound)
	})
}

// TestStore_MonotonicProperty drives random transition sequences.
// Property: the stored status rank never decreases and stamps never change
// once set.
func TestStore_MonotonicProperty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		statuses := []Status{StatusNew, StatusAnalyzed, StatusNotified}
		order := map[Status]int{StatusNew: 0, StatusAnalyzed: 1, StatusNotified: 2}
		var seq int

		parameters := gopter.DefaultTestParameters()
		parameters.MinSuccessfulTests = 50
		properties := gopter.NewProperties(parameters)

		properties.Property("status never moves backward", prop.ForAll(
			func(steps []int) bool {
				seq++
				id := fmt.Sprintf("p%d", seq)
				if _, _, err := s.CreateAlertIfAbsent(ctx, sampleAlert(id, id, PriorityLow, t0)); err != nil {
					return false
				}
				var (
					prev           = StatusNew
					stampP, stampN *time.Time
				)
				for i, step := range steps {
					target := statuses[step]
					err := s.SetAlertStatus(ctx, id, target, nil, t0.Add(time.Duration(i+1)*time.Minute))
					if CanTransition(prev, target) != (err == nil) {
						return false
					}
					if err != nil && !errors.Is(err, ErrInvalidTransition) {
						return false
					}
					got, err := s.GetAlert(ctx, id)
					if err != nil || order[got.Status] < order[prev] {
						return false
					}
					if stampP != nil && (got.ProcessedAt == nil || !got.ProcessedAt.Equal(*stampP)) {
						return false
					}
					if stampN != nil && (got.NotifiedAt == nil || !got.NotifiedAt.Equal(*stampN)) {
						return false
					}
					stampP, stampN = got.ProcessedAt, got.NotifiedAt
					prev = got.Status
				}
				return true
			},
			gen.SliceOf(gen.IntRange(0, 2)),
		))

		properties.TestingRun(t)
	})
}

// TestStore_ListUnnotified verifies the notification retry query.
// Invariant: only Analyzed alerts of the asked priority with no notified_at
// are returned.
func TestStore_ListUnnotified(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, a := range []Alert{
			sampleAlert("high-new", "a", PriorityHigh, t0),
			sampleAlert("high-analyzed", "b", PriorityHigh, t0.Add(time.Hour)),
			sampleAlert("high-older", "c", PriorityHigh, t0.Add(-time.Hour)),
			sampleAlert("high-notified", "d", PriorityHigh, t0),
			sampleAlert("med-analyzed", "e", PriorityMedium, t0),
		} {
			_, _, err := s.CreateAlertIfAbsent(ctx, a)
			require.NoError(t, err)
		}
		for _, id := range []string{"high-analyzed", "high-older", "high-notified", "med-analyzed"} {
			require.NoError(t, s.SetAlertStatus(ctx, id, StatusAnalyzed, nil, t0))
		}
		require.NoError(t, s.SetAlertStatus(ctx, "high-notified", StatusNotified, nil, t0))

		got, err := s.ListUnnotified(ctx, PriorityHigh)
		require.NoError(t, err)
		var ids []string
		for _, a := range got {
			ids = append(ids, a.ID)
		}
		assert.Equal(t, []string{"high-analyzed", "high-older"}, ids)
	})
}
