package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roshinpv/regulateai/pkg/update"
)

// Store persists alerts.
//
// CreateAlertIfAbsent must be a single atomic insert-or-return-existing on
// DedupKey. ListAlerts returns alerts ordered by priority then publish date,
// both descending. ListUnnotified returns Analyzed alerts of priority whose
// notified_at is unset, in the same order. SetAlertStatus must apply the transition guard, the
// additive metadata merge and the single-stamp timestamps in one write.
type Store interface {
	CreateAlertIfAbsent(ctx context.Context, a Alert) (id string, created bool, err error)
	ListAlerts(ctx context.Context, status Status) ([]Alert, error)
	ListUnnotified(ctx context.Context, priority Priority) ([]Alert, error)
	SetAlertStatus(ctx context.Context, id string, status Status, patch *update.Metadata, at time.Time) error
	GetAlert(ctx context.Context, id string) (Alert, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	byKey  map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]*Alert),
		byKey:  make(map[string]string),
	}
}

func (s *MemoryStore) CreateAlertIfAbsent(_ context.Context, a Alert) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[a.DedupKey]; ok {
		return id, false, nil
	}
	stored := cloneAlert(a)
	s.alerts[a.ID] = &stored
	s.byKey[a.DedupKey] = a.ID
	return a.ID, true, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, status Status) ([]Alert, error) {
	s.mu.Lock()
	out := make([]Alert, 0)
	for _, a := range s.alerts {
		if a.Status == status {
			out = append(out, cloneAlert(*a))
		}
	}
	s.mu.Unlock()

	SortPending(out)
	return out, nil
}

func (s *MemoryStore) ListUnnotified(_ context.Context, priority Priority) ([]Alert, error) {
	s.mu.Lock()
	out := make([]Alert, 0)
	for _, a := range s.alerts {
		if a.Status == StatusAnalyzed && a.Priority == priority && a.NotifiedAt == nil {
			out = append(out, cloneAlert(*a))
		}
	}
	s.mu.Unlock()

	SortPending(out)
	return out, nil
}

func (s *MemoryStore) SetAlertStatus(_ context.Context, id string, status Status, patch *update.Metadata, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(a.Status, status) {
		return ErrInvalidTransition
	}
	a.Status = status
	if a.Metadata == nil {
		a.Metadata = update.NewMetadata()
	}
	a.Metadata.Merge(patch)
	at = at.UTC()
	switch status {
	case StatusAnalyzed:
		if a.ProcessedAt == nil {
			a.ProcessedAt = &at
		}
	case StatusNotified:
		if a.NotifiedAt == nil {
			a.NotifiedAt = &at
		}
	}
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id string) (Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	return cloneAlert(*a), nil
}

// SortPending orders alerts most urgent first, then most recent first.
func SortPending(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Priority.Rank(), alerts[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		if !alerts[i].PublishedDate.Equal(alerts[j].PublishedDate) {
			return alerts[i].PublishedDate.After(alerts[j].PublishedDate)
		}
		return alerts[i].ID < alerts[j].ID
	})
}

func cloneAlert(a Alert) Alert {
	a.Metadata = a.Metadata.Clone()
	if a.ProcessedAt != nil {
		t := *a.ProcessedAt
		a.ProcessedAt = &t
	}
	if a.NotifiedAt != nil {
		t := *a.NotifiedAt
		a.NotifiedAt = &t
	}
	return a
}
