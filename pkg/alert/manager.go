package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roshinpv/regulateai/pkg/update"
)

// Manager turns updates into deduplicated alerts and drives their status.
type Manager struct {
	store  Store
	policy PriorityPolicy
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPriorityPolicy replaces the built-in priority table.
func WithPriorityPolicy(p PriorityPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithClock sets the time source for created and transition stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator sets the alert id source.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// NewManager returns a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		policy: TablePolicy,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default().With("component", "alert"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessUpdate creates an alert for u unless one with the same dedup key
// exists. It returns the new or existing id and whether it was created.
// On a store failure the id is empty and the error is a *PersistenceError.
func (m *Manager) ProcessUpdate(ctx context.Context, u update.Update) (string, bool, error) {
	typ := NormalizeType(u.UpdateType)
	candidate := Alert{
		ID:            m.newID(),
		DedupKey:      DedupKey(u.AgencyID, u.Title, u.PublishedDate),
		AgencyID:      u.AgencyID,
		Title:         u.Title,
		Content:       u.Content,
		UpdateType:    typ,
		Priority:      m.policy.Priority(u, typ),
		Status:        StatusNew,
		PublishedDate: u.PublishedDate.UTC(),
		URL:           u.URL,
		CollectorKind: u.CollectorKind,
		Metadata:      u.Metadata.Clone(),
		CreatedAt:     m.now().UTC(),
	}
	if u.UpdateType != "" && u.UpdateType != string(typ) {
		candidate.Metadata.SetString("source_update_type", u.UpdateType)
	}

	id, created, err := m.store.CreateAlertIfAbsent(ctx, candidate)
	if err != nil {
		err = persistErr("create", err)
		m.logger.ErrorContext(ctx, "alert create failed", "agency", u.AgencyID, "title", u.Title, "error", err)
		return "", false, err
	}
	if created {
		m.logger.InfoContext(ctx, "alert created", "id", id, "agency", u.AgencyID, "type", string(typ), "priority", string(candidate.Priority))
	} else {
		m.logger.DebugContext(ctx, "duplicate update", "id", id, "agency", u.AgencyID)
	}
	return id, created, nil
}

// GetPendingAlerts returns every New alert, most urgent and most recent first.
func (m *Manager) GetPendingAlerts(ctx context.Context) ([]Alert, error) {
	alerts, err := m.store.ListAlerts(ctx, StatusNew)
	if err != nil {
		return nil, persistErr("list", err)
	}
	return alerts, nil
}

// GetUnnotifiedAlerts returns Analyzed High alerts that were never
// notified, in pending order.
func (m *Manager) GetUnnotifiedAlerts(ctx context.Context) ([]Alert, error) {
	alerts, err := m.store.ListUnnotified(ctx, PriorityHigh)
	if err != nil {
		return nil, persistErr("list", err)
	}
	return alerts, nil
}

// ListAlerts returns alerts in status, in pending order.
func (m *Manager) ListAlerts(ctx context.Context, status Status) ([]Alert, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown alert status %q", status)
	}
	alerts, err := m.store.ListAlerts(ctx, status)
	if err != nil {
		return nil, persistErr("list", err)
	}
	return alerts, nil
}

// UpdateAlertStatus moves alert id to status, merging patch into its
// metadata. Repeating the current status only merges metadata. Skipping a
// state or moving backward returns ErrInvalidTransition.
func (m *Manager) UpdateAlertStatus(ctx context.Context, id string, status Status, patch *update.Metadata) error {
	if !status.Valid() {
		return ErrInvalidTransition
	}
	if err := m.store.SetAlertStatus(ctx, id, status, patch, m.now()); err != nil {
		return persistErr("set status", err)
	}
	return nil
}

// GetAlert returns one alert.
func (m *Manager) GetAlert(ctx context.Context, id string) (Alert, error) {
	a, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return Alert{}, persistErr("get", err)
	}
	return a, nil
}
