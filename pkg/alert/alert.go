// Package alert owns idempotent alert creation and the alert lifecycle
// (New, Analyzed, Notified) on top of a pluggable persistence store.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roshinpv/regulateai/pkg/update"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusNew      Status = "New"
	StatusAnalyzed Status = "Analyzed"
	StatusNotified Status = "Notified"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusNew, StatusAnalyzed, StatusNotified} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown alert status %q", s)
}

// Valid reports whether s is one of the lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAnalyzed, StatusNotified:
		return true
	}
	return false
}

// predecessors returns the states from which s may be entered: s itself
// (an idempotent repeat) and the state immediately before it.
func (s Status) predecessors() []Status {
	switch s {
	case StatusNew:
		return []Status{StatusNew}
	case StatusAnalyzed:
		return []Status{StatusNew, StatusAnalyzed}
	case StatusNotified:
		return []Status{StatusAnalyzed, StatusNotified}
	}
	return nil
}

// CanTransition reports whether an alert in from may move to to.
func CanTransition(from, to Status) bool {
	for _, p := range to.predecessors() {
		if p == from {
			return true
		}
	}
	return false
}

// Priority is the urgency of an alert, fixed at creation.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Rank orders priorities; higher is more urgent. Unknown priorities rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ParsePriority accepts a priority name in any case.
func ParsePriority(s string) (Priority, error) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh} {
		if strings.EqualFold(strings.TrimSpace(s), string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// UnmarshalText lets rule files spell priorities in any case.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// UpdateType is the closed set of normalized update categories.
type UpdateType string

const (
	TypeRuleChange        UpdateType = "RuleChange"
	TypeGuidance          UpdateType = "Guidance"
	TypeAdvisory          UpdateType = "Advisory"
	TypeEnforcementAction UpdateType = "EnforcementAction"
	TypePressRelease      UpdateType = "PressRelease"
	TypeBulletin          UpdateType = "Bulletin"
	TypeNotice            UpdateType = "Notice"
	TypeOther             UpdateType = "Other"
)

// Alert is a persisted, deduplicated record of a regulatory update.
type Alert struct {
	ID            string               `json:"id"`
	DedupKey      string               `json:"dedup_key"`
	AgencyID      string               `json:"agency_id"`
	Title         string               `json:"title"`
	Content       string               `json:"content"`
	UpdateType    UpdateType           `json:"update_type"`
	Priority      Priority             `json:"priority"`
	Status        Status               `json:"status"`
	PublishedDate time.Time            `json:"published_date"`
	URL           string               `json:"url,omitempty"`
	CollectorKind update.CollectorKind `json:"collector_kind,omitempty"`
	Metadata      *update.Metadata     `json:"metadata"`
	CreatedAt     time.Time            `json:"created_at"`
	ProcessedAt   *time.Time           `json:"processed_at,omitempty"`
	NotifiedAt    *time.Time           `json:"notified_at,omitempty"`
}

var (
	// ErrNotFound is returned for an unknown alert id.
	ErrNotFound = errors.New("alert not found")

	// ErrInvalidTransition is returned for a status change that would skip
	// a state or move backward. The alert is left unchanged.
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// PersistenceError is a failure of the backing store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("alert store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
