// Package update defines the canonical regulatory update record produced by
// every collector, together with the text, date and classification helpers
// the collectors share.
package update

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Required-field errors returned by Fields.Validate.
var (
	ErrMissingTitle = errors.New("missing title")
	ErrMissingDate  = errors.New("missing publish date")
)

// CollectorKind identifies which collector variant produced an update.
type CollectorKind string

const (
	KindFeed CollectorKind = "feed"
	KindAPI  CollectorKind = "api"
	KindWeb  CollectorKind = "web"
)

// Update is the canonical, source-independent regulatory update.
// Updates are created once per source item per cycle and never mutated.
type Update struct {
	AgencyID      string        `json:"agency_id"`
	Title         string        `json:"title"`
	Content       string        `json:"content"`
	UpdateType    string        `json:"update_type"` // free-form label, normalized by the alert manager
	PublishedDate time.Time     `json:"published_date"`
	URL           string        `json:"url,omitempty"`
	Metadata      *Metadata     `json:"metadata"`
	CollectedAt   time.Time     `json:"collected_at"`
	CollectorKind CollectorKind `json:"collector_kind"`
}

// Fields is the source-specific record a collector hands to Format.
type Fields struct {
	Title         string
	Content       string
	UpdateType    string
	PublishedDate time.Time
	URL           string
	Metadata      *Metadata
}

// Validate reports whether f carries the fields every update needs: a
// non-blank title and a publish date.
func (f Fields) Validate() error {
	var errs []error
	if CleanText(f.Title) == "" {
		errs = append(errs, ErrMissingTitle)
	}
	if f.PublishedDate.IsZero() {
		errs = append(errs, ErrMissingDate)
	}
	return errors.Join(errs...)
}

// Format converts fields into a canonical Update. It is pure: the caller
// supplies the collection time.
func Format(agencyID string, kind CollectorKind, f Fields, collectedAt time.Time) Update {
	md := f.Metadata.Clone()
	return Update{
		AgencyID:      agencyID,
		Title:         CleanText(f.Title),
		Content:       CleanText(f.Content),
		UpdateType:    strings.TrimSpace(f.UpdateType),
		PublishedDate: f.PublishedDate.UTC(),
		URL:           strings.TrimSpace(f.URL),
		Metadata:      md,
		CollectedAt:   collectedAt.UTC(),
		CollectorKind: kind,
	}
}

// WithKind returns a copy of u tagged with kind.
func (u Update) WithKind(kind CollectorKind) Update {
	u.CollectorKind = kind
	return u
}

// String returns a compact JSON rendering for logs.
func (u Update) String() string {
	b, err := json.Marshal(u)
	if err != nil {
		return u.AgencyID + ": " + u.Title
	}
	return string(b)
}
