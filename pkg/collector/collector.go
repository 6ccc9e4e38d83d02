// Package collector implements the three source adapters (feed, API, web)
// that turn agency publications into canonical updates.
//
// Collectors never return errors. A failing source is logged and skipped,
// and a malformed entry is logged and dropped, so callers always receive
// the best-effort set of updates from the sources that worked.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roshinpv/regulateai/pkg/agency"
	"github.com/roshinpv/regulateai/pkg/fetch"
	"github.com/roshinpv/regulateai/pkg/update"
)

// Collector retrieves updates from one class of source for one agency.
type Collector interface {
	// Kind returns the collector variant.
	Kind() update.CollectorKind

	// AgencyID returns the agency this collector serves.
	AgencyID() string

	// CollectUpdates fetches every configured source and returns the
	// updates that could be extracted. It never fails as a whole.
	CollectUpdates(ctx context.Context) []update.Update
}

// ParseError is a malformed source document or entry.
type ParseError struct {
	Source string // URL the document came from
	Entry  int    // 1-based entry index, 0 for the document itself
	Err    error
}

func (e *ParseError) Error() string {
	if e.Entry > 0 {
		return fmt.Sprintf("parse %s entry %d: %v", e.Source, e.Entry, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// base carries what every variant needs.
type base struct {
	agency agency.AgencyConfig
	kind   update.CollectorKind
	client *fetch.Client
	now    func() time.Time
	logger *slog.Logger
}

func newBase(cfg agency.AgencyConfig, kind update.CollectorKind, client *fetch.Client, now func() time.Time) base {
	if now == nil {
		now = time.Now
	}
	return base{
		agency: cfg,
		kind:   kind,
		client: client,
		now:    now,
		logger: slog.Default().With("component", "collector", "agency", cfg.ID, "kind", string(kind)),
	}
}

func (b *base) Kind() update.CollectorKind { return b.kind }

func (b *base) AgencyID() string { return b.agency.ID }

// emit formats fields into canonical updates stamped with one collection
// time. Fields missing a title or publish date are dropped.
func (b *base) emit(ctx context.Context, fields []update.Fields) []update.Update {
	now := b.now()
	out := make([]update.Update, 0, len(fields))
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			b.logger.WarnContext(ctx, "entry dropped", "title", f.Title, "url", f.URL, "error", err)
			continue
		}
		out = append(out, update.Format(b.agency.ID, b.kind, f, now))
	}
	return out
}

func (b *base) sourceFailed(ctx context.Context, url string, err error) {
	b.logger.WarnContext(ctx, "source skipped", "url", url, "error", err)
}

func (b *base) entriesDropped(ctx context.Context, errs []error) {
	for _, err := range errs {
		b.logger.WarnContext(ctx, "entry dropped", "error", err)
	}
}

// withSnapshot records the archive reference on every entry of a source.
func withSnapshot(fields []update.Fields, snapshot string) {
	if snapshot == "" {
		return
	}
	for i := range fields {
		if fields[i].Metadata == nil {
			fields[i].Metadata = update.NewMetadata()
		}
		fields[i].Metadata.SetString("snapshot", snapshot)
	}
}
