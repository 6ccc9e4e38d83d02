package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roshinpv/regulateai/pkg/update"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	dedup_key TEXT NOT NULL UNIQUE,
	agency_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	update_type TEXT NOT NULL,
	priority TEXT NOT NULL,
	priority_rank SMALLINT NOT NULL,
	status TEXT NOT NULL,
	published_date TIMESTAMPTZ NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	collector_kind TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	notified_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_alerts_status_order ON alerts (status, priority_rank DESC, published_date DESC);
`

// PostgresStore is a Store backed by PostgreSQL. Metadata is JSONB, so
// key order is not preserved across a round trip.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store over db. Call Migrate once before use
// on a fresh database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the alerts table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return persistErr("migrate", err)
	}
	return nil
}

func (s *PostgresStore) CreateAlertIfAbsent(ctx context.Context, a Alert) (string, bool, error) {
	meta, err := json.Marshal(a.Metadata.Clone())
	if err != nil {
		return "", false, persistErr("create", err)
	}
	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO alerts (id, dedup_key, agency_id, title, content, update_type, priority, priority_rank,
			status, published_date, url, collector_kind, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dedup_key) DO UPDATE SET dedup_key = EXCLUDED.dedup_key
		RETURNING id`,
		a.ID, a.DedupKey, a.AgencyID, a.Title, a.Content, string(a.UpdateType), string(a.Priority), a.Priority.Rank(),
		string(a.Status), a.PublishedDate.UTC(), a.URL, string(a.CollectorKind), string(meta), a.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return "", false, persistErr("create", err)
	}
	return id, id == a.ID, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, status Status) ([]Alert, error) {
	return s.queryAlerts(ctx, `WHERE status = $1`, string(status))
}

func (s *PostgresStore) ListUnnotified(ctx context.Context, priority Priority) ([]Alert, error) {
	return s.queryAlerts(ctx, `WHERE status = $1 AND priority = $2 AND notified_at IS NULL`,
		string(StatusAnalyzed), string(priority))
}

func (s *PostgresStore) queryAlerts(ctx context.Context, where string, args ...any) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts `+where+`
		ORDER BY priority_rank DESC, published_date DESC, id ASC`, args...)
	if err != nil {
		return nil, persistErr("list", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Alert, 0)
	for rows.Next() {
		a, err := scanPostgresAlert(rows)
		if err != nil {
			return nil, persistErr("list", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list", err)
	}
	return out, nil
}

func (s *PostgresStore) SetAlertStatus(ctx context.Context, id string, status Status, patch *update.Metadata, at time.Time) error {
	from := status.predecessors()
	if len(from) == 0 {
		return ErrInvalidTransition
	}
	if len(from) == 1 {
		from = append(from, from[0])
	}
	pj, err := json.Marshal(patch.Clone())
	if err != nil {
		return persistErr("set status", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET
			status = $1::text,
			metadata = metadata || $2::jsonb,
			processed_at = CASE WHEN $1::text = 'Analyzed' THEN COALESCE(processed_at, $3) ELSE processed_at END,
			notified_at = CASE WHEN $1::text = 'Notified' THEN COALESCE(notified_at, $3) ELSE notified_at END
		WHERE id = $4 AND status IN ($5, $6)`,
		string(status), string(pj), at.UTC(), id, string(from[0]), string(from[1]))
	if err != nil {
		return persistErr("set status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("set status", err)
	}
	if n > 0 {
		return nil
	}

	var st string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = $1`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return persistErr("set status", err)
	}
	return ErrInvalidTransition
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanPostgresAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, persistErr("get", err)
	}
	return a, nil
}

func scanPostgresAlert(r rowScanner) (Alert, error) {
	var (
		a                    Alert
		updateType, priority string
		status, kind         string
		meta                 []byte
		processed, notified  sql.NullTime
	)
	if err := r.Scan(&a.ID, &a.DedupKey, &a.AgencyID, &a.Title, &a.Content, &updateType, &priority, &status,
		&a.PublishedDate, &a.URL, &kind, &meta, &a.CreatedAt, &processed, &notified); err != nil {
		return Alert{}, err
	}
	a.UpdateType = UpdateType(updateType)
	a.Priority = Priority(priority)
	a.Status = Status(status)
	a.CollectorKind = update.CollectorKind(kind)
	a.PublishedDate = a.PublishedDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	if processed.Valid {
		t := processed.Time.UTC()
		a.ProcessedAt = &t
	}
	if notified.Valid {
		t := notified.Time.UTC()
		a.NotifiedAt = &t
	}
	a.Metadata = update.NewMetadata()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, a.Metadata); err != nil {
			return Alert{}, fmt.Errorf("decode metadata of %s: %w", a.ID, err)
		}
	}
	return a, nil
}
