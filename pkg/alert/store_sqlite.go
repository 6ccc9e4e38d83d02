package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roshinpv/regulateai/pkg/update"

	_ "modernc.org/sqlite"
)

// sqliteTime is fixed-width so that text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000Z07:00"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		dedup_key TEXT NOT NULL UNIQUE,
		agency_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		update_type TEXT NOT NULL,
		priority TEXT NOT NULL,
		priority_rank INTEGER NOT NULL,
		status TEXT NOT NULL,
		published_date TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		collector_kind TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		processed_at TEXT,
		notified_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_status_order
		ON alerts (status, priority_rank DESC, published_date DESC)`,
}

const alertColumns = `id, dedup_key, agency_id, title, content, update_type, priority, status,
	published_date, url, collector_kind, metadata, created_at, processed_at, notified_at`

// SQLiteStore is a Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore migrates db and returns a store over it.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens dsn with the modernc driver and migrates it.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, persistErr("open", err)
	}
	// SQLite allows one writer; a single connection also keeps
	// in-memory databases shared across calls.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return persistErr("migrate", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateAlertIfAbsent(ctx context.Context, a Alert) (string, bool, error) {
	meta, err := json.Marshal(a.Metadata.Clone())
	if err != nil {
		return "", false, persistErr("create", err)
	}
	query := `INSERT INTO alerts (id, dedup_key, agency_id, title, content, update_type, priority, priority_rank,
		status, published_date, url, collector_kind, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO UPDATE SET dedup_key = excluded.dedup_key
		RETURNING id`

	var id string
	err = s.db.QueryRowContext(ctx, query,
		a.ID, a.DedupKey, a.AgencyID, a.Title, a.Content, string(a.UpdateType), string(a.Priority), a.Priority.Rank(),
		string(a.Status), formatSQLiteTime(a.PublishedDate), a.URL, string(a.CollectorKind), string(meta), formatSQLiteTime(a.CreatedAt),
	).Scan(&id)
	if err != nil {
		return "", false, persistErr("create", err)
	}
	return id, id == a.ID, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, status Status) ([]Alert, error) {
	return s.queryAlerts(ctx, `WHERE status = ?`, string(status))
}

func (s *SQLiteStore) ListUnnotified(ctx context.Context, priority Priority) ([]Alert, error) {
	return s.queryAlerts(ctx, `WHERE status = ? AND priority = ? AND notified_at IS NULL`,
		string(StatusAnalyzed), string(priority))
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, where string, args ...any) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts `+where+`
		ORDER BY priority_rank DESC, published_date DESC, id ASC`, args...)
	if err != nil {
		return nil, persistErr("list", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Alert, 0)
	for rows.Next() {
		a, err := scanSQLiteAlert(rows)
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

func (s *SQLiteStore) SetAlertStatus(ctx context.Context, id string, status Status, patch *update.Metadata, at time.Time) error {
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
	ts := formatSQLiteTime(at)

	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET
			status = ?,
			metadata = json_patch(metadata, ?),
			processed_at = CASE WHEN ? = 'Analyzed' THEN COALESCE(processed_at, ?) ELSE processed_at END,
			notified_at = CASE WHEN ? = 'Notified' THEN COALESCE(notified_at, ?) ELSE notified_at END
		WHERE id = ? AND status IN (?, ?)`,
		string(status), string(pj), string(status), ts, string(status), ts, id, string(from[0]), string(from[1]))
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
	return s.missOrConflict(ctx, id)
}

// missOrConflict explains an UPDATE that touched no row.
func (s *SQLiteStore) missOrConflict(ctx context.Context, id string) error {
	var st string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = ?`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return persistErr("set status", err)
	}
	return ErrInvalidTransition
}

func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanSQLiteAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, persistErr("get", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAlert(r rowScanner) (Alert, error) {
	var (
		a                    Alert
		updateType, priority string
		status, kind         string
		published, created   string
		meta                 string
		processed, notified  sql.NullString
	)
	if err := r.Scan(&a.ID, &a.DedupKey, &a.AgencyID, &a.Title, &a.Content, &updateType, &priority, &status,
		&published, &a.URL, &kind, &meta, &created, &processed, &notified); err != nil {
		return Alert{}, err
	}
	a.UpdateType = UpdateType(updateType)
	a.Priority = Priority(priority)
	a.Status = Status(status)
	a.CollectorKind = update.CollectorKind(kind)

	var err error
	if a.PublishedDate, err = parseSQLiteTime(published); err != nil {
		return Alert{}, err
	}
	if a.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return Alert{}, err
	}
	if a.ProcessedAt, err = parseNullSQLiteTime(processed); err != nil {
		return Alert{}, err
	}
	if a.NotifiedAt, err = parseNullSQLiteTime(notified); err != nil {
		return Alert{}, err
	}
	a.Metadata = update.NewMetadata()
	if err := json.Unmarshal([]byte(meta), a.Metadata); err != nil {
		return Alert{}, fmt.Errorf("decode metadata of %s: %w", a.ID, err)
	}
	return a, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullSQLiteTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
