package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/riskcheck/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if strings.Contains(dsn, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS quota_windows (
	key          TEXT    NOT NULL,
	window_start INTEGER NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (key, window_start)
);

CREATE TABLE IF NOT EXISTS scam_reports (
	id          TEXT PRIMARY KEY,
	identifier  TEXT NOT NULL,
	category    TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	reported_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quota_windows_start ON quota_windows(window_start);
CREATE INDEX IF NOT EXISTS idx_scam_reports_identifier ON scam_reports(identifier);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetAndIncrement(ctx context.Context, key string, windowStart time.Time, max int) (bool, int, error) {
	if max <= 0 {
		count, err := s.windowCount(ctx, key, windowStart)
		return false, count, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO quota_windows (key, window_start, count, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(key, window_start) DO UPDATE SET count = quota_windows.count + 1, updated_at = excluded.updated_at
		 WHERE quota_windows.count < ?
		 RETURNING count`,
		key, windowStart.Unix(), time.Now().UTC().Unix(), max,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict row was at or over max; nothing was written.
		count, err = s.windowCount(ctx, key, windowStart)
		return false, count, err
	}
	if err != nil {
		return false, 0, eris.Wrapf(err, "sqlite: increment window %s", key)
	}
	return true, count, nil
}

func (s *SQLiteStore) windowCount(ctx context.Context, key string, windowStart time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM quota_windows WHERE key = ? AND window_start = ?`,
		key, windowStart.Unix(),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, eris.Wrapf(err, "sqlite: read window %s", key)
}

func (s *SQLiteStore) GetUsage(ctx context.Context, key string, from, to time.Time) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM quota_windows WHERE key = ? AND window_start >= ? AND window_start < ?`,
		key, from.Unix(), to.Unix(),
	).Scan(&total)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: get usage %s", key)
	}
	return total, nil
}

func (s *SQLiteStore) PurgeWindows(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quota_windows WHERE window_start < ?`, before.Unix())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge windows")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) AddReport(ctx context.Context, r model.ScamReport) (*model.ScamReport, error) {
	r.Identifier = NormalizeIdentifier(r.Identifier)
	if r.Identifier == "" {
		return nil, eris.New("sqlite: report identifier is required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scam_reports (id, identifier, category, description, source, reported_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Identifier, r.Category, r.Description, r.Source, r.ReportedAt.Unix(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}
	return &r, nil
}

func (s *SQLiteStore) LookupReports(ctx context.Context, identifiers []string) ([]model.ScamReport, error) {
	ids := normalizeIdentifiers(identifiers)
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identifier, category, description, source, reported_at FROM scam_reports
		 WHERE identifier IN (`+placeholders+`) ORDER BY reported_at DESC`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup reports")
	}
	defer rows.Close()

	var out []model.ScamReport
	for rows.Next() {
		var r model.ScamReport
		var reportedAt int64
		if err := rows.Scan(&r.ID, &r.Identifier, &r.Category, &r.Description, &r.Source, &reportedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		r.ReportedAt = time.Unix(reportedAt, 0).UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: lookup reports iterate")
}
