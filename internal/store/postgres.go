package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock's pool
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlQuotaIncrement = `INSERT INTO quota_windows (key, window_start, count, updated_at) VALUES ($1, $2, 1, $3)
ON CONFLICT (key, window_start) DO UPDATE SET count = quota_windows.count + 1, updated_at = EXCLUDED.updated_at
WHERE quota_windows.count < $4
RETURNING count`
	sqlQuotaRead     = `SELECT count FROM quota_windows WHERE key = $1 AND window_start = $2`
	sqlQuotaUsage    = `SELECT COALESCE(SUM(count), 0) FROM quota_windows WHERE key = $1 AND window_start >= $2 AND window_start < $3`
	sqlReportsLookup = `SELECT id, identifier, category, description, source, reported_at FROM scam_reports WHERE identifier = ANY($1) ORDER BY reported_at DESC`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS quota_windows (
	key          TEXT        NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	count        INTEGER     NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (key, window_start)
);

CREATE TABLE IF NOT EXISTS scam_reports (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	identifier  TEXT NOT NULL,
	category    TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	reported_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_quota_windows_start ON quota_windows(window_start);
CREATE INDEX IF NOT EXISTS idx_scam_reports_identifier ON scam_reports(identifier);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetAndIncrement(ctx context.Context, key string, windowStart time.Time, max int) (bool, int, error) {
	if max <= 0 {
		count, err := s.windowCount(ctx, key, windowStart)
		return false, count, err
	}

	var count int
	err := s.pool.QueryRow(ctx, sqlQuotaIncrement, key, windowStart.UTC(), time.Now().UTC(), max).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		count, err = s.windowCount(ctx, key, windowStart)
		return false, count, err
	}
	if err != nil {
		return false, 0, eris.Wrapf(err, "postgres: increment window %s", key)
	}
	return true, count, nil
}

func (s *PostgresStore) windowCount(ctx context.Context, key string, windowStart time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, sqlQuotaRead, key, windowStart.UTC()).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: read window %s", key)
	}
	return count, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, key string, from, to time.Time) (int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, sqlQuotaUsage, key, from.UTC(), to.UTC()).Scan(&total); err != nil {
		return 0, eris.Wrapf(err, "postgres: get usage %s", key)
	}
	return total, nil
}

func (s *PostgresStore) PurgeWindows(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quota_windows WHERE window_start < $1`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge windows")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) AddReport(ctx context.Context, r model.ScamReport) (*model.ScamReport, error) {
	r.Identifier = NormalizeIdentifier(r.Identifier)
	if r.Identifier == "" {
		return nil, eris.New("postgres: report identifier is required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scam_reports (id, identifier, category, description, source, reported_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Identifier, r.Category, r.Description, r.Source, r.ReportedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
	}
	return &r, nil
}

func (s *PostgresStore) LookupReports(ctx context.Context, identifiers []string) ([]model.ScamReport, error) {
	ids := normalizeIdentifiers(identifiers)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, sqlReportsLookup, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup reports")
	}
	defer rows.Close()

	var out []model.ScamReport
	for rows.Next() {
		var r model.ScamReport
		if err := rows.Scan(&r.ID, &r.Identifier, &r.Category, &r.Description, &r.Source, &r.ReportedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: lookup reports iterate")
	}
	return out, nil
}
