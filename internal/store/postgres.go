package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
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
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	owner           TEXT NOT NULL,
	targets         JSONB NOT NULL,
	filters         JSONB NOT NULL,
	idempotency_key TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	counters        JSONB NOT NULL DEFAULT '{}',
	output_ref      TEXT,
	started_at      TIMESTAMPTZ,
	ended_at        TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_logs (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	stage      TEXT,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY,
	owner           TEXT NOT NULL,
	run_id          TEXT,
	first_name      TEXT,
	last_name       TEXT,
	email           TEXT NOT NULL,
	title           TEXT,
	linkedin_url    TEXT,
	company_name    TEXT,
	company_domain  TEXT,
	company_profile TEXT,
	fit_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	draft           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (email, owner)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_owner ON runs(owner);
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_idempotency
	ON runs(owner, idempotency_key)
	WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_leads_owner ON leads(owner);
CREATE INDEX IF NOT EXISTS idx_leads_run_id ON leads(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const selectRunPostgres = `SELECT id, owner, targets, filters, idempotency_key, status, counters,
	output_ref, started_at, ended_at, created_at, updated_at FROM runs`

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	run.StartedAt = now
	if run.Status == "" {
		run.Status = model.RunStatusPending
	}

	targetsJSON, err := json.Marshal(run.Targets)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal targets")
	}
	filtersJSON, err := json.Marshal(run.Filters)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal filters")
	}
	countersJSON, err := json.Marshal(run.Counters)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal counters")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, owner, targets, filters, idempotency_key, status, counters, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Owner, targetsJSON, filtersJSON, run.IdempotencyKey,
		string(run.Status), countersJSON, run.StartedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, selectRunPostgres+` WHERE id = $1`, runID)
	run, err := scanRunPG(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) GetRunByIdempotencyKey(ctx context.Context, owner, key string) (*model.Run, error) {
	if key == "" {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		selectRunPostgres+` WHERE owner = $1 AND idempotency_key = $2`, owner, key)
	run, err := scanRunPG(row)
	if errors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run by idempotency key")
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := selectRunPostgres + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Owner != "" {
		query += ` AND owner = ` + arg(filter.Owner)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ` + arg(filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRunPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs scan")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunCounters(ctx context.Context, runID string, counters model.RunCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET counters = $1, updated_at = $2 WHERE id = $3`,
		countersJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run counters %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, counters model.RunCounters, outputRef string) (bool, error) {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal counters")
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, counters = $2, output_ref = $3, ended_at = $4, updated_at = $5
		 WHERE id = $6 AND status IN ($7, $8)`,
		string(status), countersJSON, outputRef, now, now,
		runID, string(model.RunStatusPending), string(model.RunStatusRunning),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) AppendRunLog(ctx context.Context, runID, stage, message string) (*model.RunLogEntry, error) {
	now := time.Now().UTC()
	var seq int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO run_logs (run_id, seq, stage, message, created_at)
		 VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM run_logs WHERE run_id = $1), $2, $3, $4)
		 RETURNING seq`,
		runID, stage, message, now,
	).Scan(&seq)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: append run log %s", runID)
	}
	return &model.RunLogEntry{
		RunID:     runID,
		Seq:       seq,
		Stage:     stage,
		Message:   message,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) ListRunLogs(ctx context.Context, runID string) ([]model.RunLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, seq, stage, message, created_at FROM run_logs WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list run logs %s", runID)
	}
	defer rows.Close()

	var entries []model.RunLogEntry
	for rows.Next() {
		var e model.RunLogEntry
		var stage *string
		if err := rows.Scan(&e.RunID, &e.Seq, &stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run log")
		}
		if stage != nil {
			e.Stage = *stage
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list run logs iterate")
}

func (s *PostgresStore) InsertLead(ctx context.Context, lead model.Lead) (*model.Lead, bool, error) {
	lead.ID = uuid.New().String()
	lead.CreatedAt = time.Now().UTC()

	// First writer wins on (email, owner); a concurrent duplicate insert is
	// a no-op, not an error.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leads
		 (id, owner, run_id, first_name, last_name, email, title, linkedin_url,
		  company_name, company_domain, company_profile, fit_score, draft, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (email, owner) DO NOTHING`,
		lead.ID, lead.Owner, lead.RunID, lead.FirstName, lead.LastName, lead.Email,
		lead.Title, lead.LinkedInURL, lead.CompanyName, lead.CompanyDomain,
		lead.CompanyProfile, lead.FitScore, lead.Draft, lead.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert lead")
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	return &lead, true, nil
}

func (s *PostgresStore) LeadExists(ctx context.Context, owner, email string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM leads WHERE owner = $1 AND email = $2`, owner, email,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: lead exists")
	}
	return true, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, owner, run_id, first_name, last_name, email, title, linkedin_url,
	          company_name, company_domain, company_profile, fit_score, draft, created_at
	          FROM leads WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Owner != "" {
		query += ` AND owner = ` + arg(filter.Owner)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLeadPG(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

// helpers

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanRunPG(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var targetsJSON, filtersJSON, countersJSON []byte
	var idemKey, outputRef *string
	var startedAt, endedAt *time.Time

	err := row.Scan(&r.ID, &r.Owner, &targetsJSON, &filtersJSON, &idemKey, &r.Status,
		&countersJSON, &outputRef, &startedAt, &endedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(targetsJSON, &r.Targets); err != nil {
		return nil, eris.Wrap(err, "unmarshal targets")
	}
	if err := json.Unmarshal(filtersJSON, &r.Filters); err != nil {
		return nil, eris.Wrap(err, "unmarshal filters")
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &r.Counters); err != nil {
			return nil, eris.Wrap(err, "unmarshal counters")
		}
	}
	if idemKey != nil {
		r.IdempotencyKey = *idemKey
	}
	if outputRef != nil {
		r.OutputRef = *outputRef
	}
	if startedAt != nil {
		r.StartedAt = *startedAt
	}
	r.EndedAt = endedAt
	return &r, nil
}

func scanLeadPG(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var runID, firstName, lastName, title, linkedin, coName, coDomain, coProfile, draft *string

	err := row.Scan(&l.ID, &l.Owner, &runID, &firstName, &lastName, &l.Email, &title,
		&linkedin, &coName, &coDomain, &coProfile, &l.FitScore, &draft, &l.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead")
	}

	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	l.RunID = deref(runID)
	l.FirstName = deref(firstName)
	l.LastName = deref(lastName)
	l.Title = deref(title)
	l.LinkedInURL = deref(linkedin)
	l.CompanyName = deref(coName)
	l.CompanyDomain = deref(coDomain)
	l.CompanyProfile = deref(coProfile)
	l.Draft = deref(draft)
	return &l, nil
}
