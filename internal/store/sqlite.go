package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen-cli/internal/model"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	owner           TEXT NOT NULL,
	targets         TEXT NOT NULL,
	filters         TEXT NOT NULL,
	idempotency_key TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	counters        TEXT NOT NULL DEFAULT '{}',
	output_ref      TEXT,
	started_at      DATETIME,
	ended_at        DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_logs (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	stage      TEXT,
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
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
	fit_score       REAL NOT NULL DEFAULT 0,
	draft           TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal targets")
	}
	filtersJSON, err := json.Marshal(run.Filters)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal filters")
	}
	countersJSON, err := json.Marshal(run.Counters)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal counters")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, owner, targets, filters, idempotency_key, status, counters, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Owner, string(targetsJSON), string(filtersJSON), run.IdempotencyKey,
		string(run.Status), string(countersJSON), run.StartedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, selectRunSQLite+` WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) GetRunByIdempotencyKey(ctx context.Context, owner, key string) (*model.Run, error) {
	if key == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		selectRunSQLite+` WHERE owner = ? AND idempotency_key = ?`, owner, key)
	run, err := scanRun(row)
	if err != nil && errors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := selectRunSQLite + ` WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, filter.Owner)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunCounters(ctx context.Context, runID string, counters model.RunCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET counters = ?, updated_at = ? WHERE id = ?`,
		string(countersJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run counters %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, counters model.RunCounters, outputRef string) (bool, error) {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal counters")
	}
	now := time.Now().UTC()

	// The status guard makes terminal transitions first-writer-wins: a run
	// already completed, failed, or cancelled is never rewritten.
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, counters = ?, output_ref = ?, ended_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(status), string(countersJSON), outputRef, now, now,
		runID, string(model.RunStatusPending), string(model.RunStatusRunning),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) AppendRunLog(ctx context.Context, runID, stage, message string) (*model.RunLogEntry, error) {
	now := time.Now().UTC()
	var seq int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO run_logs (run_id, seq, stage, message, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM run_logs WHERE run_id = ?), ?, ?, ?)
		 RETURNING seq`,
		runID, runID, stage, message, now,
	).Scan(&seq)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: append run log %s", runID)
	}
	return &model.RunLogEntry{
		RunID:     runID,
		Seq:       seq,
		Stage:     stage,
		Message:   message,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) ListRunLogs(ctx context.Context, runID string) ([]model.RunLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, stage, message, created_at FROM run_logs WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list run logs %s", runID)
	}
	defer rows.Close()

	var entries []model.RunLogEntry
	for rows.Next() {
		var e model.RunLogEntry
		var stage sql.NullString
		if err := rows.Scan(&e.RunID, &e.Seq, &stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run log")
		}
		e.Stage = stage.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list run logs iterate")
}

func (s *SQLiteStore) InsertLead(ctx context.Context, lead model.Lead) (*model.Lead, bool, error) {
	lead.ID = uuid.New().String()
	lead.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO leads
		 (id, owner, run_id, first_name, last_name, email, title, linkedin_url,
		  company_name, company_domain, company_profile, fit_score, draft, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Owner, lead.RunID, lead.FirstName, lead.LastName, lead.Email,
		lead.Title, lead.LinkedInURL, lead.CompanyName, lead.CompanyDomain,
		lead.CompanyProfile, lead.FitScore, lead.Draft, lead.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert lead")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, false, nil
	}
	return &lead, true, nil
}

func (s *SQLiteStore) LeadExists(ctx context.Context, owner, email string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM leads WHERE owner = ? AND email = ?`, owner, email,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: lead exists")
	}
	return true, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, owner, run_id, first_name, last_name, email, title, linkedin_url,
	          company_name, company_domain, company_profile, fit_score, draft, created_at
	          FROM leads WHERE 1=1`
	var args []any

	if filter.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, filter.Owner)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

// helpers

const selectRunSQLite = `SELECT id, owner, targets, filters, idempotency_key, status, counters,
	output_ref, started_at, ended_at, created_at, updated_at FROM runs`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var targetsJSON, filtersJSON, countersJSON string
	var idemKey, outputRef sql.NullString
	var startedAt, endedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Owner, &targetsJSON, &filtersJSON, &idemKey, &r.Status,
		&countersJSON, &outputRef, &startedAt, &endedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	if err := json.Unmarshal([]byte(targetsJSON), &r.Targets); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal targets")
	}
	if err := json.Unmarshal([]byte(filtersJSON), &r.Filters); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal filters")
	}
	if countersJSON != "" && countersJSON != "{}" {
		if err := json.Unmarshal([]byte(countersJSON), &r.Counters); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal counters")
		}
	}
	r.IdempotencyKey = idemKey.String
	r.OutputRef = outputRef.String
	if startedAt.Valid {
		r.StartedAt = startedAt.Time
	}
	if endedAt.Valid {
		t := endedAt.Time
		r.EndedAt = &t
	}
	return &r, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var runID, firstName, lastName, title, linkedin, coName, coDomain, coProfile, draft sql.NullString

	err := row.Scan(&l.ID, &l.Owner, &runID, &firstName, &lastName, &l.Email, &title,
		&linkedin, &coName, &coDomain, &coProfile, &l.FitScore, &draft, &l.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan lead")
	}

	l.RunID = runID.String
	l.FirstName = firstName.String
	l.LastName = lastName.String
	l.Title = title.String
	l.LinkedInURL = linkedin.String
	l.CompanyName = coName.String
	l.CompanyDomain = coDomain.String
	l.CompanyProfile = coProfile.String
	l.Draft = draft.String
	return &l, nil
}
