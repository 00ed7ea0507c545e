package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// ErrRunNotFound is returned by run lookups for unknown run IDs. Callers
// test for it with errors.Is.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Owner        string          `json:"owner,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Owner string `json:"owner,omitempty"`
	RunID string `json:"run_id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the acquisition engine.
//
// Lead inserts use conflict-ignore semantics against the (email, owner)
// uniqueness constraint: the first writer wins and a losing concurrent
// insert is reported as not-inserted, never as an error.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetRunByIdempotencyKey(ctx context.Context, owner, key string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunCounters(ctx context.Context, runID string, counters model.RunCounters) error
	// FinishRun moves a run to a terminal status, recording final counters,
	// output reference, and end time. It only applies to non-terminal runs;
	// the returned bool reports whether a transition happened.
	FinishRun(ctx context.Context, runID string, status model.RunStatus, counters model.RunCounters, outputRef string) (bool, error)

	// Run logs (append-only)
	AppendRunLog(ctx context.Context, runID, stage, message string) (*model.RunLogEntry, error)
	ListRunLogs(ctx context.Context, runID string) ([]model.RunLogEntry, error)

	// Leads
	InsertLead(ctx context.Context, lead model.Lead) (*model.Lead, bool, error)
	LeadExists(ctx context.Context, owner, email string) (bool, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
