package model

import (
	"time"
)

// RunStatus represents the current state of an acquisition run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a final state. A terminal run is
// never mutated again except by an idempotent force-fail, which is a no-op.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Stage labels, in pipeline order. Log entries carry one of these (or an
// empty stage for incidental lines); the run's displayed stage is inferred
// from the log tail.
const (
	StageDiscovery      = "discovery"
	StageProfiling      = "profiling"
	StageContactFinding = "contact_finding"
	StageDrafting       = "message_drafting"
	StagePersistence    = "persistence"
)

// Stages lists the known stage labels in order.
var Stages = []string{
	StageDiscovery,
	StageProfiling,
	StageContactFinding,
	StageDrafting,
	StagePersistence,
}

var stageSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Stages))
	for _, s := range Stages {
		m[s] = struct{}{}
	}
	return m
}()

// CurrentStage infers the run's current stage from its ordered log history:
// the most recent entry carrying a known stage label wins. Incidental log
// lines (empty or unknown stage) are skipped so they cannot regress the
// displayed stage. Returns "" if no entry names a stage.
func CurrentStage(logs []RunLogEntry) string {
	for i := len(logs) - 1; i >= 0; i-- {
		if _, ok := stageSet[logs[i].Stage]; ok {
			return logs[i].Stage
		}
	}
	return ""
}

// Filters narrows which contacts the provider should return for each
// target organization.
type Filters struct {
	Titles        []string `json:"titles,omitempty" yaml:"titles"`
	Seniorities   []string `json:"seniorities,omitempty" yaml:"seniorities"`
	Locations     []string `json:"locations,omitempty" yaml:"locations"`
	MaxPerCompany int      `json:"max_per_company,omitempty" yaml:"max_per_company"`
}

// TargetSpec describes what to search against: either an explicit list of
// organizations or a free-text search prompt resolved upstream.
type TargetSpec struct {
	Prompt        string               `json:"prompt,omitempty" yaml:"prompt"`
	Organizations []TargetOrganization `json:"organizations,omitempty" yaml:"organizations"`
}

// RunCounters aggregates per-record outcomes across all chunks of a run.
type RunCounters struct {
	Submitted int `json:"submitted"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Duplicate int `json:"duplicate"`
	Errored   int `json:"errored"`
}

// Add accumulates another set of counters into c.
func (c *RunCounters) Add(other RunCounters) {
	c.Submitted += other.Submitted
	c.Accepted += other.Accepted
	c.Rejected += other.Rejected
	c.Duplicate += other.Duplicate
	c.Errored += other.Errored
}

// Run represents a single acquisition run. Mutated only by the orchestrator;
// immutable once its status is terminal.
type Run struct {
	ID             string      `json:"id"`
	Owner          string      `json:"owner"`
	Targets        TargetSpec  `json:"targets"`
	Filters        Filters     `json:"filters"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Status         RunStatus   `json:"status"`
	Counters       RunCounters `json:"counters"`
	OutputRef      string      `json:"output_ref,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RunLogEntry is one append-only log line for a run. Entries are totally
// ordered by Seq within a run and never rewritten.
type RunLogEntry struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
