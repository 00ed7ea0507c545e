// Package pipeline orchestrates acquisition runs: chunking targets,
// driving the provider's submit/poll/fetch protocol, gating results, and
// recording every step against the run's persistent log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/crm"
	"github.com/sells-group/leadgen-cli/pkg/draft"
)

const finishTimeout = 10 * time.Second

// Pipeline supervises acquisition runs. One Pipeline serves all runs of a
// process; each Start spawns a background goroutine that owns its run's
// status transitions.
type Pipeline struct {
	store          store.Store
	adapter        *Adapter
	drafter        draft.Drafter
	exporter       crm.Exporter
	chunkSize      int
	chunkDelay     time.Duration
	blockedDomains []string

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	hub    *EventHub
}

// Option configures a Pipeline beyond its required collaborators.
type Option func(*Pipeline)

// WithDrafter enables the message-drafting stage.
func WithDrafter(d draft.Drafter) Option {
	return func(p *Pipeline) { p.drafter = d }
}

// WithExporter enables CRM export of accepted leads on run completion.
func WithExporter(e crm.Exporter) Option {
	return func(p *Pipeline) { p.exporter = e }
}

// New creates a Pipeline.
func New(st store.Store, adapter *Adapter, batchCfg config.BatchConfig, gateCfg config.GateConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          st,
		adapter:        adapter,
		chunkSize:      batchCfg.ChunkSize,
		chunkDelay:     time.Duration(batchCfg.ChunkDelaySecs) * time.Second,
		blockedDomains: gateCfg.BlockedDomains,
		active:         make(map[string]*activeRun),
	}
	if p.chunkSize < 1 {
		p.chunkSize = 10
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunRequest is the input for starting a run.
type RunRequest struct {
	Owner          string           `json:"owner,omitempty"`
	Targets        model.TargetSpec `json:"targets"`
	Filters        model.Filters    `json:"filters,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// RunHandle hands the caller the run's identity and its live event feed.
// Close releases the feed subscription; the run itself keeps going.
type RunHandle struct {
	RunID  string
	Events <-chan Event
	cancel func()
}

// Close releases the handle's event subscription.
func (h *RunHandle) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Start validates the request, creates the run, and launches its execution
// in the background. A request whose idempotency key matches an existing run
// returns a handle for that run instead of creating a new one.
func (p *Pipeline) Start(ctx context.Context, req RunRequest) (*RunHandle, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		owner = "default"
	}

	if req.IdempotencyKey != "" {
		existing, err := p.store.GetRunByIdempotencyKey(ctx, owner, req.IdempotencyKey)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: idempotency lookup")
		}
		if existing != nil {
			return p.attach(ctx, existing), nil
		}
	}

	targets := resolveTargets(req.Targets)

	run, err := p.store.CreateRun(ctx, model.Run{
		Owner:          owner,
		Targets:        model.TargetSpec{Prompt: req.Targets.Prompt, Organizations: targets},
		Filters:        req.Filters,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.RunStatusPending,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	hub := NewEventHub()
	events, cancelSub := hub.Subscribe()
	handle := &RunHandle{RunID: run.ID, Events: events, cancel: cancelSub}
	hub.Publish(Event{Type: EventRun, RunID: run.ID, Run: run})

	if len(targets) == 0 {
		// Malformed request: the run exists for auditability but fails
		// immediately without touching the provider.
		reqErr := &RequestError{Reason: "no target organizations"}
		p.appendLog(ctx, run.ID, model.StageDiscovery, reqErr.Error(), hub)
		if _, err := p.store.FinishRun(ctx, run.ID, model.RunStatusFailed, run.Counters, ""); err != nil {
			zap.L().Warn("finish run", zap.String("run_id", run.ID), zap.Error(err))
		}
		hub.Publish(Event{Type: EventStatus, RunID: run.ID, Status: model.RunStatusFailed})
		hub.Close()
		return handle, nil
	}

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.active[run.ID] = &activeRun{cancel: cancelRun, hub: hub}
	p.mu.Unlock()

	p.appendLog(ctx, run.ID, model.StageDiscovery,
		fmt.Sprintf("resolved %d target organizations", len(targets)), hub)

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		zap.L().Warn("update run status", zap.String("run_id", run.ID), zap.Error(err))
	}
	run.Status = model.RunStatusRunning
	hub.Publish(Event{Type: EventStatus, RunID: run.ID, Status: model.RunStatusRunning})

	go p.execute(runCtx, run, hub)

	return handle, nil
}

// resolveTargets produces the organization list a run operates on. An
// explicit list wins; otherwise the prompt is read as a loose roster of
// company names separated by commas, semicolons, or newlines.
func resolveTargets(spec model.TargetSpec) []model.TargetOrganization {
	var out []model.TargetOrganization
	if len(spec.Organizations) > 0 {
		for _, t := range spec.Organizations {
			t.Name = strings.TrimSpace(t.Name)
			if t.Name != "" {
				out = append(out, t)
			}
		}
		return out
	}

	for _, name := range strings.FieldsFunc(spec.Prompt, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, model.TargetOrganization{Name: name})
		}
	}
	return out
}

// execute drives one run to a terminal state. It is the only writer of the
// run's terminal transition on this path; force-fail races are settled by
// the store's status guard.
func (p *Pipeline) execute(ctx context.Context, run *model.Run, hub *EventHub) {
	defer func() {
		p.mu.Lock()
		delete(p.active, run.ID)
		p.mu.Unlock()
		hub.Close()
	}()

	totals := p.processChunks(ctx, run, hub)

	// The run context may be cancelled; final persistence gets its own.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	status := model.RunStatusCompleted
	if ctx.Err() != nil {
		status = model.RunStatusCancelled
	}

	outputRef := ""
	if status == model.RunStatusCompleted && p.exporter != nil && totals.Accepted > 0 {
		outputRef = p.export(finCtx, run, totals.Accepted, hub)
	}

	finished, err := p.store.FinishRun(finCtx, run.ID, status, totals, outputRef)
	if err != nil {
		zap.L().Error("finish run", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if !finished {
		// Lost the terminal transition to a force-fail; its log entry
		// already explains the outcome.
		return
	}

	switch status {
	case model.RunStatusCancelled:
		p.appendLog(finCtx, run.ID, model.StagePersistence, "run cancelled", hub)
	default:
		p.appendLog(finCtx, run.ID, model.StagePersistence,
			fmt.Sprintf("run complete: submitted=%d accepted=%d rejected=%d duplicate=%d errored=%d",
				totals.Submitted, totals.Accepted, totals.Rejected, totals.Duplicate, totals.Errored), hub)
	}
	hub.Publish(Event{Type: EventStatus, RunID: run.ID, Status: status})
}

// export pushes the run's accepted leads to the CRM and returns an output
// reference for the run record. Export failure is logged but does not fail
// an otherwise completed run.
func (p *Pipeline) export(ctx context.Context, run *model.Run, accepted int, hub *EventHub) string {
	leads, err := p.store.ListLeads(ctx, store.LeadFilter{RunID: run.ID, Limit: accepted})
	if err != nil {
		zap.L().Warn("list leads for export", zap.String("run_id", run.ID), zap.Error(err))
		return ""
	}
	if len(leads) == 0 {
		return ""
	}

	result, err := p.exporter.ExportLeads(ctx, leads)
	if err != nil {
		p.appendLog(ctx, run.ID, model.StagePersistence,
			fmt.Sprintf("crm export failed: %v", err), hub)
		return ""
	}

	p.appendLog(ctx, run.ID, model.StagePersistence,
		fmt.Sprintf("crm export: %d exported, %d failed", result.Exported, result.Failed), hub)
	return fmt.Sprintf("salesforce:leads:%d", result.Exported)
}

// attach builds a handle for an existing run. Active runs get the live hub;
// settled runs get a short replayed feed that closes immediately. A
// non-terminal run that is not active here is an orphan from a crashed
// process: no goroutine will ever settle it, so attach settles it to
// CANCELLED first, the same way Cancel handles orphans.
func (p *Pipeline) attach(ctx context.Context, run *model.Run) *RunHandle {
	p.mu.Lock()
	a := p.active[run.ID]
	p.mu.Unlock()

	if a != nil {
		events, cancel := a.hub.Subscribe()
		a.hub.Publish(Event{Type: EventRun, RunID: run.ID, Run: run})
		return &RunHandle{RunID: run.ID, Events: events, cancel: cancel}
	}

	if !run.Status.Terminal() {
		finished, err := p.store.FinishRun(ctx, run.ID, model.RunStatusCancelled, run.Counters, run.OutputRef)
		if err != nil {
			zap.L().Warn("settle orphan run", zap.String("run_id", run.ID), zap.Error(err))
		} else if finished {
			run.Status = model.RunStatusCancelled
		}
	}

	ch := make(chan Event, 2)
	ch <- Event{Type: EventRun, RunID: run.ID, Run: run}
	ch <- Event{Type: EventStatus, RunID: run.ID, Status: run.Status}
	close(ch)
	return &RunHandle{RunID: run.ID, Events: ch, cancel: func() {}}
}

// Watch subscribes to an active run's live feed. The bool reports whether
// the run is currently active in this process.
func (p *Pipeline) Watch(runID string) (<-chan Event, func(), bool) {
	p.mu.Lock()
	a := p.active[runID]
	p.mu.Unlock()
	if a == nil {
		return nil, nil, false
	}
	events, cancel := a.hub.Subscribe()
	return events, cancel, true
}

// Status returns the run's current snapshot.
func (p *Pipeline) Status(ctx context.Context, runID string) (*model.Run, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: get run %s", runID)
	}
	return run, nil
}

// Logs returns the run's full ordered log history.
func (p *Pipeline) Logs(ctx context.Context, runID string) ([]model.RunLogEntry, error) {
	entries, err := p.store.ListRunLogs(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list run logs %s", runID)
	}
	return entries, nil
}

// Stage reports the run's current stage, inferred from its log history.
func (p *Pipeline) Stage(ctx context.Context, runID string) (string, error) {
	entries, err := p.Logs(ctx, runID)
	if err != nil {
		return "", err
	}
	return model.CurrentStage(entries), nil
}

// Cancel requests cooperative cancellation of a run. The run's own goroutine
// performs the status transition at the next chunk boundary. Cancelling a
// run that is already terminal is an accepted no-op. The bool reports
// whether the run exists.
func (p *Pipeline) Cancel(ctx context.Context, runID string) (bool, error) {
	p.mu.Lock()
	a := p.active[runID]
	p.mu.Unlock()
	if a != nil {
		a.cancel()
		return true, nil
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return false, nil
		}
		return false, eris.Wrapf(err, "pipeline: get run %s", runID)
	}
	if !run.Status.Terminal() {
		// Known but not active here: an orphan from a crashed process.
		// Settle it directly.
		if _, err := p.store.FinishRun(ctx, runID, model.RunStatusCancelled, run.Counters, run.OutputRef); err != nil {
			return false, eris.Wrapf(err, "pipeline: cancel run %s", runID)
		}
	}
	return true, nil
}

// ForceFail moves a run to FAILED regardless of in-flight work, recording
// the reason in the run log. Force-failing an already terminal run is an
// idempotent no-op. The bool reports whether the run exists.
func (p *Pipeline) ForceFail(ctx context.Context, runID, reason string) (bool, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return false, nil
		}
		return false, eris.Wrapf(err, "pipeline: get run %s", runID)
	}
	if run.Status.Terminal() {
		return true, nil
	}

	p.mu.Lock()
	a := p.active[runID]
	p.mu.Unlock()

	msg := "force-failed"
	if reason != "" {
		msg = "force-failed: " + reason
	}
	p.appendLog(ctx, runID, "", msg, hubOrNil(a))

	finished, err := p.store.FinishRun(ctx, runID, model.RunStatusFailed, run.Counters, run.OutputRef)
	if err != nil {
		return false, eris.Wrapf(err, "pipeline: force fail run %s", runID)
	}
	if a != nil {
		if finished {
			a.hub.Publish(Event{Type: EventStatus, RunID: runID, Status: model.RunStatusFailed})
		}
		a.cancel()
	}
	return true, nil
}

func hubOrNil(a *activeRun) *EventHub {
	if a == nil {
		return nil
	}
	return a.hub
}

// appendLog persists one run log line and mirrors it onto the live feed.
// Log writes survive run cancellation.
func (p *Pipeline) appendLog(ctx context.Context, runID, stage, message string, hub *EventHub) {
	entry, err := p.store.AppendRunLog(context.WithoutCancel(ctx), runID, stage, message)
	if err != nil {
		zap.L().Warn("append run log", zap.String("run_id", runID), zap.Error(err))
		return
	}
	if hub != nil {
		hub.Publish(Event{Type: EventLog, RunID: runID, Log: entry})
	}
}
