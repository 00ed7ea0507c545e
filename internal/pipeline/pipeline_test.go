package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/wiza"
)

// fakeWiza simulates the provider: each submitted job succeeds immediately
// and yields one contact per company, unless configured otherwise.
type fakeWiza struct {
	mu      sync.Mutex
	jobs    map[string][]string
	failed  map[string]bool
	submits int

	failNth  int                                // fail the Nth submitted job (0 = none)
	hold     bool                               // jobs never reach a terminal state
	contacts func(company string) []wiza.ContactRecord // per-company results
}

func newFakeWiza() *fakeWiza {
	return &fakeWiza{
		jobs:   make(map[string][]string),
		failed: make(map[string]bool),
	}
}

func (f *fakeWiza) SubmitJob(_ context.Context, req wiza.JobRequest) (*wiza.JobResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	id := fmt.Sprintf("job-%d", f.submits)
	f.jobs[id] = req.Companies
	f.failed[id] = f.failNth > 0 && f.submits == f.failNth
	return &wiza.JobResponse{Success: true, JobID: id}, nil
}

func (f *fakeWiza) GetJobStatus(_ context.Context, jobID string) (*wiza.JobStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hold {
		return &wiza.JobStatusResponse{Status: wiza.StateSubmitted}, nil
	}
	if f.failed[jobID] {
		return &wiza.JobStatusResponse{Status: wiza.StateFailed, FailureCode: "scrape_error"}, nil
	}
	return &wiza.JobStatusResponse{Status: wiza.StateSucceeded, ResultHandle: jobID}, nil
}

func (f *fakeWiza) GetJobResults(_ context.Context, handle string) ([]wiza.ContactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wiza.ContactRecord
	for _, company := range f.jobs[handle] {
		if f.contacts != nil {
			out = append(out, f.contacts(company)...)
			continue
		}
		slug := strings.ToLower(strings.ReplaceAll(company, " ", ""))
		out = append(out, wiza.ContactRecord{
			FullName:    "Pat " + company,
			Email:       fmt.Sprintf("pat@%s.example", slug),
			CompanyName: company,
		})
	}
	return out, nil
}

func (f *fakeWiza) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func newTestPipeline(t *testing.T, client wiza.Client, chunkSize int, opts ...Option) (*Pipeline, store.Store) {
	t.Helper()
	st := newTestStore(t)
	adapter := NewAdapter(client, config.WizaConfig{})
	p := New(st, adapter,
		config.BatchConfig{ChunkSize: chunkSize},
		config.GateConfig{BlockedDomains: []string{"mailinator.com"}},
		opts...)
	return p, st
}

func makeTargets(n int) []model.TargetOrganization {
	out := make([]model.TargetOrganization, n)
	for i := range out {
		out[i] = model.TargetOrganization{Name: fmt.Sprintf("Company %d", i+1)}
	}
	return out
}

// waitTerminal drains the handle's feed until the run settles, then returns
// the final status from the store.
func waitTerminal(t *testing.T, p *Pipeline, h *RunHandle) *model.Run {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case _, ok := <-h.Events:
			if !ok {
				run, err := p.Status(context.Background(), h.RunID)
				require.NoError(t, err)
				require.True(t, run.Status.Terminal(), "feed closed but run not terminal")
				return run
			}
		case <-deadline:
			t.Fatal("run did not settle in time")
		}
	}
}

func TestPipeline_RunLifecycle(t *testing.T) {
	fake := newFakeWiza()
	p, st := newTestPipeline(t, fake, 10)

	handle, err := p.Start(context.Background(), RunRequest{
		Owner:   "acme-team",
		Targets: model.TargetSpec{Organizations: makeTargets(23)},
	})
	require.NoError(t, err)
	defer handle.Close()

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 23, run.Counters.Submitted)
	assert.Equal(t, 23, run.Counters.Accepted)
	assert.Zero(t, run.Counters.Errored)
	require.NotNil(t, run.EndedAt)

	// 23 targets at chunk size 10 means three provider jobs.
	assert.Equal(t, 3, fake.submitCount())

	leads, err := st.ListLeads(context.Background(), store.LeadFilter{RunID: run.ID, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, leads, 23)

	logs, err := p.Logs(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, model.StagePersistence, model.CurrentStage(logs))
	for i, e := range logs {
		assert.Equal(t, i+1, e.Seq, "log sequence must be gapless")
	}
}

func TestPipeline_ChunkFailureDoesNotAbortRun(t *testing.T) {
	fake := newFakeWiza()
	fake.failNth = 2
	p, st := newTestPipeline(t, fake, 10)

	handle, err := p.Start(context.Background(), RunRequest{
		Targets: model.TargetSpec{Organizations: makeTargets(23)},
	})
	require.NoError(t, err)
	defer handle.Close()

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 13, run.Counters.Submitted)
	assert.Equal(t, 13, run.Counters.Accepted)
	assert.Equal(t, 1, run.Counters.Errored)

	// All three chunks were attempted despite the middle failure.
	assert.Equal(t, 3, fake.submitCount())

	leads, err := st.ListLeads(context.Background(), store.LeadFilter{RunID: run.ID, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, leads, 13)
}

func TestPipeline_DedupAcrossChunks(t *testing.T) {
	fake := newFakeWiza()
	fake.contacts = func(company string) []wiza.ContactRecord {
		return []wiza.ContactRecord{{
			FullName:    "Same Person",
			Email:       "same@everywhere.example",
			CompanyName: company,
		}}
	}
	p, _ := newTestPipeline(t, fake, 2)

	handle, err := p.Start(context.Background(), RunRequest{
		Targets: model.TargetSpec{Organizations: makeTargets(5)},
	})
	require.NoError(t, err)
	defer handle.Close()

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 5, run.Counters.Submitted)
	assert.Equal(t, 1, run.Counters.Accepted)
	assert.Equal(t, 4, run.Counters.Duplicate)
}

func TestPipeline_EmptyTargetsFailsRun(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeWiza(), 10)

	handle, err := p.Start(context.Background(), RunRequest{})
	require.NoError(t, err)
	defer handle.Close()

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusFailed, run.Status)

	logs, err := p.Logs(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "no target organizations")
}

func TestPipeline_PromptResolvesToTargets(t *testing.T) {
	fake := newFakeWiza()
	p, _ := newTestPipeline(t, fake, 10)

	handle, err := p.Start(context.Background(), RunRequest{
		Targets: model.TargetSpec{Prompt: "Acme Corp, Globex\nInitech"},
	})
	require.NoError(t, err)
	defer handle.Close()

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Counters.Submitted)
	require.Len(t, run.Targets.Organizations, 3)
	assert.Equal(t, "Globex", run.Targets.Organizations[1].Name)
}

func TestPipeline_IdempotencyKeyReturnsExistingRun(t *testing.T) {
	fake := newFakeWiza()
	p, _ := newTestPipeline(t, fake, 10)

	req := RunRequest{
		Targets:        model.TargetSpec{Organizations: makeTargets(3)},
		IdempotencyKey: "retry-safe-1",
	}

	h1, err := p.Start(context.Background(), req)
	require.NoError(t, err)
	defer h1.Close()
	run := waitTerminal(t, p, h1)
	require.Equal(t, model.RunStatusCompleted, run.Status)

	h2, err := p.Start(context.Background(), req)
	require.NoError(t, err)
	defer h2.Close()
	assert.Equal(t, h1.RunID, h2.RunID)

	// No second provider job was submitted.
	assert.Equal(t, 1, fake.submitCount())
}

func TestPipeline_IdempotentAttachSettlesOrphanRun(t *testing.T) {
	p, st := newTestPipeline(t, newFakeWiza(), 10)
	ctx := context.Background()

	// A run left RUNNING by a crashed process: in the store, not in the
	// active registry.
	orphan, err := st.CreateRun(ctx, model.Run{
		Owner:          "default",
		Targets:        model.TargetSpec{Organizations: makeTargets(3)},
		IdempotencyKey: "crash-retry-1",
		Status:         model.RunStatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, orphan.ID, model.RunStatusRunning))

	handle, err := p.Start(ctx, RunRequest{
		Targets:        model.TargetSpec{Organizations: makeTargets(3)},
		IdempotencyKey: "crash-retry-1",
	})
	require.NoError(t, err)
	defer handle.Close()
	assert.Equal(t, orphan.ID, handle.RunID)

	// The replayed feed must end on a terminal status, and the store must
	// agree: the orphan is settled, not left running forever.
	var last model.RunStatus
	for ev := range handle.Events {
		if ev.Type == EventStatus {
			last = ev.Status
		}
	}
	assert.Equal(t, model.RunStatusCancelled, last)

	run, err := p.Status(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, run.Status)
}

func TestPipeline_Cancel(t *testing.T) {
	fake := newFakeWiza()
	fake.hold = true
	p, _ := newTestPipeline(t, fake, 10)

	handle, err := p.Start(context.Background(), RunRequest{
		Targets: model.TargetSpec{Organizations: makeTargets(23)},
	})
	require.NoError(t, err)
	defer handle.Close()

	ok, err := p.Cancel(context.Background(), handle.RunID)
	require.NoError(t, err)
	assert.True(t, ok)

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusCancelled, run.Status)

	// Cancelling a settled run stays an accepted no-op.
	ok, err = p.Cancel(context.Background(), handle.RunID)
	require.NoError(t, err)
	assert.True(t, ok)
	run, err = p.Status(context.Background(), handle.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, run.Status)
}

func TestPipeline_CancelUnknownRun(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeWiza(), 10)

	ok, err := p.Cancel(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPipeline_ForceFail(t *testing.T) {
	fake := newFakeWiza()
	fake.hold = true
	p, _ := newTestPipeline(t, fake, 10)

	handle, err := p.Start(context.Background(), RunRequest{
		Targets: model.TargetSpec{Organizations: makeTargets(5)},
	})
	require.NoError(t, err)
	defer handle.Close()

	ok, err := p.ForceFail(context.Background(), handle.RunID, "operator request")
	require.NoError(t, err)
	assert.True(t, ok)

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusFailed, run.Status)

	logs, err := p.Logs(context.Background(), run.ID)
	require.NoError(t, err)
	var found bool
	for _, e := range logs {
		if strings.Contains(e.Message, "operator request") {
			found = true
		}
	}
	assert.True(t, found, "force-fail reason must land in the run log")

	// Idempotent on a terminal run: accepted, status unchanged.
	ok, err = p.ForceFail(context.Background(), handle.RunID, "again")
	require.NoError(t, err)
	assert.True(t, ok)
	run, err = p.Status(context.Background(), handle.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestPipeline_EmailLessContactsNeverHalfPersist(t *testing.T) {
	fake := newFakeWiza()
	fake.contacts = func(company string) []wiza.ContactRecord {
		return []wiza.ContactRecord{
			{FullName: "Link One", LinkedInURL: "https://linkedin.com/in/one", CompanyName: company},
			{FullName: "Link Two", LinkedInURL: "https://linkedin.com/in/two", CompanyName: company},
		}
	}
	p, st := newTestPipeline(t, fake, 10)

	handle, err := p.Start(context.Background(), RunRequest{
		Targets: model.TargetSpec{Organizations: makeTargets(1)},
	})
	require.NoError(t, err)
	defer handle.Close()

	// Distinct email-less contacts must not collide on an empty storage key:
	// both are rejected at the gate, neither persists, none count duplicate.
	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Counters.Submitted)
	assert.Zero(t, run.Counters.Accepted)
	assert.Equal(t, 2, run.Counters.Rejected)
	assert.Zero(t, run.Counters.Duplicate)

	leads, err := st.ListLeads(context.Background(), store.LeadFilter{RunID: run.ID, Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestPipeline_BlockedDomainRejected(t *testing.T) {
	fake := newFakeWiza()
	fake.contacts = func(company string) []wiza.ContactRecord {
		return []wiza.ContactRecord{
			{FullName: "Good One", Email: "good@real.example", CompanyName: company},
			{FullName: "Throwaway", Email: "x@mailinator.com", CompanyName: company},
		}
	}
	p, _ := newTestPipeline(t, fake, 10)

	handle, err := p.Start(context.Background(), RunRequest{
		Targets: model.TargetSpec{Organizations: makeTargets(1)},
	})
	require.NoError(t, err)
	defer handle.Close()

	run := waitTerminal(t, p, handle)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Counters.Submitted)
	assert.Equal(t, 1, run.Counters.Accepted)
	assert.Equal(t, 1, run.Counters.Rejected)
}
