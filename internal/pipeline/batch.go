package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/pkg/draft"
)

// draftConcurrency bounds parallel drafting calls within one chunk.
const draftConcurrency = 4

// SplitTargets partitions targets into chunks of at most size, preserving
// input order. A size below 1 yields a single chunk.
func SplitTargets(targets []model.TargetOrganization, size int) [][]model.TargetOrganization {
	if len(targets) == 0 {
		return nil
	}
	if size < 1 {
		return [][]model.TargetOrganization{targets}
	}
	chunks := make([][]model.TargetOrganization, 0, (len(targets)+size-1)/size)
	for start := 0; start < len(targets); start += size {
		end := min(start+size, len(targets))
		chunks = append(chunks, targets[start:end])
	}
	return chunks
}

// processChunks walks the run's chunks strictly in order, pacing successive
// provider jobs with the chunk limiter. A chunk failure is recorded and the
// walk continues; only cancellation stops it early, at a chunk boundary.
func (p *Pipeline) processChunks(ctx context.Context, run *model.Run, hub *EventHub) model.RunCounters {
	chunks := SplitTargets(run.Targets.Organizations, p.chunkSize)
	gate := NewGate(p.store, run.Owner, p.blockedDomains)
	limiter := rate.NewLimiter(rate.Every(p.chunkDelay), 1)

	p.appendLog(ctx, run.ID, model.StageContactFinding,
		fmt.Sprintf("processing %d targets in %d chunks of up to %d", len(run.Targets.Organizations), len(chunks), p.chunkSize), hub)

	var totals model.RunCounters
	for i, chunk := range chunks {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		counts := p.processChunk(ctx, run, i+1, len(chunks), chunk, gate, hub)
		totals.Add(counts)
		if err := p.store.UpdateRunCounters(context.WithoutCancel(ctx), run.ID, totals); err != nil {
			zap.L().Warn("update run counters", zap.String("run_id", run.ID), zap.Error(err))
		}

		if ctx.Err() != nil {
			break
		}
	}
	return totals
}

// processChunk runs one chunk end to end: acquire, gate, draft, persist.
// Failures inside the chunk surface as counters and log lines, never as an
// abort of the run.
func (p *Pipeline) processChunk(ctx context.Context, run *model.Run, idx, total int, chunk []model.TargetOrganization, gate *Gate, hub *EventHub) model.RunCounters {
	var counts model.RunCounters

	p.appendLog(ctx, run.ID, model.StageContactFinding,
		fmt.Sprintf("chunk %d/%d: submitting %d targets", idx, total, len(chunk)), hub)

	contacts, err := p.adapter.Acquire(ctx, chunk, run.Filters)
	if err != nil {
		if canceled(err) {
			return counts
		}
		counts.Errored++
		p.appendLog(ctx, run.ID, model.StageContactFinding,
			fmt.Sprintf("chunk %d/%d: %s: %v", idx, total, errorKind(err), err), hub)
		return counts
	}
	counts.Submitted = len(contacts)

	accepted := make([]model.CanonicalContact, 0, len(contacts))
	for _, c := range contacts {
		decision, err := gate.Check(ctx, c)
		if err != nil {
			if canceled(err) {
				return counts
			}
			counts.Errored++
			zap.L().Warn("gate check", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		switch decision.Outcome {
		case OutcomeAccepted:
			accepted = append(accepted, c)
		case OutcomeDuplicate:
			counts.Duplicate++
		default:
			counts.Rejected++
			zap.L().Debug("contact rejected",
				zap.String("run_id", run.ID),
				zap.String("email", c.Email),
				zap.String("reason", decision.Reason))
		}
	}

	leads := make([]model.Lead, len(accepted))
	for i, c := range accepted {
		leads[i] = model.LeadFromContact(c, run.Owner, run.ID)
	}

	if p.drafter != nil && len(leads) > 0 {
		p.appendLog(ctx, run.ID, model.StageDrafting,
			fmt.Sprintf("chunk %d/%d: drafting %d messages", idx, total, len(leads)), hub)
		p.draftLeads(ctx, run.ID, accepted, leads)
	}

	for i := range leads {
		_, inserted, err := p.store.InsertLead(ctx, leads[i])
		if err != nil {
			if canceled(err) {
				return counts
			}
			counts.Errored++
			zap.L().Warn("insert lead", zap.String("run_id", run.ID), zap.String("email", leads[i].Email), zap.Error(err))
			continue
		}
		if inserted {
			counts.Accepted++
		} else {
			// Lost the (email, owner) race to a concurrent run.
			counts.Duplicate++
		}
	}

	p.appendLog(ctx, run.ID, model.StagePersistence,
		fmt.Sprintf("chunk %d/%d done: submitted=%d accepted=%d rejected=%d duplicate=%d errored=%d",
			idx, total, counts.Submitted, counts.Accepted, counts.Rejected, counts.Duplicate, counts.Errored), hub)
	return counts
}

// draftLeads fills in outreach drafts for the chunk's accepted leads. A
// failed draft leaves that lead without one; drafting never blocks
// persistence.
func (p *Pipeline) draftLeads(ctx context.Context, runID string, accepted []model.CanonicalContact, leads []model.Lead) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(draftConcurrency)
	for i := range leads {
		g.Go(func() error {
			text, err := p.drafter.Draft(gctx, draft.Request{
				FirstName:      accepted[i].FirstName,
				LastName:       accepted[i].LastName,
				Title:          accepted[i].Title,
				CompanyName:    accepted[i].CompanyName,
				CompanyProfile: accepted[i].CompanyProfile,
			})
			if err != nil {
				if !canceled(err) {
					zap.L().Warn("draft message", zap.String("run_id", runID), zap.String("email", leads[i].Email), zap.Error(err))
				}
				return nil
			}
			leads[i].Draft = text
			return nil
		})
	}
	_ = g.Wait()
}
