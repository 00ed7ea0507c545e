package pipeline

import (
	"context"
	"time"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/pkg/wiza"
)

// Adapter runs the provider's submit/poll/fetch protocol for one chunk of
// targets and hands back canonical contacts. All provider knowledge stays
// behind this type; the rest of the pipeline never sees wire shapes.
type Adapter struct {
	client   wiza.Client
	pollOpts []wiza.PollOption
}

// NewAdapter creates an adapter around the given client. Poll pacing comes
// from cfg at construction time; nothing reads the environment at call time.
func NewAdapter(client wiza.Client, cfg config.WizaConfig) *Adapter {
	var opts []wiza.PollOption
	if cfg.PollIntervalSecs > 0 {
		opts = append(opts, wiza.WithPollInterval(time.Duration(cfg.PollIntervalSecs)*time.Second))
	}
	if cfg.PollMaxAttempts > 0 {
		opts = append(opts, wiza.WithMaxAttempts(cfg.PollMaxAttempts))
	}
	return &Adapter{client: client, pollOpts: opts}
}

// Acquire submits one provider job for the given targets, waits for it to
// finish, fetches the results, and normalizes them. Any failure (submit,
// poll, fetch) fails this call only; the caller decides what that means for
// the surrounding run.
func (a *Adapter) Acquire(ctx context.Context, targets []model.TargetOrganization, filters model.Filters) ([]model.CanonicalContact, error) {
	companies := make([]string, len(targets))
	for i, t := range targets {
		companies[i] = t.Name
	}

	sub, err := a.client.SubmitJob(ctx, wiza.JobRequest{
		Companies: companies,
		Filters:   toFilterPayload(filters),
	})
	if err != nil {
		return nil, err
	}

	status, err := wiza.PollJob(ctx, a.client, sub.JobID, a.pollOpts...)
	if err != nil {
		return nil, err
	}

	records, err := a.client.GetJobResults(ctx, status.ResultHandle)
	if err != nil {
		return nil, err
	}

	return NormalizeRecords(records, targets), nil
}

func toFilterPayload(f model.Filters) wiza.FilterPayload {
	return wiza.FilterPayload{
		JobTitles:   f.Titles,
		Seniorities: f.Seniorities,
		Locations:   f.Locations,
		MaxProfiles: f.MaxPerCompany,
	}
}
