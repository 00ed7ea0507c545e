package wiza

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Provider jobs normally finish within a few minutes; the defaults bound one
// poll loop to 60 attempts at 10s, i.e. ten minutes of waiting.
const (
	defaultPollInterval = 10 * time.Second
	defaultMaxAttempts  = 60
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	interval    time.Duration
	maxAttempts int
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		interval:    defaultPollInterval,
		maxAttempts: defaultMaxAttempts,
	}
}

// WithPollInterval overrides the fixed wait between status checks.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxAttempts overrides the poll attempt budget.
func WithMaxAttempts(n int) PollOption {
	return func(c *pollConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// PollJob polls GetJobStatus at a fixed interval until the job reaches a
// terminal state or the attempt budget runs out. Three outcomes end the loop:
// success returns the status (with its result handle), a failed or aborted
// job returns *JobFailedError, and budget exhaustion returns
// *PollTimeoutError. The wait itself observes ctx, so cancellation takes
// effect mid-interval rather than after the remaining poll budget.
func PollJob(ctx context.Context, client Client, jobID string, opts ...PollOption) (*JobStatusResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		status, err := client.GetJobStatus(ctx, jobID)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("wiza: poll job %s", jobID))
		}

		switch status.Status {
		case StateSucceeded:
			return status, nil
		case StateFailed, StateAborted:
			return nil, &JobFailedError{
				JobID:       jobID,
				Status:      status.Status,
				FailureCode: status.FailureCode,
			}
		}

		if attempt == cfg.maxAttempts {
			break
		}

		timer := time.NewTimer(cfg.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("wiza: poll job %s cancelled", jobID))
		case <-timer.C:
		}
	}

	return nil, &PollTimeoutError{JobID: jobID, Attempts: cfg.maxAttempts}
}
