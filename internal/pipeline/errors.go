package pipeline

import (
	"context"
	"errors"

	"github.com/sells-group/leadgen-cli/pkg/wiza"
)

// RequestError marks a malformed run request. Unlike provider or timeout
// errors, which are scoped to a single chunk, a RequestError fails the
// whole run.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "invalid run request: " + e.Reason
}

// errorKind labels an acquire error for run logs.
func errorKind(err error) string {
	var jobErr *wiza.JobFailedError
	var pollErr *wiza.PollTimeoutError
	var apiErr *wiza.APIError
	switch {
	case errors.As(err, &jobErr):
		return "provider failure"
	case errors.As(err, &pollErr):
		return "poll timeout"
	case errors.As(err, &apiErr):
		return "provider API error"
	default:
		return "error"
	}
}

// canceled reports whether err is the run's own cancellation surfacing
// through a provider call or limiter wait.
func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
