package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"conductor/pkg/logging"
)

// DefaultMaxAttempts bounds provider retries per conversation iteration.
const DefaultMaxAttempts = 4

// retryCaller wraps a Caller with bounded exponential backoff. Only failures
// classified TransientError are retried. A successfully received response is
// never resubmitted; retry applies to the request, not the turn.
type retryCaller struct {
	inner           Caller
	maxAttempts     uint
	initialInterval time.Duration
}

// WithRetry decorates a caller with a retry policy. maxAttempts counts total
// tries including the first; zero means DefaultMaxAttempts.
func WithRetry(inner Caller, maxAttempts uint, initialInterval time.Duration) Caller {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialInterval <= 0 {
		initialInterval = 500 * time.Millisecond
	}
	return &retryCaller{
		inner:           inner,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
	}
}

func (r *retryCaller) Name() string { return r.inner.Name() }

func (r *retryCaller) Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Turn, error) {
	attempt := 0
	operation := func() (*Turn, error) {
		attempt++
		turn, err := r.inner.Call(ctx, messages, tools)
		if err != nil {
			if IsTransient(err) {
				logging.Warn("LLM", "Attempt %d against %s failed, will retry: %v", attempt, r.inner.Name(), err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return turn, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxAttempts),
	)
}
