package eth

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is the single retry/backoff policy for calls that leave the
// process. Pure computation never retries - if a pool query fails after
// MaxAttempts the caller marks that pool dead for the tick and moves on.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do runs op up to MaxAttempts times with exponential backoff plus jitter.
// Returns the last error if every attempt fails, or ctx.Err() if cancelled
// while waiting between attempts.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		// jitter up to half the current delay so parallel callers spread out
		sleep := delay + time.Duration(rand.Int63n(int64(delay)/2+1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}
