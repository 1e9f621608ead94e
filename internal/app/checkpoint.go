package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retrier runs durable writes with bounded exponential backoff.
type retrier struct {
	newBackOff func() backoff.BackOff
	retries    uint64
}

// CheckpointBackOff is the exponential policy used between checkpoint attempts.
func CheckpointBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

func defaultRetrier() retrier {
	return retrier{newBackOff: CheckpointBackOff, retries: 4}
}

// Do retries op until it succeeds, the retries run out or ctx is done.
func (r retrier) Do(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.retries), ctx)
	return backoff.Retry(op, b)
}
