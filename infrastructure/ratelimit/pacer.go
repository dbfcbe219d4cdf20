package ratelimit

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Pacer combines a leaky bucket with a concurrency cap for the wiki APIs.
// The bucket spaces requests out globally (burst 1, so the minimum gap
// between requests is 1/rps); the semaphore bounds in-flight requests so a
// slow endpoint cannot pile up connections on the shared IP.
type Pacer struct {
	bucket *rate.Limiter
	slots  *semaphore.Weighted
}

// NewPacer builds a pacer emitting rps requests per second with at most
// maxConcurrent in flight.
func NewPacer(rps float64, maxConcurrent int) *Pacer {
	return &Pacer{
		bucket: rate.NewLimiter(rate.Limit(rps), 1),
		slots:  semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Acquire blocks for a slot and a bucket token. The returned release
// function must be called when the request completes.
func (p *Pacer) Acquire(ctx context.Context) (func(), error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := p.bucket.Wait(ctx); err != nil {
		p.slots.Release(1)
		return nil, err
	}
	return func() { p.slots.Release(1) }, nil
}
