// Package workers runs the background jobs of asyncd.
//
// A Worker runs until its context is cancelled. Workers starts a set of
// them together and waits for all of them to return.
package workers

import (
	"context"
	"time"
)

// Worker is a background job.
//
// Run blocks until ctx is cancelled or the job fails for good.
//
//	type MyWorker struct{}
//
//	func (w *MyWorker) Run(ctx context.Context) error {
//	    <-ctx.Done()
//	    return nil
//	}
type Worker interface {
	Run(ctx context.Context) error
}

// Sweeper drops state that has not been written for staleAfter.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, staleAfter time.Duration) (int64, error)
}
