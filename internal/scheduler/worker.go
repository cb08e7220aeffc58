package scheduler

import (
	"context"
	"time"
)

const (
	dequeueTimeout  = 5 * time.Second
	errorBackoffMin = 1 * time.Second
	errorBackoffMax = 30 * time.Second
)

// Worker repeatedly dequeues a dispatch task and runs it to completion,
// mirroring the teacher consumer's outer read-backoff-retry loop: a
// dequeue error backs off exponentially instead of busy-looping, and
// any successful dequeue resets the backoff. A run error is logged and
// the task is acked like a finished one, with no backoff.
func (s *Scheduler) Worker(ctx context.Context) {
	backoff := errorBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		id, ack, err := s.Queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			s.log().Error("dequeue failed", "error", err)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		if id == "" {
			// timeout with no task; not an error, no backoff.
			continue
		}
		backoff = errorBackoffMin

		if err := s.Run(ctx, id); err != nil {
			s.log().Error("dispatch round failed", "dispatch_id", id, "error", err)
		}
		if ack != nil {
			if err := ack(); err != nil {
				s.log().Warn("ack failed", "dispatch_id", id, "error", err)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > errorBackoffMax {
		return errorBackoffMax
	}
	return d
}
