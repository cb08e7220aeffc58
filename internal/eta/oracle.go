package eta

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-matching/internal/models"
)

const (
	retryBase    = 200 * time.Millisecond
	retryFactor  = 2
	retryAttempts = 4 // the first call plus up to 3 retries
	maxConcurrentLookups = 8
)

// Oracle is the ETA oracle (C2): it turns a slice of candidate origins
// and one destination into a parallel slice of durations (nil where
// unreachable or bound-filtered) plus the best index.
type Oracle struct {
	Client     Client
	Calibrator Calibrator // optional
	Cache      *Cache     // optional
	// DefaultSpeedMps backstops EstimateSeconds when Client is nil or
	// every retry is exhausted; 0 uses the package default.
	DefaultSpeedMps float64
}

// MultiETA computes a travel-time from each origin to destination. It
// returns two parallel slices: bounded, where any duration greater than
// boundSeconds is replaced with nil (boundSeconds nil disables
// filtering), and unbounded, the raw durations with no filtering
// applied. Callers fall back to unbounded when the bound excludes every
// candidate, per the "re-query unbounded" rule for an all-filtered
// round. at supplies the hour/day-of-week calibration context.
func (o *Oracle) MultiETA(ctx context.Context, origins []models.Coord, destination models.Coord, boundSeconds *float64, at time.Time) (bounded, unbounded []*float64, err error) {
	durations := make([]*float64, len(origins))

	type result struct {
		idx int
		v   *float64
		err error
	}
	results := make(chan result, len(origins))
	sem := make(chan struct{}, maxConcurrentLookups)
	var wg sync.WaitGroup

	for i, origin := range origins {
		wg.Add(1)
		go func(i int, origin models.Coord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			v, err := o.estimateOne(ctx, origin, destination, at)
			results <- result{idx: i, v: v, err: err}
		}(i, origin)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		durations[r.idx] = r.v
	}
	if firstErr != nil && allNil(durations) {
		return nil, nil, firstErr
	}

	bounded = make([]*float64, len(durations))
	for i, d := range durations {
		if d == nil || boundSeconds == nil || *d <= *boundSeconds {
			bounded[i] = d
		}
	}

	return bounded, durations, nil
}

func (o *Oracle) estimateOne(ctx context.Context, origin, destination models.Coord, at time.Time) (*float64, error) {
	if o.Cache != nil {
		if v, ok := o.Cache.Get(origin, destination); ok {
			return &v, nil
		}
	}

	raw, err := o.rawWithRetry(ctx, origin, destination)
	if err != nil {
		return nil, err
	}

	calibrated := raw
	if o.Calibrator != nil {
		hour, dow := HourAndDow(at)
		if v, cerr := o.Calibrator.Calibrate(ctx, raw, hour, dow); cerr == nil {
			calibrated = v
		}
		// calibration failure: retain the raw value, never fatal.
	}

	if o.Cache != nil {
		o.Cache.Set(origin, destination, calibrated)
	}
	return &calibrated, nil
}

// rawWithRetry calls the routing client with capped exponential backoff;
// after retryAttempts failures it falls back to the naive haversine
// estimator rather than propagating ErrUnavailable, so a single flaky
// candidate never sinks the whole round.
func (o *Oracle) rawWithRetry(ctx context.Context, from, to models.Coord) (float64, error) {
	if o.Client == nil {
		return EstimateSeconds(from, to, o.DefaultSpeedMps), nil
	}
	delay := retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		v, err := o.Client.EstimateSeconds(ctx, from, to)
		if err == nil {
			return v, nil
		}
		if attempt == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= retryFactor
	}
	// Retries exhausted: fall back to the naive estimator rather than
	// failing the whole round over one flaky candidate.
	return EstimateSeconds(from, to, o.DefaultSpeedMps), nil
}

func allNil(vs []*float64) bool {
	for _, v := range vs {
		if v != nil {
			return false
		}
	}
	return true
}

// Argmin returns the index of the smallest non-nil value, or -1 if vs
// is empty or every entry is nil.
func Argmin(vs []*float64) int {
	best := -1
	var bestV float64
	for i, v := range vs {
		if v == nil {
			continue
		}
		if best == -1 || *v < bestV {
			best = i
			bestV = *v
		}
	}
	return best
}
