// Package matcher builds the ordered candidate list a Dispatch starts
// from: nearby eligible drivers, each annotated with an ETA, sorted
// ascending with unreachable drivers pushed to the back.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/ride-matching/internal/eta"
	"github.com/example/ride-matching/internal/geo"
	"github.com/example/ride-matching/internal/models"
)

const (
	defaultRadiusMeters = 5000.0
	defaultLimit        = 10
)

// Builder combines the GeoIndex gateway and the ETA oracle into the
// ordered []models.Candidate a new Dispatch is seeded with.
type Builder struct {
	Geo   geo.Geo
	Oracle *eta.Oracle
}

// Build returns candidates ordered by ascending ETA (nil/unreachable
// last) plus the index of the best candidate, mirroring the Oracle's
// own argmin so the scheduler and the caller agree on "best".
func (b *Builder) Build(ctx context.Context, req models.RideRequest, at time.Time) ([]models.Candidate, int, error) {
	radius := req.RadiusKm * 1000
	if radius <= 0 {
		radius = defaultRadiusMeters
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	// an Unavailable index is retried with exponential backoff (base
	// 200ms, factor 2, up to 3 retries); any other error is returned at once.
	var drivers []models.Driver
	var err error
	delay := 200 * time.Millisecond
	for attempt := 0; ; attempt++ {
		drivers, err = b.Geo.Nearby(ctx, req.Pickup, radius, req.VehicleType, limit)
		if err == nil || !errors.Is(err, models.ErrUnavailable) || attempt == 3 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, -1, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if err != nil {
		return nil, -1, fmt.Errorf("nearby lookup: %w", err)
	}
	if len(drivers) == 0 {
		return nil, -1, nil
	}

	origins := make([]models.Coord, len(drivers))
	for i, d := range drivers {
		origins[i] = d.Loc
	}
	bounded, unbounded, err := b.Oracle.MultiETA(ctx, origins, req.Pickup, req.BoundSeconds, at)
	if err != nil {
		return nil, -1, fmt.Errorf("eta lookup: %w", err)
	}

	durations := bounded
	if req.BoundSeconds != nil && eta.Argmin(bounded) == -1 && eta.Argmin(unbounded) != -1 {
		// the bound excluded every candidate: re-rank by the unbounded
		// durations already computed in the same round instead of
		// leaving the dispatch with no usable cursor.
		durations = unbounded
	}

	type row struct {
		driver models.Driver
		eta    *float64
	}
	rows := make([]row, len(drivers))
	for i, d := range drivers {
		rows[i] = row{driver: d, eta: durations[i]}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].eta == nil {
			return false
		}
		if rows[j].eta == nil {
			return true
		}
		return *rows[i].eta < *rows[j].eta
	})

	candidates := make([]models.Candidate, len(rows))
	best := -1
	for i, r := range rows {
		candidates[i] = models.Candidate{
			DriverID:    r.driver.ID,
			PushAddress: r.driver.PushAddress,
			ETASeconds:  r.eta,
			Status:      models.CandidatePending,
		}
		if best == -1 && r.eta != nil {
			best = i
		}
	}
	return candidates, best, nil
}
