package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-matching/internal/eta"
	"github.com/example/ride-matching/internal/models"
)

type fakeGeo struct{ drivers []models.Driver }

func (f *fakeGeo) Nearby(_ context.Context, _ models.Coord, _ float64, _ models.VehicleType, limit int) ([]models.Driver, error) {
	if limit < len(f.drivers) {
		return f.drivers[:limit], nil
	}
	return f.drivers, nil
}

func (f *fakeGeo) Upsert(_ context.Context, d models.Driver) error {
	f.drivers = append(f.drivers, d)
	return nil
}

func TestBuildOrdersByAscendingETA(t *testing.T) {
	g := &fakeGeo{drivers: []models.Driver{
		{ID: "far", Loc: models.Coord{Lat: 0, Lon: 0.2}, Availability: models.Active},
		{ID: "near", Loc: models.Coord{Lat: 0, Lon: 0.01}, Availability: models.Active},
	}}
	b := &Builder{Geo: g, Oracle: &eta.Oracle{DefaultSpeedMps: 10}}
	req := models.RideRequest{Pickup: models.Coord{Lat: 0, Lon: 0}, Limit: 2, RadiusKm: 50}

	candidates, best, err := b.Build(context.Background(), req, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].DriverID != "near" {
		t.Fatalf("expected near first, got %s", candidates[0].DriverID)
	}
	if best != 0 {
		t.Fatalf("expected best index 0, got %d", best)
	}
}

func TestBuildNoDriversReturnsEmpty(t *testing.T) {
	g := &fakeGeo{}
	b := &Builder{Geo: g, Oracle: &eta.Oracle{DefaultSpeedMps: 10}}
	req := models.RideRequest{Pickup: models.Coord{Lat: 0, Lon: 0}, Limit: 2, RadiusKm: 50}

	candidates, best, err := b.Build(context.Background(), req, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if candidates != nil || best != -1 {
		t.Fatalf("expected no candidates, got %v best=%d", candidates, best)
	}
}

func TestBuildUnreachablePushedLast(t *testing.T) {
	bound := 5.0
	g := &fakeGeo{drivers: []models.Driver{
		{ID: "close", Loc: models.Coord{Lat: 0, Lon: 0.0001}, Availability: models.Active},
		{ID: "faraway", Loc: models.Coord{Lat: 0, Lon: 10}, Availability: models.Active},
	}}
	b := &Builder{Geo: g, Oracle: &eta.Oracle{DefaultSpeedMps: 10}}
	req := models.RideRequest{Pickup: models.Coord{Lat: 0, Lon: 0}, Limit: 2, RadiusKm: 2_000_000, BoundSeconds: &bound}

	candidates, best, err := b.Build(context.Background(), req, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if candidates[len(candidates)-1].DriverID != "faraway" {
		t.Fatalf("expected faraway last, got %+v", candidates)
	}
	if best == -1 {
		t.Fatalf("expected a reachable best candidate")
	}
}

func TestBuildFallsBackToUnboundedWhenBoundExcludesEveryCandidate(t *testing.T) {
	bound := 1.0 // far tighter than either candidate's true ETA
	g := &fakeGeo{drivers: []models.Driver{
		{ID: "far", Loc: models.Coord{Lat: 0, Lon: 0.2}, Availability: models.Active},
		{ID: "near", Loc: models.Coord{Lat: 0, Lon: 0.01}, Availability: models.Active},
	}}
	b := &Builder{Geo: g, Oracle: &eta.Oracle{DefaultSpeedMps: 10}}
	req := models.RideRequest{Pickup: models.Coord{Lat: 0, Lon: 0}, Limit: 2, RadiusKm: 50, BoundSeconds: &bound}

	candidates, best, err := b.Build(context.Background(), req, time.Now())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if best == -1 {
		t.Fatalf("expected the unbounded ordering to still produce a best candidate")
	}
	if candidates[best].DriverID != "near" {
		t.Fatalf("expected near to win the unbounded argmin, got %s", candidates[best].DriverID)
	}
	if candidates[best].ETASeconds == nil {
		t.Fatalf("expected the fallback candidate to carry its true (over-bound) ETA, got nil")
	}
}
