package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-matching/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestIndexNearbyFiltersByVehicleTypeAndAvailability(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_ = idx.Upsert(ctx, models.Driver{ID: "car1", Loc: models.Coord{Lat: 0, Lon: 0}, VehicleType: models.VehicleCar, Availability: models.Active})
	_ = idx.Upsert(ctx, models.Driver{ID: "moto1", Loc: models.Coord{Lat: 0, Lon: 0}, VehicleType: models.VehicleMotorcycle, Availability: models.Active})
	_ = idx.Upsert(ctx, models.Driver{ID: "car2-offline", Loc: models.Coord{Lat: 0, Lon: 0}, VehicleType: models.VehicleCar, Availability: models.Inactive})

	out, err := idx.Nearby(ctx, models.Coord{Lat: 0, Lon: 0}, 1000, models.VehicleCar, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].ID != "car1" {
		t.Fatalf("expected only car1, got %+v", out)
	}
}

func TestIndexNearbyRejectsBadInput(t *testing.T) {
	idx := NewIndex()
	_, err := idx.Nearby(context.Background(), models.Coord{Lat: 200, Lon: 0}, 1000, models.VehicleAny, 10)
	if !errors.Is(err, models.ErrBadInput) {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
	_, err = idx.Nearby(context.Background(), models.Coord{Lat: 0, Lon: 0}, 1000, models.VehicleAny, 0)
	if !errors.Is(err, models.ErrBadInput) {
		t.Fatalf("expected ErrBadInput for limit, got %v", err)
	}
	_, err = idx.Nearby(context.Background(), models.Coord{Lat: 0, Lon: 0}, 100_000, models.VehicleAny, 10)
	if !errors.Is(err, models.ErrBadInput) {
		t.Fatalf("expected ErrBadInput for radius, got %v", err)
	}
}

func TestIndexNearbyCapsAtLimit(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = idx.Upsert(ctx, models.Driver{ID: string(rune('a' + i)), Loc: models.Coord{Lat: 0, Lon: 0}, VehicleType: models.VehicleCar, Availability: models.Active})
	}
	out, err := idx.Nearby(ctx, models.Coord{Lat: 0, Lon: 0}, 1000, models.VehicleAny, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
}
