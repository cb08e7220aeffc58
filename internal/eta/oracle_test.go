package eta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-matching/internal/models"
)

type fakeClient struct {
	fail      int
	calls     int
	durations map[string]float64
}

func (f *fakeClient) EstimateSeconds(_ context.Context, from, to models.Coord) (float64, error) {
	f.calls++
	if f.calls <= f.fail {
		return 0, errors.New("boom")
	}
	return f.durations[fmtCoord(from)], nil
}

func TestMultiETABestIndexArgmin(t *testing.T) {
	o := &Oracle{Client: &fakeClient{durations: map[string]float64{
		fmtCoord(models.Coord{Lat: 1}): 240,
		fmtCoord(models.Coord{Lat: 2}): 120,
		fmtCoord(models.Coord{Lat: 3}): 360,
	}}}
	origins := []models.Coord{{Lat: 1}, {Lat: 2}, {Lat: 3}}
	bounded, _, err := o.MultiETA(context.Background(), origins, models.Coord{}, nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best := Argmin(bounded); best != 1 {
		t.Fatalf("expected bestIndex=1, got %d", best)
	}
	if bounded[1] == nil || *bounded[1] != 120 {
		t.Fatalf("expected 120 at index 1, got %+v", bounded)
	}
}

func TestMultiETABoundFiltersEntries(t *testing.T) {
	o := &Oracle{Client: &fakeClient{durations: map[string]float64{
		fmtCoord(models.Coord{Lat: 1}): 240,
		fmtCoord(models.Coord{Lat: 2}): 500,
	}}}
	origins := []models.Coord{{Lat: 1}, {Lat: 2}}
	bound := 300.0
	bounded, unbounded, err := o.MultiETA(context.Background(), origins, models.Coord{}, &bound, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bounded[1] != nil {
		t.Fatalf("expected index 1 bound-filtered to nil, got %v", *bounded[1])
	}
	if best := Argmin(bounded); best != 0 {
		t.Fatalf("expected bestIndex=0, got %d", best)
	}
	if unbounded[1] == nil || *unbounded[1] != 500 {
		t.Fatalf("expected unbounded to retain the filtered-out duration, got %+v", unbounded)
	}
}

func TestMultiETAAllBoundFilteredReturnsUnboundedForFallback(t *testing.T) {
	o := &Oracle{Client: &fakeClient{durations: map[string]float64{
		fmtCoord(models.Coord{Lat: 1}): 400,
		fmtCoord(models.Coord{Lat: 2}): 500,
	}}}
	origins := []models.Coord{{Lat: 1}, {Lat: 2}}
	bound := 300.0
	bounded, unbounded, err := o.MultiETA(context.Background(), origins, models.Coord{}, &bound, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Argmin(bounded) != -1 {
		t.Fatalf("expected every candidate bound-filtered, got %+v", bounded)
	}
	if best := Argmin(unbounded); best != 0 {
		t.Fatalf("expected unbounded argmin=0, got %d", best)
	}
}

func TestMultiETAAllUnreachableReturnsNegativeOne(t *testing.T) {
	o := &Oracle{Client: &fakeClient{durations: map[string]float64{
		fmtCoord(models.Coord{Lat: 1}): 400,
		fmtCoord(models.Coord{Lat: 2}): 500,
	}}}
	bound := 1.0
	origins := []models.Coord{{Lat: 1}, {Lat: 2}}
	bounded, _, err := o.MultiETA(context.Background(), origins, models.Coord{}, &bound, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best := Argmin(bounded); best != -1 {
		t.Fatalf("expected bestIndex=-1, got %d", best)
	}
	for _, d := range bounded {
		if d != nil {
			t.Fatalf("expected all nil, got %+v", bounded)
		}
	}
}

func TestMultiETARetriesThenFallsBack(t *testing.T) {
	fc := &fakeClient{fail: 4, durations: map[string]float64{}}
	o := &Oracle{Client: fc, DefaultSpeedMps: 10}
	origins := []models.Coord{{Lat: 0, Lon: 0}}
	dest := models.Coord{Lat: 0, Lon: 0.01}
	start := time.Now()
	bounded, _, err := o.MultiETA(context.Background(), origins, dest, nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best := Argmin(bounded); best != 0 || bounded[0] == nil {
		t.Fatalf("expected a fallback estimate, got %+v best=%d", bounded, best)
	}
	if time.Since(start) < retryBase {
		t.Fatalf("expected at least one backoff before falling back")
	}
}
