package geo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-matching/internal/models"
)

const (
	minRadiusMeters = 1.0
	maxRadiusMeters = 50_000.0
	maxLimit        = 50
)

// Geo is the gateway the candidate builder and handlers use to find
// drivers. Nearby enforces the shared validation rules so every backend
// (in-memory or Redis) rejects malformed input the same way.
type Geo interface {
	Nearby(ctx context.Context, origin models.Coord, radiusMeters float64, vehicleType models.VehicleType, limit int) ([]models.Driver, error)
	Upsert(ctx context.Context, d models.Driver) error
}

// ValidateNearbyArgs applies the bounds shared by every backend.
func ValidateNearbyArgs(origin models.Coord, radiusMeters float64, limit int) error {
	if origin.Lat < -90 || origin.Lat > 90 || origin.Lon < -180 || origin.Lon > 180 {
		return fmt.Errorf("%w: coordinates out of range", models.ErrBadInput)
	}
	if radiusMeters < minRadiusMeters || radiusMeters > maxRadiusMeters {
		return fmt.Errorf("%w: radius must be between %.0fm and %.0fm", models.ErrBadInput, minRadiusMeters, maxRadiusMeters)
	}
	if limit < 1 || limit > maxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", models.ErrBadInput, maxLimit)
	}
	return nil
}

// Index is a process-local geo index, used for local runs and tests.
// Lookups are a naive O(n) scan; production traffic should use RedisGeo.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) Nearby(_ context.Context, origin models.Coord, radiusMeters float64, vehicleType models.VehicleType, limit int) ([]models.Driver, error) {
	if err := ValidateNearbyArgs(origin, radiusMeters, limit); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	type pair struct {
		d    models.Driver
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if d.Availability != models.Active {
			continue
		}
		if vehicleType != models.VehicleAny && d.VehicleType != vehicleType {
			continue
		}
		dist := Haversine(origin.Lat, origin.Lon, d.Loc.Lat, d.Loc.Lon)
		if dist > radiusMeters {
			continue
		}
		arr = append(arr, pair{d, dist})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })

	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	out := make([]models.Driver, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].d)
	}
	return out, nil
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
