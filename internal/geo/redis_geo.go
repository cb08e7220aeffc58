package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/ride-matching/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisGeo implements Geo using Redis GEO commands, with driver metadata
// (vehicle type, availability, push address, rating) carried in a
// companion hash per driver.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}).Result(); err != nil {
		return fmt.Errorf("%w: geoadd: %v", models.ErrUnavailable, err)
	}
	err := r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"rating":       fmt.Sprintf("%f", d.Rating),
		"availability": string(d.Availability),
		"vehicle_type": string(d.VehicleType),
		"push_address": d.PushAddress,
		"updated":      time.Now().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: hset: %v", models.ErrUnavailable, err)
	}
	return nil
}

func (r *RedisGeo) Nearby(ctx context.Context, origin models.Coord, radiusMeters float64, vehicleType models.VehicleType, limit int) ([]models.Driver, error) {
	if err := ValidateNearbyArgs(origin, radiusMeters, limit); err != nil {
		return nil, err
	}
	res, err := r.client.GeoRadius(ctx, r.key, origin.Lon, origin.Lat, &redis.GeoRadiusQuery{
		Radius: radiusMeters, Unit: "m", WithCoord: true, WithDist: true, Count: limit * 4, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: georadius: %v", models.ErrUnavailable, err)
	}
	out := make([]models.Driver, 0, limit)
	for _, g := range res {
		if len(out) >= limit {
			break
		}
		d := models.Driver{ID: g.Name}
		d.Loc.Lat = g.Latitude
		d.Loc.Lon = g.Longitude
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if v, ok := m["rating"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				d.Rating = f
			}
		}
		d.Availability = models.Availability(m["availability"])
		d.VehicleType = models.VehicleType(m["vehicle_type"])
		d.PushAddress = m["push_address"]

		if d.Availability != models.Active {
			continue
		}
		if vehicleType != models.VehicleAny && d.VehicleType != vehicleType {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
