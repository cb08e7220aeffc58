package storage

import (
	"context"

	"github.com/example/ride-matching/internal/models"
)

// RideInput is the set of fields fixed at Ride creation time.
type RideInput struct {
	DispatchID  string
	RiderID     string
	DriverID    string
	Pickup      models.Coord
	Destination models.Coord
	Fare        int64
	OTP         string
}

// RideStore is the durable ride entity (C4). Transition enforces the
// forward-only lifecycle edges; OTP is never returned unless includeOTP
// is set. Create is idempotent on DispatchID: a redelivered offer round
// that already produced a Ride gets that same Ride back rather than a
// second, orphaned one.
type RideStore interface {
	Create(ctx context.Context, in RideInput) (*models.Ride, error)
	Transition(ctx context.Context, id string, from, to models.RideStatus) error
	Read(ctx context.Context, id string, includeOTP bool) (*models.Ride, error)
}

// PaymentHoldSetter is an optional capability implemented by RideStore
// backends that can record a best-effort fare authorization hold id.
// The scheduler type-asserts for it rather than widening RideStore,
// since not every backend needs to carry it (e.g. a test double).
type PaymentHoldSetter interface {
	SetPaymentHold(ctx context.Context, rideID, holdID string) error
}
