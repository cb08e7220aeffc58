package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-matching/internal/models"
)

// PostgresRideStore persists rides with a version column for the
// forward-only lifecycle transitions.
type PostgresRideStore struct {
	db *sql.DB
}

func NewPostgresRideStore(dsn string) (*PostgresRideStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRideStore{db: db}, nil
}

func (p *PostgresRideStore) Create(ctx context.Context, in RideInput) (*models.Ride, error) {
	now := time.Now()
	r := &models.Ride{
		ID:          newID(),
		DispatchID:  in.DispatchID,
		RiderID:     in.RiderID,
		DriverID:    in.DriverID,
		Pickup:      in.Pickup,
		Destination: in.Destination,
		Fare:        in.Fare,
		Status:      models.RideAccepted,
		OTP:         in.OTP,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO rides(id, dispatch_id, rider_id, driver_id, pickup_lat, pickup_lon, dest_lat, dest_lon,
			fare, status, otp, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$13)
		ON CONFLICT (dispatch_id) WHERE dispatch_id IS NOT NULL DO NOTHING`,
		r.ID, nullableText(r.DispatchID), r.RiderID, r.DriverID, r.Pickup.Lat, r.Pickup.Lon, r.Destination.Lat, r.Destination.Lon,
		r.Fare, string(r.Status), r.OTP, now, now)
	if err != nil {
		return nil, fmt.Errorf("%w: insert ride: %v", models.ErrInternal, err)
	}
	if n, _ := res.RowsAffected(); n == 0 && r.DispatchID != "" {
		// a redelivered offer round already created this dispatch's ride.
		return p.readByDispatchID(ctx, r.DispatchID)
	}
	return r, nil
}

func (p *PostgresRideStore) readByDispatchID(ctx context.Context, dispatchID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, rider_id, driver_id, pickup_lat, pickup_lon, dest_lat, dest_lon, fare, status, otp,
			COALESCE(payment_hold_id, ''), version, created_at, updated_at
		FROM rides WHERE dispatch_id = $1`, dispatchID)

	var r models.Ride
	var status string
	err := row.Scan(&r.ID, &r.RiderID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.Fare, &status, &r.OTP, &r.PaymentHoldID, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ride for dispatch %s", models.ErrNotFound, dispatchID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read ride by dispatch: %v", models.ErrInternal, err)
	}
	r.DispatchID = dispatchID
	r.Status = models.RideStatus(status)
	return &r, nil
}

// nullableText turns an empty dedup key into SQL NULL so the dispatch_id
// unique index doesn't collide across rides created without one.
func nullableText(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (p *PostgresRideStore) Transition(ctx context.Context, id string, from, to models.RideStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET status = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND status = $4`, string(to), time.Now(), id, string(from))
	if err != nil {
		return fmt.Errorf("%w: transition ride: %v", models.ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", models.ErrInternal, err)
	}
	if n == 0 {
		if _, rerr := p.Read(ctx, id, false); rerr != nil {
			return rerr
		}
		return fmt.Errorf("%w: ride %s not in state %s", models.ErrConflict, id, from)
	}
	return nil
}

func (p *PostgresRideStore) Read(ctx context.Context, id string, includeOTP bool) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(dispatch_id, ''), rider_id, driver_id, pickup_lat, pickup_lon, dest_lat, dest_lon, fare, status, otp,
			COALESCE(payment_hold_id, ''), version, created_at, updated_at
		FROM rides WHERE id = $1`, id)

	var r models.Ride
	var status string
	err := row.Scan(&r.ID, &r.DispatchID, &r.RiderID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.Fare, &status, &r.OTP, &r.PaymentHoldID, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read ride: %v", models.ErrInternal, err)
	}
	r.Status = models.RideStatus(status)
	if !includeOTP {
		r.OTP = ""
	}
	return &r, nil
}

// SetPaymentHold records the best-effort Stripe PaymentIntent id created
// at assignment. Failure here is logged by the caller, never fatal.
func (p *PostgresRideStore) SetPaymentHold(ctx context.Context, id, holdID string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE rides SET payment_hold_id = $1 WHERE id = $2`, holdID, id)
	if err != nil {
		return fmt.Errorf("%w: set payment hold: %v", models.ErrInternal, err)
	}
	return nil
}
