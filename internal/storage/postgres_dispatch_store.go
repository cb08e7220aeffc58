package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-matching/internal/models"
)

// PostgresDispatchStore persists dispatches as one row per attempt, with
// the candidate list in a JSONB column and a version column used for
// every conditional write (UPDATE ... WHERE version = $expected).
type PostgresDispatchStore struct {
	db *sql.DB
}

func NewPostgresDispatchStore(dsn string) (*PostgresDispatchStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresDispatchStore{db: db}, nil
}

func (p *PostgresDispatchStore) Create(ctx context.Context, d *models.Dispatch) (string, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	candidatesJSON, err := json.Marshal(d.Candidates)
	if err != nil {
		return "", fmt.Errorf("%w: marshal candidates: %v", models.ErrInternal, err)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO dispatches(id, rider_id, pickup_lat, pickup_lon, dest_lat, dest_lon, vehicle_type,
			candidates, cursor, outcome, ride_id, ack_seconds, fare_minor, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1,$14)`,
		d.ID, d.RiderID, d.Pickup.Lat, d.Pickup.Lon, d.Destination.Lat, d.Destination.Lon, string(d.VehicleType),
		candidatesJSON, d.Cursor, string(d.Outcome), nullString(d.RideID), d.AckSeconds, d.FareMinor, d.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("%w: insert dispatch: %v", models.ErrInternal, err)
	}
	d.Version = 1
	return d.ID, nil
}

func (p *PostgresDispatchStore) Read(ctx context.Context, id string) (*models.Dispatch, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, rider_id, pickup_lat, pickup_lon, dest_lat, dest_lon, vehicle_type,
			candidates, cursor, outcome, COALESCE(ride_id, ''), ack_seconds, fare_minor, version, created_at
		FROM dispatches WHERE id = $1`, id)

	var d models.Dispatch
	var candidatesJSON []byte
	var vehicleType, outcome string
	err := row.Scan(&d.ID, &d.RiderID, &d.Pickup.Lat, &d.Pickup.Lon, &d.Destination.Lat, &d.Destination.Lon,
		&vehicleType, &candidatesJSON, &d.Cursor, &outcome, &d.RideID, &d.AckSeconds, &d.FareMinor, &d.Version, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: dispatch %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read dispatch: %v", models.ErrInternal, err)
	}
	d.VehicleType = models.VehicleType(vehicleType)
	d.Outcome = models.Outcome(outcome)
	if err := json.Unmarshal(candidatesJSON, &d.Candidates); err != nil {
		return nil, fmt.Errorf("%w: unmarshal candidates: %v", models.ErrInternal, err)
	}
	return &d, nil
}

func (p *PostgresDispatchStore) SetCandidateStatus(ctx context.Context, id string, index int, expected, next models.CandidateStatus) error {
	d, err := p.Read(ctx, id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(d.Candidates) {
		return fmt.Errorf("%w: candidate index %d", models.ErrBadInput, index)
	}
	if d.Candidates[index].Status != expected {
		return fmt.Errorf("%w: candidate %d is %s, expected %s", models.ErrConflict, index, d.Candidates[index].Status, expected)
	}
	d.Candidates[index].Status = next
	candidatesJSON, err := json.Marshal(d.Candidates)
	if err != nil {
		return fmt.Errorf("%w: marshal candidates: %v", models.ErrInternal, err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE dispatches SET candidates = $1, version = version + 1
		WHERE id = $2 AND version = $3`, candidatesJSON, id, d.Version)
	if err != nil {
		return fmt.Errorf("%w: update candidate status: %v", models.ErrInternal, err)
	}
	return checkRowsAffected(res, id)
}

func (p *PostgresDispatchStore) AdvanceCursor(ctx context.Context, id string, from, to int) error {
	d, err := p.Read(ctx, id)
	if err != nil {
		return err
	}
	if d.Cursor != from {
		return fmt.Errorf("%w: cursor is %d, expected %d", models.ErrConflict, d.Cursor, from)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE dispatches SET cursor = $1, version = version + 1
		WHERE id = $2 AND version = $3`, to, id, d.Version)
	if err != nil {
		return fmt.Errorf("%w: advance cursor: %v", models.ErrInternal, err)
	}
	return checkRowsAffected(res, id)
}

func (p *PostgresDispatchStore) CommitAssignment(ctx context.Context, id string, index int, rideID string) error {
	d, err := p.Read(ctx, id)
	if err != nil {
		return err
	}
	if d.Outcome != models.OutcomePending {
		return fmt.Errorf("%w: outcome already %s", models.ErrConflict, d.Outcome)
	}
	if index < 0 || index >= len(d.Candidates) || d.Candidates[index].Status != models.CandidateAcked {
		return fmt.Errorf("%w: candidate %d not acked", models.ErrConflict, index)
	}
	d.Candidates[index].Status = models.CandidateAssigned
	candidatesJSON, err := json.Marshal(d.Candidates)
	if err != nil {
		return fmt.Errorf("%w: marshal candidates: %v", models.ErrInternal, err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE dispatches SET candidates = $1, outcome = 'assigned', ride_id = $2, version = version + 1
		WHERE id = $3 AND version = $4`, candidatesJSON, rideID, id, d.Version)
	if err != nil {
		return fmt.Errorf("%w: commit assignment: %v", models.ErrInternal, err)
	}
	return checkRowsAffected(res, id)
}

func (p *PostgresDispatchStore) Cancel(ctx context.Context, id string) error {
	d, err := p.Read(ctx, id)
	if err != nil {
		return err
	}
	if d.Outcome != models.OutcomePending {
		return fmt.Errorf("%w: dispatch %s", models.ErrAlreadyTerminal, id)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE dispatches SET outcome = 'cancelled', version = version + 1
		WHERE id = $1 AND version = $2`, id, d.Version)
	if err != nil {
		return fmt.Errorf("%w: cancel dispatch: %v", models.ErrInternal, err)
	}
	return checkRowsAffected(res, id)
}

func (p *PostgresDispatchStore) Exhaust(ctx context.Context, id string) error {
	d, err := p.Read(ctx, id)
	if err != nil {
		return err
	}
	if d.Outcome != models.OutcomePending {
		return fmt.Errorf("%w: dispatch %s", models.ErrAlreadyTerminal, id)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE dispatches SET outcome = 'exhausted', version = version + 1
		WHERE id = $1 AND version = $2`, id, d.Version)
	if err != nil {
		return fmt.Errorf("%w: exhaust dispatch: %v", models.ErrInternal, err)
	}
	return checkRowsAffected(res, id)
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", models.ErrInternal, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: dispatch %s changed concurrently", models.ErrConflict, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
