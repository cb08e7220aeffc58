package storage

import (
	"context"

	"github.com/example/ride-matching/internal/models"
)

// DispatchStore is the durable record of dispatch attempts (C3). Every
// write is conditional on the caller's expected prior state so the
// offer scheduler is the sole writer even under worker redelivery.
type DispatchStore interface {
	Create(ctx context.Context, d *models.Dispatch) (string, error)
	Read(ctx context.Context, id string) (*models.Dispatch, error)
	SetCandidateStatus(ctx context.Context, id string, index int, expected, next models.CandidateStatus) error
	AdvanceCursor(ctx context.Context, id string, from, to int) error
	CommitAssignment(ctx context.Context, id string, index int, rideID string) error
	Cancel(ctx context.Context, id string) error
	// Exhaust marks a dispatch outcome=exhausted once its candidate list
	// is walked to the end with no assignment (or created empty).
	Exhaust(ctx context.Context, id string) error
}
