package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-matching/internal/models"
)

func newID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// MemoryDispatchStore is a mutex-guarded in-memory DispatchStore, used
// for local runs and tests. It applies the same forward-only and
// optimistic-concurrency rules a Postgres-backed store would.
type MemoryDispatchStore struct {
	mu        sync.Mutex
	dispatches map[string]*models.Dispatch
}

func NewMemoryDispatchStore() *MemoryDispatchStore {
	return &MemoryDispatchStore{dispatches: make(map[string]*models.Dispatch)}
}

func (s *MemoryDispatchStore) Create(_ context.Context, d *models.Dispatch) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	d.Version = 1
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	cp := *d
	cp.Candidates = append([]models.Candidate(nil), d.Candidates...)
	s.dispatches[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryDispatchStore) Read(_ context.Context, id string) (*models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return nil, fmt.Errorf("%w: dispatch %s", models.ErrNotFound, id)
	}
	cp := *d
	cp.Candidates = append([]models.Candidate(nil), d.Candidates...)
	return &cp, nil
}

func (s *MemoryDispatchStore) SetCandidateStatus(_ context.Context, id string, index int, expected, next models.CandidateStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return fmt.Errorf("%w: dispatch %s", models.ErrNotFound, id)
	}
	if index < 0 || index >= len(d.Candidates) {
		return fmt.Errorf("%w: candidate index %d", models.ErrBadInput, index)
	}
	if d.Candidates[index].Status != expected {
		return fmt.Errorf("%w: candidate %d is %s, expected %s", models.ErrConflict, index, d.Candidates[index].Status, expected)
	}
	d.Candidates[index].Status = next
	d.Version++
	return nil
}

func (s *MemoryDispatchStore) AdvanceCursor(_ context.Context, id string, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return fmt.Errorf("%w: dispatch %s", models.ErrNotFound, id)
	}
	if d.Cursor != from {
		return fmt.Errorf("%w: cursor is %d, expected %d", models.ErrConflict, d.Cursor, from)
	}
	d.Cursor = to
	d.Version++
	return nil
}

func (s *MemoryDispatchStore) CommitAssignment(_ context.Context, id string, index int, rideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return fmt.Errorf("%w: dispatch %s", models.ErrNotFound, id)
	}
	if d.Outcome != models.OutcomePending {
		return fmt.Errorf("%w: outcome already %s", models.ErrConflict, d.Outcome)
	}
	if index < 0 || index >= len(d.Candidates) || d.Candidates[index].Status != models.CandidateAcked {
		return fmt.Errorf("%w: candidate %d not acked", models.ErrConflict, index)
	}
	d.Candidates[index].Status = models.CandidateAssigned
	d.Outcome = models.OutcomeAssigned
	d.RideID = rideID
	d.Version++
	return nil
}

func (s *MemoryDispatchStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return fmt.Errorf("%w: dispatch %s", models.ErrNotFound, id)
	}
	if d.Outcome != models.OutcomePending {
		return fmt.Errorf("%w: dispatch %s", models.ErrAlreadyTerminal, id)
	}
	d.Outcome = models.OutcomeCancelled
	d.Version++
	return nil
}

func (s *MemoryDispatchStore) Exhaust(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dispatches[id]
	if !ok {
		return fmt.Errorf("%w: dispatch %s", models.ErrNotFound, id)
	}
	if d.Outcome != models.OutcomePending {
		return fmt.Errorf("%w: dispatch %s", models.ErrAlreadyTerminal, id)
	}
	d.Outcome = models.OutcomeExhausted
	d.Version++
	return nil
}

// MemoryRideStore is a mutex-guarded in-memory RideStore.
type MemoryRideStore struct {
	mu         sync.Mutex
	rides      map[string]*models.Ride
	byDispatch map[string]string // dispatch id -> ride id, for idempotent Create
}

func NewMemoryRideStore() *MemoryRideStore {
	return &MemoryRideStore{rides: make(map[string]*models.Ride), byDispatch: make(map[string]string)}
}

func (s *MemoryRideStore) Create(_ context.Context, in RideInput) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.DispatchID != "" {
		if existingID, ok := s.byDispatch[in.DispatchID]; ok {
			cp := *s.rides[existingID]
			return &cp, nil
		}
	}
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
	s.rides[r.ID] = r
	if in.DispatchID != "" {
		s.byDispatch[in.DispatchID] = r.ID
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryRideStore) Transition(_ context.Context, id string, from, to models.RideStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	if r.Status != from {
		return fmt.Errorf("%w: ride %s is %s, expected %s", models.ErrConflict, id, r.Status, from)
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	r.Version++
	return nil
}

func (s *MemoryRideStore) Read(_ context.Context, id string, includeOTP bool) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	cp := *r
	if !includeOTP {
		cp.OTP = ""
	}
	return &cp, nil
}

// SetPaymentHold records the best-effort Stripe PaymentIntent id created
// at assignment, mirroring PostgresRideStore.SetPaymentHold.
func (s *MemoryRideStore) SetPaymentHold(_ context.Context, id, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	r.PaymentHoldID = holdID
	return nil
}
