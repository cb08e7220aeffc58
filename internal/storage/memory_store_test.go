package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-matching/internal/models"
)

func newTestDispatch() *models.Dispatch {
	return &models.Dispatch{
		RiderID: "rider-1",
		Candidates: []models.Candidate{
			{DriverID: "d1", Status: models.CandidatePending},
			{DriverID: "d2", Status: models.CandidatePending},
		},
		Outcome: models.OutcomePending,
	}
}

func TestDispatchStoreConditionalStatusWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDispatchStore()
	id, err := s.Create(ctx, newTestDispatch())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetCandidateStatus(ctx, id, 0, models.CandidatePending, models.CandidateOffered); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	// Second attempt with a stale expected status must conflict.
	err = s.SetCandidateStatus(ctx, id, 0, models.CandidatePending, models.CandidateOffered)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDispatchStoreCommitAssignmentRequiresAcked(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDispatchStore()
	id, _ := s.Create(ctx, newTestDispatch())

	err := s.CommitAssignment(ctx, id, 0, "ride-1")
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict committing a non-acked candidate, got %v", err)
	}

	_ = s.SetCandidateStatus(ctx, id, 0, models.CandidatePending, models.CandidateOffered)
	_ = s.SetCandidateStatus(ctx, id, 0, models.CandidateOffered, models.CandidateAcked)
	if err := s.CommitAssignment(ctx, id, 0, "ride-1"); err != nil {
		t.Fatalf("expected commit to succeed, got %v", err)
	}

	d, _ := s.Read(ctx, id)
	if d.Outcome != models.OutcomeAssigned || d.RideID != "ride-1" {
		t.Fatalf("unexpected dispatch state: %+v", d)
	}
	if d.Candidates[0].Status != models.CandidateAssigned {
		t.Fatalf("expected candidate assigned, got %s", d.Candidates[0].Status)
	}
}

func TestDispatchStoreCancelIsTerminalOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDispatchStore()
	id, _ := s.Create(ctx, newTestDispatch())

	if err := s.Cancel(ctx, id); err != nil {
		t.Fatalf("expected cancel to succeed, got %v", err)
	}
	err := s.Cancel(ctx, id)
	if !errors.Is(err, models.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestDispatchStoreExhaustIsTerminalOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDispatchStore()
	id, _ := s.Create(ctx, newTestDispatch())

	if err := s.Exhaust(ctx, id); err != nil {
		t.Fatalf("expected exhaust to succeed, got %v", err)
	}
	d, _ := s.Read(ctx, id)
	if d.Outcome != models.OutcomeExhausted {
		t.Fatalf("expected exhausted outcome, got %s", d.Outcome)
	}
	if err := s.Cancel(ctx, id); !errors.Is(err, models.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal cancelling an exhausted dispatch, got %v", err)
	}
}

func TestRideStoreTransitionForwardOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRideStore()
	r, err := s.Create(ctx, RideInput{RiderID: "r1", DriverID: "d1", Fare: 500, OTP: "123456"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Transition(ctx, r.ID, models.RideAccepted, models.RideOngoing); err != nil {
		t.Fatalf("expected transition to succeed, got %v", err)
	}
	err = s.Transition(ctx, r.ID, models.RideAccepted, models.RideOngoing)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict replaying a stale transition, got %v", err)
	}

	got, err := s.Read(ctx, r.ID, true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.OTP != "123456" {
		t.Fatalf("expected otp to be included, got %q", got.OTP)
	}
	hidden, _ := s.Read(ctx, r.ID, false)
	if hidden.OTP != "" {
		t.Fatalf("expected otp hidden by default, got %q", hidden.OTP)
	}
}

func TestRideStoreCreateIsIdempotentPerDispatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRideStore()

	first, err := s.Create(ctx, RideInput{DispatchID: "dispatch-1", RiderID: "r1", DriverID: "d1", Fare: 500, OTP: "111111"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// simulate redelivery of the same offer round re-running assign.
	second, err := s.Create(ctx, RideInput{DispatchID: "dispatch-1", RiderID: "r1", DriverID: "d1", Fare: 500, OTP: "222222"})
	if err != nil {
		t.Fatalf("create (replay): %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected replayed create to return the same ride, got %s vs %s", second.ID, first.ID)
	}
	if second.OTP != first.OTP {
		t.Fatalf("expected replayed create not to mint a second ride's fields, got otp %q vs %q", second.OTP, first.OTP)
	}

	other, err := s.Create(ctx, RideInput{DispatchID: "dispatch-2", RiderID: "r2", DriverID: "d2", Fare: 500, OTP: "333333"})
	if err != nil {
		t.Fatalf("create (other dispatch): %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("expected a distinct dispatch to get a distinct ride")
	}
}
