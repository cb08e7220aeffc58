// Package scheduler implements the offer scheduler (C5), the state
// machine that walks a Dispatch's candidate list, emitting offers and
// waiting for acknowledgement until one candidate accepts or the list
// is exhausted.
package scheduler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/example/ride-matching/internal/dispatch"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/observability"
	"github.com/example/ride-matching/internal/payments"
	"github.com/example/ride-matching/internal/queue"
	"github.com/example/ride-matching/internal/registry"
	"github.com/example/ride-matching/internal/storage"
)

const pollInterval = 1 * time.Second

// Scheduler runs one offer round per dispatch id pulled from the task
// queue. It is the single writer of DispatchStore transitions for a
// given dispatch, though the store's conditional writes remain the
// authoritative guard against a duplicate-delivery race.
type Scheduler struct {
	Dispatches storage.DispatchStore
	Rides      storage.RideStore
	Queue      queue.TaskQueue
	Bus        dispatch.Bus
	Registry   registry.Client
	Payments   payments.FareAuthorizer
	Logger     *slog.Logger

	// DefaultFareMinor freezes the Ride fare at assignment when the
	// inbound request carried no explicit fare quote.
	DefaultFareMinor int64
}

// Run processes a single dispatch id through to a terminal outcome (or
// until ctx is cancelled). It is idempotent: calling it again on an
// already-terminal dispatch is a no-op, so task redelivery is safe.
func (s *Scheduler) Run(ctx context.Context, dispatchID string) error {
	start := time.Now()
	defer func() { observability.DispatchRoundLatency.Observe(time.Since(start).Seconds()) }()

	for {
		d, err := s.Dispatches.Read(ctx, dispatchID)
		if err != nil {
			return fmt.Errorf("read dispatch %s: %w", dispatchID, err)
		}
		if d.Outcome != models.OutcomePending {
			return nil
		}
		if d.Cursor >= len(d.Candidates) {
			return s.exhaust(ctx, d)
		}

		done, err := s.offerOne(ctx, d, d.Cursor)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// loop: re-read to pick up the advanced cursor or a concurrent cancel.
	}
}

// offerOne drives one candidate through offer -> terminal status. It
// returns done=true once the dispatch itself reaches a terminal outcome
// (assigned, cancelled, or an unrecoverable error observed mid-round).
func (s *Scheduler) offerOne(ctx context.Context, d *models.Dispatch, i int) (bool, error) {
	c := d.Candidates[i]

	if c.Status == models.CandidatePending {
		s.emit(ctx, c.PushAddress, models.EventRideOffer, models.OfferEvent{
			DispatchID: d.ID,
			DriverID:   c.DriverID,
			Pickup:     d.Pickup,
			Dest:       d.Destination,
			ETASeconds: etaOrZero(c.ETASeconds),
		}, d.ID)
		observability.OffersEmittedTotal.Inc()

		if err := s.Dispatches.SetCandidateStatus(ctx, d.ID, i, models.CandidatePending, models.CandidateOffered); err != nil {
			if !errors.Is(err, models.ErrConflict) {
				return false, fmt.Errorf("offer candidate %d: %w", i, err)
			}
			// lost the race to a late ack/reject; re-read and fall through below.
		}
	}

	status, err := s.awaitTerminal(ctx, d.ID, i, ackWindow(d.AckSeconds))
	if err != nil {
		return false, err
	}

	switch status {
	case models.CandidateAcked:
		observability.OffersAckedTotal.Inc()
		return true, s.assign(ctx, d, i)
	case models.CandidateOffered:
		// ackSeconds elapsed with no ack: write timedOut ourselves.
		if err := s.Dispatches.SetCandidateStatus(ctx, d.ID, i, models.CandidateOffered, models.CandidateTimedOut); err != nil && !errors.Is(err, models.ErrConflict) {
			return false, fmt.Errorf("mark timed out %d: %w", i, err)
		}
		observability.OffersTimedOutTotal.Inc()
		return false, s.advance(ctx, d.ID, i)
	case models.CandidateRejected, models.CandidateTimedOut:
		return false, s.advance(ctx, d.ID, i)
	default:
		// assigned-elsewhere or a non-pending outcome: nothing left to do here.
		return true, nil
	}
}

// awaitTerminal blocks until candidates[i].status leaves "offered", the
// dispatch outcome goes non-pending, ackSeconds elapses, or ctx is
// cancelled. A non-pending outcome is reported as an empty status. It
// prefers the queue's Pub/Sub wakeup and falls back to 1Hz polling if
// the subscribe fails.
func (s *Scheduler) awaitTerminal(ctx context.Context, dispatchID string, index int, ackWindow time.Duration) (models.CandidateStatus, error) {
	deadline := time.NewTimer(ackWindow)
	defer deadline.Stop()

	wake, cancel, err := s.Queue.Subscribe(ctx, dispatchID)
	if err != nil {
		s.log().Warn("wakeup subscribe failed, falling back to polling", "dispatch_id", dispatchID, "error", err)
		wake = nil
	} else {
		defer cancel()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	check := func() (models.CandidateStatus, bool, error) {
		d, err := s.Dispatches.Read(ctx, dispatchID)
		if err != nil {
			return "", false, err
		}
		if d.Outcome != models.OutcomePending {
			return "", true, nil
		}
		if st := d.Candidates[index].Status; st != models.CandidateOffered {
			return st, true, nil
		}
		return models.CandidateOffered, false, nil
	}

	for {
		if st, stop, err := check(); err != nil {
			return "", err
		} else if stop {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return models.CandidateOffered, nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (s *Scheduler) assign(ctx context.Context, d *models.Dispatch, i int) error {
	c := d.Candidates[i]
	fare := d.FareMinor
	if fare <= 0 {
		fare = s.DefaultFareMinor
	}

	ride, err := s.Rides.Create(ctx, storage.RideInput{
		DispatchID:  d.ID,
		RiderID:     d.RiderID,
		DriverID:    c.DriverID,
		Pickup:      d.Pickup,
		Destination: d.Destination,
		Fare:        fare,
		OTP:         generateOTP(),
	})
	if err != nil {
		return fmt.Errorf("create ride: %w", err)
	}

	// ride.PaymentHoldID is already set when Rides.Create returned a ride
	// from an earlier, redelivered attempt at this same dispatch: skip the
	// hold so a crash between Create and CommitAssignment never produces a
	// second Stripe authorization.
	holdID := ride.PaymentHoldID
	if s.Payments != nil && ride.PaymentHoldID == "" {
		if h, herr := s.Payments.Hold(ctx, fare, "usd", d.RiderID); herr == nil && h != "" {
			holdID = h
			if setter, ok := s.Rides.(storage.PaymentHoldSetter); ok {
				if err := setter.SetPaymentHold(ctx, ride.ID, holdID); err != nil {
					s.log().Warn("record payment hold failed", "ride_id", ride.ID, "error", err)
				}
			}
		} else if herr != nil {
			s.log().Warn("fare authorization hold failed", "ride_id", ride.ID, "error", herr)
		}
	}

	if err := s.Dispatches.CommitAssignment(ctx, d.ID, i, ride.ID); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// outcome raced to cancelled underneath us: compensate.
			_ = s.Rides.Transition(ctx, ride.ID, models.RideAccepted, models.RideCancelled)
			if s.Payments != nil && holdID != "" {
				if err := s.Payments.Cancel(ctx, holdID); err != nil {
					s.log().Warn("fare authorization cancel failed", "ride_id", ride.ID, "error", err)
				}
			}
			return nil
		}
		return fmt.Errorf("commit assignment: %w", err)
	}
	observability.DispatchesAssignedTotal.Inc()

	s.emit(ctx, c.PushAddress, models.EventRideOfferAccepted, models.OfferAcceptedEvent{DispatchID: d.ID, RideID: ride.ID}, d.ID)
	s.emit(ctx, d.RiderID, models.EventRideAssigned, models.RideAssignedEvent{RideID: ride.ID}, d.ID)

	if s.Registry != nil {
		if err := s.Registry.SetAvailability(ctx, c.DriverID, models.Assigned); err != nil {
			s.log().Warn("driver registry availability update failed", "driver_id", c.DriverID, "error", err)
		}
	}
	_ = s.Queue.Wakeup(ctx, d.ID)
	return nil
}

func (s *Scheduler) advance(ctx context.Context, dispatchID string, i int) error {
	if err := s.Dispatches.AdvanceCursor(ctx, dispatchID, i, i+1); err != nil && !errors.Is(err, models.ErrConflict) {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func (s *Scheduler) exhaust(ctx context.Context, d *models.Dispatch) error {
	if err := s.Dispatches.Exhaust(ctx, d.ID); err != nil && !errors.Is(err, models.ErrAlreadyTerminal) {
		return fmt.Errorf("exhaust dispatch: %w", err)
	}
	observability.DispatchesExhaustedTotal.Inc()
	s.emit(ctx, d.RiderID, models.EventDispatchFailed, models.DispatchFailedEvent{DispatchID: d.ID}, d.ID)
	return nil
}

func (s *Scheduler) emit(ctx context.Context, address, event string, payload any, correlationID string) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Emit(ctx, address, event, payload, correlationID); err != nil {
		s.log().Debug("event emission failed", "event", event, "address", address, "error", err)
	}
}

func (s *Scheduler) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func ackWindow(seconds int) time.Duration {
	if seconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func etaOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// generateOTP returns a 6-digit rider-verification code. It falls back
// to a fixed code only if the CSPRNG is unavailable, which never
// happens in practice on supported platforms.
func generateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}
