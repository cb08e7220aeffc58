package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/storage"
)

// fakeQueue is a no-op TaskQueue: awaitTerminal falls back to polling,
// which is exactly what these tests exercise.
type fakeQueue struct{}

func (fakeQueue) Enqueue(context.Context, string) error { return nil }
func (fakeQueue) Dequeue(context.Context, time.Duration) (string, func() error, error) {
	return "", nil, nil
}
func (fakeQueue) Wakeup(context.Context, string) error { return nil }
func (fakeQueue) Subscribe(context.Context, string) (<-chan struct{}, func(), error) {
	return nil, func() {}, errors.New("no pubsub in tests")
}

type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBus) Emit(_ context.Context, _, event string, _ any, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func newDispatch(t *testing.T, store *storage.MemoryDispatchStore, candidates []models.Candidate, ackSeconds int) string {
	t.Helper()
	id, err := store.Create(context.Background(), &models.Dispatch{
		RiderID:    "rider-1",
		Candidates: candidates,
		Outcome:    models.OutcomePending,
		AckSeconds: ackSeconds,
	})
	if err != nil {
		t.Fatalf("create dispatch: %v", err)
	}
	return id
}

func TestRunAssignsOnAck(t *testing.T) {
	ds := storage.NewMemoryDispatchStore()
	rs := storage.NewMemoryRideStore()
	id := newDispatch(t, ds, []models.Candidate{{DriverID: "d1", Status: models.CandidatePending}}, 2)

	// the "driver" acks immediately after the offer is emitted, racing
	// the scheduler's own awaitTerminal poll loop.
	go func() {
		for {
			d, err := ds.Read(context.Background(), id)
			if err == nil && d.Candidates[0].Status == models.CandidateOffered {
				_ = ds.SetCandidateStatus(context.Background(), id, 0, models.CandidateOffered, models.CandidateAcked)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	bus := &fakeBus{}
	s := &Scheduler{Dispatches: ds, Rides: rs, Queue: fakeQueue{}, Bus: bus}
	if err := s.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}

	d, err := ds.Read(context.Background(), id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.Outcome != models.OutcomeAssigned {
		t.Fatalf("expected assigned, got %s", d.Outcome)
	}
	if d.RideID == "" {
		t.Fatal("expected a ride id to be recorded")
	}
}

func TestRunExhaustsWhenNoCandidateAcks(t *testing.T) {
	ds := storage.NewMemoryDispatchStore()
	rs := storage.NewMemoryRideStore()
	id := newDispatch(t, ds, []models.Candidate{
		{DriverID: "d1", Status: models.CandidatePending},
		{DriverID: "d2", Status: models.CandidatePending},
	}, 1)

	bus := &fakeBus{}
	s := &Scheduler{Dispatches: ds, Rides: rs, Queue: fakeQueue{}, Bus: bus}
	if err := s.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}

	d, err := ds.Read(context.Background(), id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.Outcome != models.OutcomeExhausted {
		t.Fatalf("expected exhausted outcome, got %s", d.Outcome)
	}
}

func TestRunRedeliveryAfterCrashDoesNotDuplicateRide(t *testing.T) {
	ds := storage.NewMemoryDispatchStore()
	rs := storage.NewMemoryRideStore()
	id := newDispatch(t, ds, []models.Candidate{{DriverID: "d1", Status: models.CandidatePending}}, 5)

	// simulate the offer having already been acked and a Ride already
	// created by a prior worker that crashed before CommitAssignment.
	_ = ds.SetCandidateStatus(context.Background(), id, 0, models.CandidatePending, models.CandidateOffered)
	_ = ds.SetCandidateStatus(context.Background(), id, 0, models.CandidateOffered, models.CandidateAcked)
	pre, err := rs.Create(context.Background(), storage.RideInput{DispatchID: id, RiderID: "rider-1", DriverID: "d1", Fare: 100, OTP: "123456"})
	if err != nil {
		t.Fatalf("pre-create ride: %v", err)
	}

	s := &Scheduler{Dispatches: ds, Rides: rs, Queue: fakeQueue{}, Bus: &fakeBus{}}
	if err := s.Run(context.Background(), id); err != nil {
		t.Fatalf("run (redelivery): %v", err)
	}

	d, err := ds.Read(context.Background(), id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.Outcome != models.OutcomeAssigned {
		t.Fatalf("expected assigned, got %s", d.Outcome)
	}
	if d.RideID != pre.ID {
		t.Fatalf("expected the pre-existing ride %s to be committed, got a new one %s", pre.ID, d.RideID)
	}
}

func TestRunNoopOnAlreadyTerminalDispatch(t *testing.T) {
	ds := storage.NewMemoryDispatchStore()
	rs := storage.NewMemoryRideStore()
	id := newDispatch(t, ds, []models.Candidate{{DriverID: "d1", Status: models.CandidatePending}}, 5)
	if err := ds.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	s := &Scheduler{Dispatches: ds, Rides: rs, Queue: fakeQueue{}, Bus: &fakeBus{}}
	if err := s.Run(context.Background(), id); err != nil {
		t.Fatalf("run on cancelled dispatch should be a no-op: %v", err)
	}
}
