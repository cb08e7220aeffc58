package models

import "time"

// Coord is a latitude/longitude pair in decimal degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VehicleType is the normalized vehicle class used for candidate filtering.
type VehicleType string

const (
	VehicleAny        VehicleType = ""
	VehicleCar        VehicleType = "car"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleAuto       VehicleType = "auto"
)

// NormalizeVehicleType maps client-facing aliases onto the canonical set.
// Unknown, non-empty input is passed through unchanged so the caller can
// reject it as BadInput rather than silently coercing it.
func NormalizeVehicleType(raw string) VehicleType {
	switch raw {
	case "":
		return VehicleAny
	case "moto", string(VehicleMotorcycle):
		return VehicleMotorcycle
	case string(VehicleCar):
		return VehicleCar
	case string(VehicleAuto):
		return VehicleAuto
	default:
		return VehicleType(raw)
	}
}

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleAny, VehicleCar, VehicleMotorcycle, VehicleAuto:
		return true
	default:
		return false
	}
}

// Availability is the driver's dispatch eligibility state.
type Availability string

const (
	Active   Availability = "active"
	Inactive Availability = "inactive"
	Assigned Availability = "assigned"
)

// Driver is the read-only snapshot the engine consumes from the GeoIndex.
// The engine never mutates Loc; it does ask the driver registry to flip
// Availability to Assigned once a candidate wins a dispatch.
type Driver struct {
	ID           string       `json:"id"`
	Loc          Coord        `json:"loc"`
	VehicleType  VehicleType  `json:"vehicle_type"`
	Availability Availability `json:"availability"`
	PushAddress  string       `json:"push_address"`
	Rating       float64      `json:"rating"`
	Updated      time.Time    `json:"updated"`
}

// CandidateStatus is the forward-only per-candidate state within a Dispatch.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateOffered  CandidateStatus = "offered"
	CandidateAcked    CandidateStatus = "acked"
	CandidateRejected CandidateStatus = "rejected"
	CandidateTimedOut CandidateStatus = "timedOut"
	CandidateSkipped  CandidateStatus = "skipped"
	CandidateAssigned CandidateStatus = "assigned"
)

// IsTerminal reports whether the candidate can no longer be offered.
func (s CandidateStatus) IsTerminal() bool {
	switch s {
	case CandidateAcked, CandidateRejected, CandidateTimedOut, CandidateSkipped, CandidateAssigned:
		return true
	default:
		return false
	}
}

// Candidate is one driver under consideration within a single Dispatch.
type Candidate struct {
	DriverID    string          `json:"driver_id"`
	PushAddress string          `json:"push_address"`
	ETASeconds  *float64        `json:"eta_seconds,omitempty"`
	Status      CandidateStatus `json:"status"`
}

// Outcome is the terminal-or-pending state of the whole Dispatch.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeAssigned  Outcome = "assigned"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeExhausted Outcome = "exhausted"
)

func (o Outcome) IsTerminal() bool { return o != OutcomePending }

// Dispatch is the durable record of one open ride-assignment attempt.
type Dispatch struct {
	ID          string
	RiderID     string
	Pickup      Coord
	Destination Coord
	VehicleType VehicleType
	Candidates  []Candidate
	Cursor      int
	Outcome     Outcome
	RideID      string
	AckSeconds  int
	// FareMinor is the fare set at StartDispatch time (the configured
	// default fare; no surge factor is applied); the scheduler freezes it
	// onto the Ride exactly once, at assignment, rather than recomputing it.
	FareMinor int64
	// Version is the optimistic-concurrency token; every store write that
	// mutates the record bumps it and conditions on the caller's expected
	// value.
	Version   int64
	CreatedAt time.Time
}

// RideStatus is the forward-only lifecycle state of a materialized Ride.
type RideStatus string

const (
	RideAccepted  RideStatus = "accepted"
	RideOngoing   RideStatus = "ongoing"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

// Ride is the entity created exactly once, at assignment, for a Dispatch
// that found a willing driver.
type Ride struct {
	ID            string
	DispatchID    string // dedup key: at most one Ride is ever created per dispatch
	RiderID       string
	DriverID      string
	Pickup        Coord
	Destination   Coord
	Fare          int64 // minor currency units, fixed at creation
	Status        RideStatus
	OTP           string // 6-digit numeric, write-only unless explicitly included
	PaymentHoldID string // best-effort Stripe PaymentIntent id, may be empty
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RideRequest is the inbound shape for starting a dispatch.
type RideRequest struct {
	RiderID        string      `json:"rider_id"`
	Pickup         Coord       `json:"pickup"`
	Destination    Coord       `json:"destination"`
	VehicleType    VehicleType `json:"vehicle_type,omitempty"`
	RadiusKm       float64     `json:"radius_km,omitempty"`
	Limit          int         `json:"limit,omitempty"`
	BoundSeconds   *float64    `json:"bound_sec,omitempty"`
	AckSeconds     int         `json:"ack_sec,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CorrelationID  string      `json:"-"`
}

// OfferEvent is the payload emitted to a candidate driver.
type OfferEvent struct {
	DispatchID string  `json:"dispatch_id"`
	DriverID   string  `json:"driver_id"`
	Pickup     Coord   `json:"pickup"`
	Dest       Coord   `json:"destination"`
	ETASeconds float64 `json:"eta_seconds"`
}

// OfferAcceptedEvent is emitted to the winning driver.
type OfferAcceptedEvent struct {
	DispatchID string `json:"dispatch_id"`
	RideID     string `json:"ride_id"`
}

// RideAssignedEvent is emitted to the rider.
type RideAssignedEvent struct {
	RideID string `json:"ride_id"`
}

// DispatchFailedEvent is emitted to the rider when candidates are exhausted.
type DispatchFailedEvent struct {
	DispatchID string `json:"dispatch_id"`
}

const (
	EventRideOffer         = "ride-offer"
	EventRideOfferAccepted = "ride-offer-accepted"
	EventRideAssigned      = "ride-assigned"
	EventDispatchFailed    = "dispatch-failed"
	EventRideConfirmed     = "ride-confirmed"
	EventRideStarted       = "ride-started"
	EventRideEnded         = "ride-ended"
)
