package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-matching/internal/dispatch"
	"github.com/example/ride-matching/internal/geo"
	"github.com/example/ride-matching/internal/idempotency"
	"github.com/example/ride-matching/internal/ingest"
	"github.com/example/ride-matching/internal/matcher"
	"github.com/example/ride-matching/internal/models"
	"github.com/example/ride-matching/internal/observability"
	"github.com/example/ride-matching/internal/queue"
	"github.com/example/ride-matching/internal/storage"
)

// Server wires every collaborator the Dispatch API (C7) needs: the
// GeoIndex gateway, the candidate builder, durable stores, the offer
// task queue, the event bus, and the idempotency cache.
type Server struct {
	Geo        geo.Geo
	Builder    *matcher.Builder
	Dispatches storage.DispatchStore
	Rides      storage.RideStore
	Queue      queue.TaskQueue
	Bus        dispatch.Bus
	WSReg      *dispatch.WSRegistry
	Idem       idempotency.Cache
	Kafka      *ingest.KafkaProducer
	logger     *slog.Logger

	AckSecondsDefault int
	AckSecondsMin     int
	AckSecondsMax     int
	DefaultFareMinor  int64
	IdempotencyTTL    time.Duration

	mux *mux.Router
}

func NewServer(logger *slog.Logger) *Server {
	s := &Server{logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/dispatch", s.handleStartDispatch).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/dispatch/{id}", s.handleGetDispatch).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/dispatch/{id}/ack", s.handleAckOffer).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/dispatch/{id}/cancel", s.handleCancelDispatch).Methods(http.MethodPost)

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type startDispatchRequest struct {
	RiderID        string       `json:"rider_id"`
	Pickup         models.Coord `json:"pickup"`
	Destination    models.Coord `json:"destination"`
	VehicleType    string       `json:"vehicle_type"`
	RadiusKm       float64      `json:"radius_km"`
	Limit          int          `json:"limit"`
	BoundSeconds   *float64     `json:"bound_sec"`
	AckSeconds     int          `json:"ack_sec"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type startDispatchResponse struct {
	DispatchID string             `json:"dispatch_id"`
	Candidates []models.Candidate `json:"candidates"`
	Cursor     int                `json:"cursor"`
	AckSeconds int                `json:"ack_sec"`
}

func (s *Server) handleStartDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req startDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	vehicleType := models.NormalizeVehicleType(req.VehicleType)
	if req.RiderID == "" || !vehicleType.Valid() {
		writeError(w, http.StatusBadRequest, models.ErrBadInput)
		return
	}
	ackSeconds := req.AckSeconds
	if ackSeconds == 0 {
		ackSeconds = s.AckSecondsDefault
	}
	if ackSeconds < s.AckSecondsMin || ackSeconds > s.AckSecondsMax {
		writeError(w, http.StatusBadRequest, errors.New("ack_sec out of range"))
		return
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = idempotency.Fingerprint(req.RiderID, coordString(req.Pickup), coordString(req.Destination), string(vehicleType))
	}

	rideReq := models.RideRequest{
		RiderID:      req.RiderID,
		Pickup:       req.Pickup,
		Destination:  req.Destination,
		VehicleType:  vehicleType,
		RadiusKm:     req.RadiusKm,
		Limit:        req.Limit,
		BoundSeconds: req.BoundSeconds,
		AckSeconds:   ackSeconds,
	}

	candidates, best, err := s.Builder.Build(ctx, rideReq, time.Now())
	if err != nil {
		if errors.Is(err, models.ErrBadInput) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	cursor := best
	if cursor < 0 {
		cursor = 0
	}

	outcome := models.OutcomePending
	if len(candidates) == 0 {
		outcome = models.OutcomeExhausted
	}

	d := &models.Dispatch{
		RiderID:     req.RiderID,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		VehicleType: vehicleType,
		Candidates:  candidates,
		Cursor:      cursor,
		Outcome:     outcome,
		AckSeconds:  ackSeconds,
		FareMinor:   s.DefaultFareMinor,
	}

	id, err := s.Dispatches.Create(ctx, d)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(candidates) == 0 {
		writeError(w, http.StatusNotFound, errors.New("no drivers nearby"))
		return
	}
	if err := s.Queue.Enqueue(ctx, id); err != nil {
		s.logger.Error("enqueue offer task failed", "dispatch_id", id, "error", err)
	}

	resp := startDispatchResponse{DispatchID: id, Candidates: candidates, Cursor: cursor, AckSeconds: ackSeconds}
	respBytes, _ := json.Marshal(resp)

	// Compare-and-set against any concurrent identical request: if another
	// caller's StartDispatch already won the idempotency key, discard this
	// dispatch (it would otherwise sit in the queue as an orphan no client
	// is tracking) and hand back the winner's response instead.
	if s.Idem != nil {
		stored, err := s.Idem.Put(ctx, idemKey, respBytes, s.idempotencyTTL())
		if err == nil && string(stored) != string(respBytes) {
			_ = s.Dispatches.Cancel(ctx, id)
			respBytes = stored
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(respBytes)
}

func (s *Server) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return idempotency.DefaultTTL
}

func (s *Server) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := s.Dispatches.Read(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

type ackRequest struct {
	DriverID string `json:"driver_id"`
	Accepted bool   `json:"accepted"`
}

func (s *Server) handleAckOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := s.Dispatches.Read(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	index := -1
	for i, c := range d.Candidates {
		if c.DriverID == req.DriverID {
			index = i
			break
		}
	}
	if index == -1 {
		writeError(w, http.StatusNotFound, models.ErrNotFound)
		return
	}
	if d.Outcome != models.OutcomePending {
		writeError(w, http.StatusGone, models.ErrGone)
		return
	}

	next := models.CandidateRejected
	if req.Accepted {
		next = models.CandidateAcked
	}
	if err := s.Dispatches.SetCandidateStatus(ctx, id, index, models.CandidateOffered, next); err != nil {
		if errors.Is(err, models.ErrConflict) {
			cur, rerr := s.Dispatches.Read(ctx, id)
			switch {
			case rerr != nil || cur.Outcome != models.OutcomePending || cur.Candidates[index].Status == models.CandidateTimedOut:
				writeError(w, http.StatusGone, models.ErrGone)
			case cur.Candidates[index].Status == next:
				// a duplicate ack or reject gets the same result as the first one.
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]bool{"ok": true})
			default:
				writeError(w, http.StatusConflict, models.ErrConflict)
			}
			return
		}
		writeStoreError(w, err)
		return
	}
	_ = s.Queue.Wakeup(ctx, id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleCancelDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if err := s.Dispatches.Cancel(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}
	_ = s.Queue.Wakeup(ctx, id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if d.Availability == "" {
		d.Availability = models.Active
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(r.Context(), d); err != nil {
			s.logger.Warn("publish driver location failed", "driver_id", d.ID, "error", err)
		}
	}
	if err := s.Geo.Upsert(r.Context(), d); err != nil {
		s.logger.Warn("geo upsert failed", "driver_id", d.ID, "error", err)
	}
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

func coordString(c models.Coord) string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lon, 'f', 6, 64)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, models.ErrGone):
		writeError(w, http.StatusGone, err)
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, models.ErrBadInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
