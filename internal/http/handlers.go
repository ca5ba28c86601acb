package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/service"
)

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if u.DriverID == "" {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	s.Registry.UpdateLocation(u.DriverID, u.City, u.Area, u.Available)
	// fan out to kafka if configured
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(u); err != nil {
			s.logger.Warn("location publish failed", "driver_id", u.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.RequestRide(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrBadRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "could not create ride", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ride_id":        ride.ID,
		"status":         ride.Status,
		"estimated_fare": ride.EstimatedFare,
	})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	ride, err := s.Rides.GetRide(r.Context(), rideID)
	if err != nil {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDriverResponse(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var body struct {
		DriverID string `json:"driver_id"`
		Accept   bool   `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.DriverID == "" {
		http.Error(w, "driver_id required", http.StatusBadRequest)
		return
	}
	err := s.Rides.DriverRespond(r.Context(), rideID, body.DriverID, body.Accept)
	if errors.Is(err, dispatch.ErrStaleResponse) {
		// Not an error to the sender: the attempt moved on without them.
		writeJSON(w, http.StatusOK, map[string]any{"status": "stale"})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var body struct {
		Status models.RideStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		ride models.Ride
		err  error
	)
	switch body.Status {
	case models.StatusAccepted:
		ride, err = s.Rides.Confirm(r.Context(), rideID)
	case models.StatusPickup:
		ride, err = s.Rides.Arrive(r.Context(), rideID)
	case models.StatusInProgress:
		ride, err = s.Rides.Start(r.Context(), rideID)
	case models.StatusCompleted:
		ride, err = s.Rides.Complete(r.Context(), rideID)
	default:
		http.Error(w, "status not drivable externally", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.Cancel(r.Context(), rideID, body.Reason)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rides.ErrNotFound):
		http.Error(w, "ride not found", http.StatusNotFound)
	case errors.Is(err, rides.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
