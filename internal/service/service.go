// Package service ties the dispatch engine together: ride intake, driver
// responses, lifecycle updates, cancellation, and the notification/payment
// side effects that hang off ride transitions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geocode"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
)

var ErrBadRequest = errors.New("invalid ride request")

type Service struct {
	rides    *rides.Machine
	coord    *dispatch.Coordinator
	geocoder geocode.Geocoder
	bus      events.Publisher
	payments payments.Client // nil when payments are not configured
	log      *slog.Logger

	mu    sync.Mutex
	holds map[string]string // ride id -> payment hold id
}

func New(machine *rides.Machine, coord *dispatch.Coordinator, geocoder geocode.Geocoder, bus events.Publisher, pay payments.Client, log *slog.Logger) *Service {
	s := &Service{
		rides:    machine,
		coord:    coord,
		geocoder: geocoder,
		bus:      bus,
		payments: pay,
		log:      log,
		holds:    make(map[string]string),
	}
	machine.OnTransition(s.onTransition)
	return s
}

// RequestRide creates a ride in state requested and kicks off dispatch.
func (s *Service) RequestRide(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	if req.RiderID == "" {
		return models.Ride{}, fmt.Errorf("%w: rider_id required", ErrBadRequest)
	}
	if req.Pickup == (models.Location{}) || req.Destination == (models.Location{}) {
		return models.Ride{}, fmt.Errorf("%w: pickup and destination required", ErrBadRequest)
	}
	req.Pickup = s.resolve(req.Pickup)
	req.Destination = s.resolve(req.Destination)

	estimate := fare.Estimate(req.Pickup.Address, req.Destination.Address)
	ride, err := s.rides.Create(ctx, req, estimate)
	if err != nil {
		return models.Ride{}, err
	}

	_ = s.bus.Publish(ctx, events.ChannelUserNotifications, "ride_requested", map[string]any{
		"ride_id":  ride.ID,
		"rider_id": ride.RiderID,
		"message":  "Your ride has been requested. Finding nearby drivers...",
	})

	if err := s.coord.Dispatch(ctx, ride); err != nil {
		s.log.Error("dispatch start failed", "ride_id", ride.ID, "error", err)
	}
	return ride, nil
}

// DriverRespond routes a driver's accept/decline into the live attempt.
func (s *Service) DriverRespond(ctx context.Context, rideID, driverID string, accept bool) error {
	return s.coord.SubmitResponse(rideID, driverID, accept)
}

// Confirm is the driver's business-level confirmation after matching.
func (s *Service) Confirm(ctx context.Context, rideID string) (models.Ride, error) {
	return s.rides.Transition(ctx, rideID, models.StatusAccepted)
}

// Arrive marks the driver at the pickup point.
func (s *Service) Arrive(ctx context.Context, rideID string) (models.Ride, error) {
	return s.rides.Transition(ctx, rideID, models.StatusPickup)
}

// Start marks the ride underway.
func (s *Service) Start(ctx context.Context, rideID string) (models.Ride, error) {
	return s.rides.Transition(ctx, rideID, models.StatusInProgress)
}

// Complete finishes the ride. The actual fare defaults to the estimate.
func (s *Service) Complete(ctx context.Context, rideID string) (models.Ride, error) {
	return s.rides.Transition(ctx, rideID, models.StatusCompleted)
}

// Cancel transitions the ride to cancelled and supersedes any in-flight
// dispatch attempt so a late accept lands as stale.
func (s *Service) Cancel(ctx context.Context, rideID, reason string) (models.Ride, error) {
	ride, err := s.rides.Transition(ctx, rideID, models.StatusCancelled, rides.WithReason(reason))
	if err != nil {
		return models.Ride{}, err
	}
	s.coord.Abort(rideID)
	return ride, nil
}

// GetRide returns the ride's current state.
func (s *Service) GetRide(ctx context.Context, rideID string) (models.Ride, error) {
	return s.rides.Get(ctx, rideID)
}

func (s *Service) resolve(loc models.Location) models.Location {
	if loc.City == "" || loc.Area == "" {
		city, area := s.geocoder.Geocode(loc.Address)
		if loc.City == "" {
			loc.City = city
		}
		if loc.Area == "" {
			loc.Area = area
		}
	}
	return loc
}

// onTransition handles the side effects of ride transitions: rider/driver
// notifications and payment hold/capture/void. It runs inside the per-ride
// critical section, so for one ride these fire in transition order. Ride
// state never depends on any of them succeeding.
func (s *Service) onTransition(ride models.Ride, from models.RideStatus) {
	ctx := context.Background()
	switch ride.Status {
	case models.StatusMatched:
		_ = s.bus.Publish(ctx, events.ChannelUserNotifications, "ride_matched", map[string]any{
			"ride_id":   ride.ID,
			"rider_id":  ride.RiderID,
			"driver_id": ride.DriverID,
			"message":   fmt.Sprintf("Driver found! They're on their way to %s", ride.Pickup.Address),
		})
		s.holdFare(ctx, ride)

	case models.StatusAccepted:
		_ = s.bus.Publish(ctx, events.ChannelUserNotifications, "ride_accepted", map[string]any{
			"ride_id":   ride.ID,
			"rider_id":  ride.RiderID,
			"driver_id": ride.DriverID,
			"message":   "Driver accepted your ride! They're on their way.",
		})

	case models.StatusCancelled:
		_ = s.bus.Publish(ctx, events.ChannelUserNotifications, "ride_cancelled", map[string]any{
			"ride_id":  ride.ID,
			"rider_id": ride.RiderID,
			"message":  fmt.Sprintf("Your ride has been cancelled. %s", ride.CancelReason),
		})
		if ride.DriverID != "" {
			_ = s.bus.Publish(ctx, events.ChannelDriverNotifications, "ride_cancelled", map[string]any{
				"ride_id":   ride.ID,
				"driver_id": ride.DriverID,
				"message":   "The ride has been cancelled.",
			})
		}
		s.voidFare(ctx, ride)

	case models.StatusCompleted:
		_ = s.bus.Publish(ctx, events.ChannelPaymentEvents, "process_payment", map[string]any{
			"ride_id":   ride.ID,
			"rider_id":  ride.RiderID,
			"driver_id": ride.DriverID,
			"amount":    ride.ActualFare,
		})
		_ = s.bus.Publish(ctx, events.ChannelUserNotifications, "ride_completed", map[string]any{
			"ride_id":  ride.ID,
			"rider_id": ride.RiderID,
			"message":  fmt.Sprintf("You've arrived! Your fare was $%.2f", ride.ActualFare),
		})
		s.captureFare(ctx, ride)
	}
}

func (s *Service) holdFare(ctx context.Context, ride models.Ride) {
	if s.payments == nil {
		return
	}
	holdID, err := s.payments.Hold(ctx, toCents(ride.EstimatedFare), "usd", ride.RiderID)
	if err != nil {
		s.log.Warn("fare hold failed", "ride_id", ride.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.holds[ride.ID] = holdID
	s.mu.Unlock()
}

func (s *Service) captureFare(ctx context.Context, ride models.Ride) {
	holdID := s.takeHold(ride.ID)
	if holdID == "" || s.payments == nil {
		return
	}
	if err := s.payments.Capture(ctx, holdID); err != nil {
		s.log.Warn("fare capture failed", "ride_id", ride.ID, "hold_id", holdID, "error", err)
	}
}

func (s *Service) voidFare(ctx context.Context, ride models.Ride) {
	holdID := s.takeHold(ride.ID)
	if holdID == "" || s.payments == nil {
		return
	}
	if err := s.payments.Cancel(ctx, holdID); err != nil {
		s.log.Warn("fare hold void failed", "ride_id", ride.ID, "hold_id", holdID, "error", err)
	}
}

func (s *Service) takeHold(rideID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	holdID := s.holds[rideID]
	delete(s.holds, rideID)
	return holdID
}

func toCents(amount float64) int64 { return int64(amount*100 + 0.5) }
