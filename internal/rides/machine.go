// Package rides holds the authoritative ride lifecycle. Every status change
// goes through Machine.Transition, which validates the edge, applies the
// side effects, persists, and announces the new state.
package rides

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
)

// ErrInvalidTransition is surfaced to the caller when the requested status
// change is not permitted from the ride's current state. Ride state is left
// unchanged.
var ErrInvalidTransition = errors.New("invalid ride status transition")

var ErrNotFound = errors.New("ride not found")

// allowed is the transition table. Terminal states map to nothing.
var allowed = map[models.RideStatus][]models.RideStatus{
	models.StatusRequested:  {models.StatusMatched, models.StatusUnmatched, models.StatusCancelled},
	models.StatusMatched:    {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:   {models.StatusPickup, models.StatusCancelled},
	models.StatusPickup:     {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:  {},
	models.StatusCancelled:  {},
	models.StatusUnmatched:  {},
}

// Releaser frees a driver's busy binding. Implemented by the driver registry.
type Releaser interface {
	Release(driverID string)
}

// TransitionHook observes accepted transitions. The ride snapshot still
// carries the driver id that was bound before a terminal transition cleared
// it, so hooks can notify that driver. Hooks run inside the per-ride
// critical section: for a single ride they fire in transition order.
type TransitionHook func(ride models.Ride, from models.RideStatus)

type entry struct {
	mu   sync.Mutex
	ride *models.Ride
}

type Machine struct {
	mu      sync.Mutex
	entries map[string]*entry

	store    Store
	bus      events.Publisher
	releaser Releaser
	hook     TransitionHook
	log      *slog.Logger
	now      func() time.Time
}

func NewMachine(store Store, bus events.Publisher, releaser Releaser, log *slog.Logger) *Machine {
	return &Machine{
		entries:  make(map[string]*entry),
		store:    store,
		bus:      bus,
		releaser: releaser,
		log:      log,
		now:      time.Now,
	}
}

// OnTransition registers the observer hook. Call before the machine is in use.
func (m *Machine) OnTransition(hook TransitionHook) { m.hook = hook }

// Create builds a new ride in state requested, persists it, and announces
// ride_requested.
func (m *Machine) Create(ctx context.Context, req models.RideRequest, estimatedFare float64) (models.Ride, error) {
	now := m.now()
	ride := &models.Ride{
		ID:              newRideID(),
		RiderID:         req.RiderID,
		Pickup:          req.Pickup,
		Destination:     req.Destination,
		Type:            req.Type,
		Status:          models.StatusRequested,
		SpecialRequests: req.SpecialRequests,
		EstimatedFare:   estimatedFare,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if ride.Type == "" {
		ride.Type = models.TypeStandard
	}

	m.mu.Lock()
	m.entries[ride.ID] = &entry{ride: ride}
	m.mu.Unlock()

	if err := m.store.SaveRide(ride); err != nil {
		m.log.Error("ride persist failed", "ride_id", ride.ID, "error", err)
	}
	_ = m.bus.Publish(ctx, events.ChannelRideEvents, "ride_requested", map[string]any{
		"ride_id":  ride.ID,
		"rider_id": ride.RiderID,
		"pickup":   ride.Pickup,
	})
	return *ride, nil
}

// Get returns a snapshot of the ride, falling back to the store for rides
// not in memory (e.g. after a restart).
func (m *Machine) Get(ctx context.Context, rideID string) (models.Ride, error) {
	e := m.lookup(rideID)
	if e == nil {
		return models.Ride{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.ride, nil
}

type transitionArgs struct {
	driverID   string
	reason     string
	actualFare float64
	hasFare    bool
}

type TransitionOpt func(*transitionArgs)

// WithDriver binds the driver on a transition to matched.
func WithDriver(driverID string) TransitionOpt {
	return func(a *transitionArgs) { a.driverID = driverID }
}

// WithReason records the cancellation reason.
func WithReason(reason string) TransitionOpt {
	return func(a *transitionArgs) { a.reason = reason }
}

// WithActualFare sets the final fare on completion. Defaults to the estimate.
func WithActualFare(fare float64) TransitionOpt {
	return func(a *transitionArgs) { a.actualFare = fare; a.hasFare = true }
}

// Transition moves the ride to a new status. It is the only mutation path
// for rides: it validates the edge against the transition table, stamps
// timestamps, releases the bound driver on terminal transitions, persists,
// publishes the matching ride event, and invokes the observer hook, all
// inside the per-ride critical section.
func (m *Machine) Transition(ctx context.Context, rideID string, to models.RideStatus, opts ...TransitionOpt) (models.Ride, error) {
	var args transitionArgs
	for _, opt := range opts {
		opt(&args)
	}

	e := m.lookup(rideID)
	if e == nil {
		return models.Ride{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ride := e.ride
	from := ride.Status
	if !transitionAllowed(from, to) {
		return models.Ride{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == models.StatusMatched && args.driverID == "" {
		return models.Ride{}, fmt.Errorf("%w: matched requires a driver", ErrInvalidTransition)
	}

	now := m.now()
	switch to {
	case models.StatusMatched:
		ride.DriverID = args.driverID
	case models.StatusAccepted:
		ride.AcceptedAt = &now
	case models.StatusPickup:
		ride.PickupAt = &now
	case models.StatusInProgress:
		ride.StartedAt = &now
	case models.StatusCompleted:
		ride.CompletedAt = &now
		if args.hasFare {
			ride.ActualFare = args.actualFare
		} else {
			ride.ActualFare = ride.EstimatedFare
		}
	case models.StatusCancelled:
		ride.CancelReason = args.reason
	}

	// The driver binding only exists while the ride is live. Terminal
	// transitions release the driver and clear the binding.
	boundDriver := ride.DriverID
	if to.Terminal() && boundDriver != "" {
		m.releaser.Release(boundDriver)
		ride.DriverID = ""
	}

	ride.Status = to
	ride.UpdatedAt = now

	if err := m.store.UpdateRide(ride); err != nil {
		m.log.Error("ride persist failed", "ride_id", ride.ID, "status", to, "error", err)
	}

	snapshot := *ride
	snapshot.DriverID = boundDriver

	m.publishTransition(ctx, snapshot, to)
	if m.hook != nil {
		m.hook(snapshot, from)
	}
	return snapshot, nil
}

// Match is shorthand for the dispatch outcome requested -> matched.
func (m *Machine) Match(ctx context.Context, rideID, driverID string) error {
	_, err := m.Transition(ctx, rideID, models.StatusMatched, WithDriver(driverID))
	return err
}

// MarkUnmatched records candidate exhaustion for a ride.
func (m *Machine) MarkUnmatched(ctx context.Context, rideID string) error {
	_, err := m.Transition(ctx, rideID, models.StatusUnmatched)
	return err
}

func (m *Machine) publishTransition(ctx context.Context, ride models.Ride, to models.RideStatus) {
	data := map[string]any{"ride_id": ride.ID}
	switch to {
	case models.StatusMatched:
		data["driver_id"] = ride.DriverID
	case models.StatusCancelled:
		data["reason"] = ride.CancelReason
		if ride.DriverID != "" {
			data["driver_id"] = ride.DriverID
		}
	case models.StatusCompleted:
		// ride_id only
	default:
		if ride.DriverID != "" {
			data["driver_id"] = ride.DriverID
		}
	}
	_ = m.bus.Publish(ctx, events.ChannelRideEvents, "ride_"+string(to), data)
}

func (m *Machine) lookup(rideID string) *entry {
	m.mu.Lock()
	e := m.entries[rideID]
	m.mu.Unlock()
	if e != nil {
		return e
	}

	ride, err := m.store.GetRide(rideID)
	if err != nil || ride == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e = m.entries[rideID]; e == nil {
		e = &entry{ride: ride}
		m.entries[rideID] = e
	}
	return e
}

func transitionAllowed(from, to models.RideStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

func newRideID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
