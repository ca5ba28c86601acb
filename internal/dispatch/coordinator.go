// Package dispatch drives the notify → wait → escalate loop that assigns a
// driver to a ride. One goroutine per ride owns the whole attempt; driver
// responses arrive over HTTP and are routed to that goroutine through a
// per-ride channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// ErrStaleResponse marks an accept/decline that references no live attempt:
// the attempt already finished, was superseded by cancellation, or never
// existed. Idempotent no-op for the sender.
var ErrStaleResponse = errors.New("stale driver response")

// ErrAttemptInFlight guards the one-attempt-per-ride rule.
var ErrAttemptInFlight = errors.New("dispatch attempt already in flight")

// Response is a driver's answer to a ride offer.
type Response struct {
	RideID   string
	DriverID string
	Accept   bool
}

// Registry is the driver-side contract the coordinator needs: reservation
// before notification, release on decline/timeout.
type Registry interface {
	SetBusy(driverID, rideID string) error
	Release(driverID string)
}

// Selector produces the ordered candidate list for a pickup location.
type Selector interface {
	Select(pickup models.Location, exclude map[string]struct{}, limit int) []string
}

// Lifecycle is the slice of the ride state machine the coordinator drives.
type Lifecycle interface {
	Match(ctx context.Context, rideID, driverID string) error
	MarkUnmatched(ctx context.Context, rideID string) error
}

// Notifier pushes a ride offer directly to a connected driver (e.g. over a
// websocket). Push failure is not fatal: the bus notification still goes out
// and the attempt times out normally if the driver never responds.
type Notifier interface {
	Notify(driverID string, payload any) error
}

// attempt is one dispatch round's live state. respCh receives routed driver
// responses; abort supersedes the attempt on cancellation.
type attempt struct {
	seq       int
	respCh    chan Response
	abort     chan struct{}
	abortOnce sync.Once
}

func (a *attempt) cancel() { a.abortOnce.Do(func() { close(a.abort) }) }

type Coordinator struct {
	registry Registry
	selector Selector
	rides    Lifecycle
	bus      events.Publisher
	notifier Notifier
	log      *slog.Logger

	maxNotify int
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]*attempt
	seq     int
}

func NewCoordinator(reg Registry, sel Selector, rides Lifecycle, bus events.Publisher, log *slog.Logger, maxNotify int, timeout time.Duration) *Coordinator {
	return &Coordinator{
		registry:  reg,
		selector:  sel,
		rides:     rides,
		bus:       bus,
		log:       log,
		maxNotify: maxNotify,
		timeout:   timeout,
		pending:   make(map[string]*attempt),
	}
}

// SetNotifier attaches the direct push channel. Optional.
func (c *Coordinator) SetNotifier(n Notifier) { c.notifier = n }

// Dispatch starts the assignment loop for a ride in state requested. The
// loop runs in its own goroutine; at most one attempt per ride is in flight.
func (c *Coordinator) Dispatch(ctx context.Context, ride models.Ride) error {
	c.mu.Lock()
	if _, exists := c.pending[ride.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: ride %s", ErrAttemptInFlight, ride.ID)
	}
	c.seq++
	at := &attempt{
		seq:    c.seq,
		respCh: make(chan Response, 8),
		abort:  make(chan struct{}),
	}
	c.pending[ride.ID] = at
	c.mu.Unlock()

	// The attempt outlives the caller: an HTTP request context is cancelled
	// as soon as the handler returns, long before the driver answers.
	// Abort is the explicit cancellation path.
	go c.run(context.WithoutCancel(ctx), ride, at)
	return nil
}

// SubmitResponse routes a driver's accept/decline to the ride's live
// attempt. Returns ErrStaleResponse when no attempt is waiting: the
// response arrived after matching finished, after cancellation, or for a
// ride this engine never dispatched.
func (c *Coordinator) SubmitResponse(rideID, driverID string, accept bool) error {
	c.mu.Lock()
	at := c.pending[rideID]
	c.mu.Unlock()
	if at == nil {
		observability.StaleResponses.Inc()
		return fmt.Errorf("%w: ride %s driver %s", ErrStaleResponse, rideID, driverID)
	}
	select {
	case at.respCh <- Response{RideID: rideID, DriverID: driverID, Accept: accept}:
		return nil
	default:
		observability.StaleResponses.Inc()
		return fmt.Errorf("%w: ride %s driver %s", ErrStaleResponse, rideID, driverID)
	}
}

// Abort supersedes the ride's in-flight attempt, if any. The attempt
// goroutine releases its held driver and exits; any response arriving
// afterwards is stale. Called on ride cancellation.
func (c *Coordinator) Abort(rideID string) {
	c.mu.Lock()
	at := c.pending[rideID]
	c.mu.Unlock()
	if at != nil {
		at.cancel()
	}
}

// run is the dispatch loop for a single ride. It re-selects candidates
// whenever the current list is exhausted, never re-including drivers already
// tried for this ride, and terminates on match, abort, or exhaustion.
func (c *Coordinator) run(ctx context.Context, ride models.Ride, at *attempt) {
	defer func() {
		c.mu.Lock()
		delete(c.pending, ride.ID)
		c.mu.Unlock()
	}()

	start := time.Now()
	tried := make(map[string]struct{})

	for {
		select {
		case <-at.abort:
			return
		case <-ctx.Done():
			return
		default:
		}

		candidates := c.selector.Select(ride.Pickup, tried, c.maxNotify)
		if len(candidates) == 0 {
			c.log.Info("dispatch exhausted", "ride_id", ride.ID, "tried", len(tried))
			observability.UnmatchedTotal.Inc()
			if err := c.rides.MarkUnmatched(ctx, ride.ID); err != nil {
				c.log.Warn("unmatched transition rejected", "ride_id", ride.ID, "error", err)
			}
			_ = c.bus.Publish(ctx, events.ChannelUserNotifications, "ride_unmatched", map[string]any{
				"ride_id":  ride.ID,
				"rider_id": ride.RiderID,
				"message":  "No drivers available right now. Please try again later.",
			})
			return
		}

		for _, driverID := range candidates {
			tried[driverID] = struct{}{}

			// Reserve before notifying. Losing the reservation to a
			// concurrent ride's attempt just means skipping ahead.
			if err := c.registry.SetBusy(driverID, ride.ID); err != nil {
				c.log.Debug("candidate taken", "ride_id", ride.ID, "driver_id", driverID)
				continue
			}

			matched, done := c.offerAndWait(ctx, ride, at, driverID)
			if matched {
				observability.MatchesTotal.Inc()
				observability.MatchLatency.Observe(time.Since(start).Seconds())
				return
			}
			if done {
				return
			}
			// Declined or timed out: escalate to the next candidate.
		}
	}
}

// offerAndWait notifies one reserved driver and waits for accept, decline,
// deadline, or abort. Decline and timeout are the same edge: release the
// driver and escalate. Returns (matched, done).
func (c *Coordinator) offerAndWait(ctx context.Context, ride models.Ride, at *attempt, driverID string) (bool, bool) {
	c.notifyDriver(ctx, ride, driverID)
	observability.NotifiesTotal.Inc()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-at.respCh:
			if resp.DriverID != driverID {
				// Late answer from a previously-tried driver. Stale:
				// discarded, and we keep waiting on the held driver.
				observability.StaleResponses.Inc()
				c.log.Info("stale driver response discarded", "ride_id", ride.ID,
					"driver_id", resp.DriverID, "held_driver_id", driverID)
				continue
			}
			if !resp.Accept {
				observability.DeclinesTotal.Inc()
				c.log.Info("driver declined", "ride_id", ride.ID, "driver_id", driverID)
				c.registry.Release(driverID)
				return false, false
			}
			if err := c.rides.Match(ctx, ride.ID, driverID); err != nil {
				// The ride moved on without us, e.g. cancelled while the
				// accept was in flight. Free the driver and stop.
				c.log.Info("match rejected by ride state", "ride_id", ride.ID,
					"driver_id", driverID, "error", err)
				c.registry.Release(driverID)
				return false, true
			}
			c.log.Info("ride matched", "ride_id", ride.ID, "driver_id", driverID)
			return true, true

		case <-timer.C:
			observability.TimeoutsTotal.Inc()
			c.log.Info("driver response timeout", "ride_id", ride.ID, "driver_id", driverID)
			c.registry.Release(driverID)
			return false, false

		case <-at.abort:
			c.registry.Release(driverID)
			return false, true

		case <-ctx.Done():
			c.registry.Release(driverID)
			return false, true
		}
	}
}

func (c *Coordinator) notifyDriver(ctx context.Context, ride models.Ride, driverID string) {
	payload := map[string]any{
		"type":             "ride_request",
		"ride_id":          ride.ID,
		"driver_id":        driverID,
		"pickup":           ride.Pickup,
		"destination":      ride.Destination,
		"estimated_fare":   ride.EstimatedFare,
		"special_requests": ride.SpecialRequests,
		"timeout_seconds":  int(c.timeout.Seconds()),
	}
	if err := c.bus.Publish(ctx, events.ChannelDriverNotifications, "ride_request", payload); err != nil {
		// Driver unreachable on the bus. The attempt still times out
		// normally if the driver never responds.
		c.log.Warn("driver notification publish failed", "ride_id", ride.ID,
			"driver_id", driverID, "error", err)
	}
	if c.notifier != nil {
		if err := c.notifier.Notify(driverID, payload); err != nil {
			c.log.Debug("driver push skipped", "driver_id", driverID, "error", err)
		}
	}
}
