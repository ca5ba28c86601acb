// Package registry tracks each driver's location and availability and owns
// the single serialization point that prevents double-booking: SetBusy.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// ErrAlreadyBusy is returned by SetBusy when the driver is unavailable or
// already bound to a ride. Expected contention, never surfaced to callers.
var ErrAlreadyBusy = errors.New("driver already busy or unavailable")

var ErrDriverNotFound = errors.New("driver not found")

// record is one driver's availability record. Its mutex serializes all
// operations on that driver independently of any ride-level locking.
type record struct {
	mu sync.Mutex

	city, area string
	busyRideID string
	updated    time.Time

	// available is the effective flag: always false while busy.
	// wantsAvailable remembers the driver's own last-reported flag so
	// Release can restore it (a driver may go offline while busy).
	available      bool
	wantsAvailable bool
}

type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*record

	now func() time.Time // overridable in tests
}

func New() *Registry {
	return &Registry{drivers: make(map[string]*record), now: time.Now}
}

func (r *Registry) get(driverID string, create bool) *record {
	r.mu.RLock()
	rec := r.drivers[driverID]
	r.mu.RUnlock()
	if rec != nil || !create {
		return rec
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec = r.drivers[driverID]; rec == nil {
		rec = &record{}
		r.drivers[driverID] = rec
	}
	return rec
}

// UpdateLocation overwrites the driver's location and availability flag.
// Idempotent; creates the record on first update. While the driver is busy
// the new flag is remembered but the effective availability stays false.
func (r *Registry) UpdateLocation(driverID, city, area string, available bool) {
	rec := r.get(driverID, true)
	rec.mu.Lock()
	wasAvailable := rec.available
	rec.city, rec.area = city, area
	rec.wantsAvailable = available
	if rec.busyRideID == "" {
		rec.available = available
	}
	rec.updated = r.now()
	nowAvailable := rec.available
	rec.mu.Unlock()
	adjustAvailableGauge(wasAvailable, nowAvailable)
}

// SetBusy atomically transitions a driver from available to busy, binding it
// to a ride. Returns ErrAlreadyBusy if the driver is unavailable or already
// bound. This is what actually prevents two rides from taking one driver.
func (r *Registry) SetBusy(driverID, rideID string) error {
	rec := r.get(driverID, false)
	if rec == nil {
		return ErrAlreadyBusy
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.available || rec.busyRideID != "" {
		return ErrAlreadyBusy
	}
	rec.busyRideID = rideID
	rec.available = false
	observability.DriversAvailable.Dec()
	return nil
}

// Release clears the busy binding and restores availability to the driver's
// last-reported flag. Releasing an unknown or unbound driver is a no-op.
func (r *Registry) Release(driverID string) {
	rec := r.get(driverID, false)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	if rec.busyRideID == "" {
		rec.mu.Unlock()
		return
	}
	rec.busyRideID = ""
	rec.available = rec.wantsAvailable
	restored := rec.available
	rec.mu.Unlock()
	if restored {
		observability.DriversAvailable.Inc()
	}
}

// Get returns a snapshot of the driver's record.
func (r *Registry) Get(driverID string) (models.Driver, error) {
	rec := r.get(driverID, false)
	if rec == nil {
		return models.Driver{}, ErrDriverNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return models.Driver{
		ID:         driverID,
		City:       rec.city,
		Area:       rec.area,
		Available:  rec.available,
		BusyRideID: rec.busyRideID,
		Updated:    rec.updated,
	}, nil
}

// FindAvailable returns ids of available drivers in the city, restricted to
// the area when area is non-empty, ordered by ascending last-update time.
// Oldest update first approximates "has been waiting longest"; it is a
// fairness tie-break, not a correctness requirement.
func (r *Registry) FindAvailable(city, area string) []string {
	type cand struct {
		id      string
		updated time.Time
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.drivers))
	recs := make([]*record, 0, len(r.drivers))
	for id, rec := range r.drivers {
		ids = append(ids, id)
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]cand, 0, len(ids))
	for i, rec := range recs {
		rec.mu.Lock()
		ok := rec.available && rec.city == city && (area == "" || rec.area == area)
		updated := rec.updated
		rec.mu.Unlock()
		if ok {
			out = append(out, cand{id: ids[i], updated: updated})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].updated.Equal(out[j].updated) {
			return out[i].id < out[j].id
		}
		return out[i].updated.Before(out[j].updated)
	})

	result := make([]string, len(out))
	for i, c := range out {
		result[i] = c.id
	}
	return result
}

func adjustAvailableGauge(was, now bool) {
	switch {
	case !was && now:
		observability.DriversAvailable.Inc()
	case was && !now:
		observability.DriversAvailable.Dec()
	}
}
