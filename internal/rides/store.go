package rides

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Store defines persistence operations for rides. Persistence is a
// collaborator of the engine, not its state authority: the machine keeps
// going when a store call fails.
type Store interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	GetRide(id string) (*models.Ride, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error {
	return m.SaveRide(r)
}

func (m *MemoryStore) GetRide(id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}
