package models

import "time"

// Location is a pickup or dropoff point. Matching works on city/area names;
// the free-text address is what the rider typed and is only parsed when
// city/area are missing.
type Location struct {
	City    string `json:"city"`
	Area    string `json:"area"`
	Address string `json:"address"`
}

type RideType string

const (
	TypeStandard RideType = "standard"
	TypePremium  RideType = "premium"
	TypeShared   RideType = "shared"
)

type RideStatus string

const (
	StatusRequested  RideStatus = "requested"
	StatusMatched    RideStatus = "matched"
	StatusAccepted   RideStatus = "accepted"
	StatusPickup     RideStatus = "pickup"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
	StatusUnmatched  RideStatus = "unmatched"
)

// Terminal reports whether no further transition is permitted from s.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusUnmatched
}

type RideRequest struct {
	RiderID         string   `json:"rider_id"`
	Pickup          Location `json:"pickup"`
	Destination     Location `json:"destination"`
	Type            RideType `json:"ride_type"`
	SpecialRequests string   `json:"special_requests,omitempty"`
}

type Ride struct {
	ID              string     `json:"id"`
	RiderID         string     `json:"rider_id"`
	DriverID        string     `json:"driver_id,omitempty"`
	Pickup          Location   `json:"pickup"`
	Destination     Location   `json:"destination"`
	Type            RideType   `json:"ride_type"`
	Status          RideStatus `json:"status"`
	SpecialRequests string     `json:"special_requests,omitempty"`
	EstimatedFare   float64    `json:"estimated_fare"`
	ActualFare      float64    `json:"actual_fare,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	PickupAt        *time.Time `json:"pickup_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Driver is a driver availability record as tracked by the registry.
type Driver struct {
	ID         string    `json:"driver_id"`
	City       string    `json:"city"`
	Area       string    `json:"area"`
	Available  bool      `json:"available"`
	BusyRideID string    `json:"busy_ride_id,omitempty"`
	Updated    time.Time `json:"updated"`
}

// LocationUpdate is the wire shape for driver location messages, both on the
// HTTP ingest path and on the Kafka topic.
type LocationUpdate struct {
	DriverID  string `json:"driver_id"`
	City      string `json:"city"`
	Area      string `json:"area"`
	Available bool   `json:"available"`
}
