package rides

import (
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(
		id, rider_id, driver_id,
		pickup_city, pickup_area, pickup_address,
		dest_city, dest_area, dest_address,
		ride_type, status, special_requests,
		estimated_fare, actual_fare, cancel_reason,
		created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.RiderID, nullable(r.DriverID),
		r.Pickup.City, r.Pickup.Area, r.Pickup.Address,
		r.Destination.City, r.Destination.Area, r.Destination.Address,
		string(r.Type), string(r.Status), r.SpecialRequests,
		r.EstimatedFare, r.ActualFare, r.CancelReason,
		r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	_, err := p.db.Exec(`UPDATE rides SET
		driver_id=$1, status=$2, actual_fare=$3, cancel_reason=$4,
		accepted_at=$5, pickup_at=$6, started_at=$7, completed_at=$8,
		updated_at=$9
		WHERE id=$10`,
		nullable(r.DriverID), string(r.Status), r.ActualFare, r.CancelReason,
		r.AcceptedAt, r.PickupAt, r.StartedAt, r.CompletedAt,
		r.UpdatedAt, r.ID)
	return err
}

func (p *PostgresStore) GetRide(id string) (*models.Ride, error) {
	row := p.db.QueryRow(`SELECT
		id, rider_id, COALESCE(driver_id, ''),
		pickup_city, pickup_area, pickup_address,
		dest_city, dest_area, dest_address,
		ride_type, status, special_requests,
		estimated_fare, actual_fare, cancel_reason,
		created_at, updated_at, accepted_at, pickup_at, started_at, completed_at
		FROM rides WHERE id=$1`, id)

	var r models.Ride
	var rideType, status string
	err := row.Scan(&r.ID, &r.RiderID, &r.DriverID,
		&r.Pickup.City, &r.Pickup.Area, &r.Pickup.Address,
		&r.Destination.City, &r.Destination.Area, &r.Destination.Address,
		&rideType, &status, &r.SpecialRequests,
		&r.EstimatedFare, &r.ActualFare, &r.CancelReason,
		&r.CreatedAt, &r.UpdatedAt, &r.AcceptedAt, &r.PickupAt, &r.StartedAt, &r.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Type = models.RideType(rideType)
	r.Status = models.RideStatus(status)
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
