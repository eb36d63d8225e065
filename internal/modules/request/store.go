package request

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"towlink/internal/types"
)

// Store is the repository contract for tow requests. Cancel and
// ExpireStale are guarded writes: they only move rows still in a
// cancellable state, so a concurrent acceptance cannot be clobbered.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	// ListOpen returns open, unexpired requests, most recent first.
	ListOpen(ctx context.Context, now time.Time) ([]*Request, error)
	// Cancel moves the request to cancelled only from open/pending.
	// Returns false when the guard did not match (lost a race).
	Cancel(ctx context.Context, id types.ID, at time.Time) (bool, error)
	// MarkCompleted flips the request to completed when its job finishes.
	MarkCompleted(ctx context.Context, id types.ID, at time.Time) error
	// MarkCancelled flips the request to cancelled when its job is cancelled.
	MarkCancelled(ctx context.Context, id types.ID, at time.Time) error
	// ExpireStale moves open/pending requests past their deadline to
	// expired and returns how many rows moved.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const requestColumns = `
	id, request_number, customer_email, customer_name, customer_phone,
	pickup_street, pickup_city, pickup_state, pickup_zip, pickup_notes,
	pickup_lat, pickup_lng, pickup_area_id,
	dropoff_street, dropoff_city, dropoff_state, dropoff_zip, dropoff_notes,
	dropoff_lat, dropoff_lng,
	distance_miles, estimated_duration,
	vehicle_make, vehicle_model, vehicle_year, vehicle_color, vehicle_condition, vehicle_notes,
	offered_price, agreed_price, platform_fee, provider_payout,
	urgency, scheduled_time,
	status, offer_count, accepted_offer_id, job_id,
	expires_at, accepted_at, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tow_requests (
			id, request_number, customer_email, customer_name, customer_phone,
			pickup_street, pickup_city, pickup_state, pickup_zip, pickup_notes,
			pickup_lat, pickup_lng, pickup_area_id,
			dropoff_street, dropoff_city, dropoff_state, dropoff_zip, dropoff_notes,
			dropoff_lat, dropoff_lng,
			distance_miles, estimated_duration,
			vehicle_make, vehicle_model, vehicle_year, vehicle_color, vehicle_condition, vehicle_notes,
			offered_price, urgency, scheduled_time, status, offer_count,
			expires_at, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
			$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$35
		)`,
		string(r.ID), r.RequestNumber, r.CustomerEmail, r.CustomerName, r.CustomerPhone,
		r.Pickup.Street, r.Pickup.City, r.Pickup.State, r.Pickup.Zip, r.Pickup.Notes,
		pointLat(r.PickupPoint), pointLng(r.PickupPoint), r.PickupAreaID,
		r.Dropoff.Street, r.Dropoff.City, r.Dropoff.State, r.Dropoff.Zip, r.Dropoff.Notes,
		pointLat(r.DropoffPoint), pointLng(r.DropoffPoint),
		r.DistanceMiles, r.EstimatedDuration,
		r.Vehicle.Make, r.Vehicle.Model, r.Vehicle.Year, r.Vehicle.Color, string(r.Vehicle.Condition), r.Vehicle.Notes,
		r.OfferedPrice, string(r.Urgency), r.ScheduledTime, string(r.Status), r.OfferCount,
		r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM tow_requests WHERE id = $1`, string(id))
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) ListOpen(ctx context.Context, now time.Time) ([]*Request, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM tow_requests
		WHERE status = 'open' AND expires_at > $1
		ORDER BY created_at DESC
		LIMIT 50`, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Cancel(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE tow_requests
		SET status = 'cancelled', updated_at = $1
		WHERE id = $2 AND status IN ('open', 'pending')`,
		at, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) MarkCompleted(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tow_requests SET status = 'completed', updated_at = $1 WHERE id = $2`,
		at, string(id),
	)
	return err
}

func (s *PGStore) MarkCancelled(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tow_requests SET status = 'cancelled', updated_at = $1 WHERE id = $2`,
		at, string(id),
	)
	return err
}

func (s *PGStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE tow_requests
		SET status = 'expired', updated_at = $1
		WHERE status IN ('open', 'pending') AND expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var pickupLat, pickupLng, dropoffLat, dropoffLng *float64
	var condition string
	err := row.Scan(
		&r.ID, &r.RequestNumber, &r.CustomerEmail, &r.CustomerName, &r.CustomerPhone,
		&r.Pickup.Street, &r.Pickup.City, &r.Pickup.State, &r.Pickup.Zip, &r.Pickup.Notes,
		&pickupLat, &pickupLng, &r.PickupAreaID,
		&r.Dropoff.Street, &r.Dropoff.City, &r.Dropoff.State, &r.Dropoff.Zip, &r.Dropoff.Notes,
		&dropoffLat, &dropoffLng,
		&r.DistanceMiles, &r.EstimatedDuration,
		&r.Vehicle.Make, &r.Vehicle.Model, &r.Vehicle.Year, &r.Vehicle.Color, &condition, &r.Vehicle.Notes,
		&r.OfferedPrice, &r.AgreedPrice, &r.PlatformFee, &r.ProviderPayout,
		&r.Urgency, &r.ScheduledTime,
		&r.Status, &r.OfferCount, &r.AcceptedOfferID, &r.JobID,
		&r.ExpiresAt, &r.AcceptedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Vehicle.Condition = VehicleCondition(condition)
	if pickupLat != nil && pickupLng != nil {
		r.PickupPoint = &types.Point{Lat: *pickupLat, Lng: *pickupLng}
	}
	if dropoffLat != nil && dropoffLng != nil {
		r.DropoffPoint = &types.Point{Lat: *dropoffLat, Lng: *dropoffLng}
	}
	return &r, nil
}

func pointLat(p *types.Point) *float64 {
	if p == nil {
		return nil
	}
	return &p.Lat
}

func pointLng(p *types.Point) *float64 {
	if p == nil {
		return nil
	}
	return &p.Lng
}
