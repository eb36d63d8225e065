package provider

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"towlink/internal/types"
)

// Store is the repository contract for providers. Stat updates are
// expressed as deltas so the storage layer can apply them atomically.
type Store interface {
	Create(ctx context.Context, p *Provider) error
	Get(ctx context.Context, id types.ID) (*Provider, error)
	GetByStripeAccount(ctx context.Context, accountID string) (*Provider, error)
	UpdateLocation(ctx context.Context, id types.ID, loc types.Point, at time.Time) error
	SetOnline(ctx context.Context, id types.ID, online bool) error
	// IncrementStats adds one completed job and earningsDelta cents to the
	// provider's running totals in a single atomic update.
	IncrementStats(ctx context.Context, id types.ID, earningsDelta int64, at time.Time) error
	SetAverageRating(ctx context.Context, id types.ID, avg float64) error
	SetStripeAccount(ctx context.Context, id types.ID, accountID string, status OnboardingStatus) error
	SetOnboarding(ctx context.Context, accountID string, status OnboardingStatus, instantPayouts bool) error
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const providerColumns = `
	id, email, name, phone, business_name,
	service_area_ids, max_distance_miles, vehicle_type,
	verification_status, stripe_account_id, onboarding_status, instant_payouts,
	jobs_completed, total_earnings, average_rating, last_job_at,
	is_online, current_lat, current_lng, last_location_update,
	created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, p *Provider) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO providers (
			id, email, name, phone, business_name,
			service_area_ids, max_distance_miles, vehicle_type,
			verification_status, stripe_account_id, onboarding_status, instant_payouts,
			jobs_completed, total_earnings, is_online,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)`,
		string(p.ID), p.Email, p.Name, p.Phone, p.BusinessName,
		p.ServiceAreaIDs, p.MaxDistanceMiles, p.VehicleType,
		string(p.VerificationStatus), p.StripeAccountID, string(p.OnboardingStatus), p.InstantPayouts,
		p.JobsCompleted, p.TotalEarnings, p.IsOnline,
		p.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Provider, error) {
	return s.getWhere(ctx, "id = $1", string(id))
}

func (s *PGStore) GetByStripeAccount(ctx context.Context, accountID string) (*Provider, error) {
	return s.getWhere(ctx, "stripe_account_id = $1", accountID)
}

func (s *PGStore) getWhere(ctx context.Context, cond string, arg any) (*Provider, error) {
	row := s.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE `+cond, arg)

	var p Provider
	var lat, lng *float64
	err := row.Scan(
		&p.ID, &p.Email, &p.Name, &p.Phone, &p.BusinessName,
		&p.ServiceAreaIDs, &p.MaxDistanceMiles, &p.VehicleType,
		&p.VerificationStatus, &p.StripeAccountID, &p.OnboardingStatus, &p.InstantPayouts,
		&p.JobsCompleted, &p.TotalEarnings, &p.AverageRating, &p.LastJobAt,
		&p.IsOnline, &lat, &lng, &p.LastLocationUpdate,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &p, nil
}

func (s *PGStore) UpdateLocation(ctx context.Context, id types.ID, loc types.Point, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE providers
		SET current_lat = $1, current_lng = $2, last_location_update = $3, updated_at = $3
		WHERE id = $4`,
		loc.Lat, loc.Lng, at, string(id),
	)
	return err
}

func (s *PGStore) SetOnline(ctx context.Context, id types.ID, online bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE providers SET is_online = $1, updated_at = NOW() WHERE id = $2`,
		online, string(id),
	)
	return err
}

func (s *PGStore) IncrementStats(ctx context.Context, id types.ID, earningsDelta int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE providers
		SET jobs_completed = jobs_completed + 1,
		    total_earnings = total_earnings + $1,
		    last_job_at = $2,
		    updated_at = $2
		WHERE id = $3`,
		earningsDelta, at, string(id),
	)
	return err
}

func (s *PGStore) SetAverageRating(ctx context.Context, id types.ID, avg float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE providers SET average_rating = $1, updated_at = NOW() WHERE id = $2`,
		avg, string(id),
	)
	return err
}

func (s *PGStore) SetStripeAccount(ctx context.Context, id types.ID, accountID string, status OnboardingStatus) error {
	_, err := s.db.Exec(ctx, `
		UPDATE providers
		SET stripe_account_id = $1, onboarding_status = $2, updated_at = NOW()
		WHERE id = $3`,
		accountID, string(status), string(id),
	)
	return err
}

func (s *PGStore) SetOnboarding(ctx context.Context, accountID string, status OnboardingStatus, instantPayouts bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE providers
		SET onboarding_status = $1, instant_payouts = $2, updated_at = NOW()
		WHERE stripe_account_id = $3`,
		string(status), instantPayouts, accountID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
