package job

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"towlink/internal/types"
)

// Store persists jobs. Advance, SetRating and Cancel are guarded
// writes: they return false instead of writing when the row no longer
// satisfies the precondition, so concurrent callers lose cleanly.
type Store interface {
	Get(ctx context.Context, id types.ID) (*Job, error)
	ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*Job, error)

	// Advance moves the job from exactly `from` to `to`, stamping the
	// stage timestamp for `to`. durationMinutes is set only on the
	// transition into completed.
	Advance(ctx context.Context, id types.ID, from, to Status, at time.Time, durationMinutes *int64) (bool, error)

	// SetRating writes a party's rating once; false when that party
	// already rated.
	SetRating(ctx context.Context, id types.ID, party Party, score int64, comment string, at time.Time) (bool, error)

	// CustomerRatings returns every customer score left on the
	// provider's completed jobs.
	CustomerRatings(ctx context.Context, providerID types.ID) ([]int64, error)

	SetPaymentRef(ctx context.Context, id types.ID, ref string, status PaymentStatus) error
	SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) error

	// Cancel terminates the job unless it already reached completed or
	// cancelled.
	Cancel(ctx context.Context, id types.ID, by, reason, explanation string, fee *int64, at time.Time) (bool, error)
}

const jobColumns = `id, job_number, tow_request_id, offer_id, provider_id, customer_email,
	status, agreed_price, platform_fee, provider_payout, payment_ref, payment_status,
	accepted_at, en_route_at, arrived_at, loaded_at, departed_at, delivered_at, completed_at,
	total_duration_minutes,
	customer_rating, customer_comment, customer_rated_at,
	provider_rating, provider_comment, provider_rated_at,
	cancelled_by, cancellation_reason, cancellation_explanation, cancelled_at, cancellation_fee,
	created_at, updated_at`

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.JobNumber, &j.TowRequestID, &j.OfferID, &j.ProviderID, &j.CustomerEmail,
		&j.Status, &j.AgreedPrice, &j.PlatformFee, &j.ProviderPayout, &j.PaymentRef, &j.PaymentStatus,
		&j.AcceptedAt, &j.EnRouteAt, &j.ArrivedAt, &j.LoadedAt, &j.DepartedAt, &j.DeliveredAt, &j.CompletedAt,
		&j.TotalDurationMinutes,
		&j.CustomerRating, &j.CustomerComment, &j.CustomerRatedAt,
		&j.ProviderRating, &j.ProviderComment, &j.ProviderRatedAt,
		&j.CancelledBy, &j.CancellationReason, &j.CancellationExplanation, &j.CancelledAt, &j.CancellationFee,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *PGStore) ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// stageColumn maps a status to the timestamp column stamped on entry.
func stageColumn(st Status) string {
	switch st {
	case StatusEnRoute:
		return "en_route_at"
	case StatusAtPickup:
		return "arrived_at"
	case StatusLoading:
		return "loaded_at"
	case StatusTransporting:
		return "departed_at"
	case StatusAtDropoff:
		return "delivered_at"
	case StatusCompleted:
		return "completed_at"
	}
	return ""
}

func (s *PGStore) Advance(ctx context.Context, id types.ID, from, to Status, at time.Time, durationMinutes *int64) (bool, error) {
	col := stageColumn(to)
	if col == "" {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, `+col+` = $2, total_duration_minutes = COALESCE($3, total_duration_minutes), updated_at = $2
		WHERE id = $4 AND status = $5`,
		to, at, durationMinutes, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetRating(ctx context.Context, id types.ID, party Party, score int64, comment string, at time.Time) (bool, error) {
	var query string
	switch party {
	case PartyCustomer:
		query = `
			UPDATE jobs
			SET customer_rating = $1, customer_comment = $2, customer_rated_at = $3, updated_at = $3
			WHERE id = $4 AND customer_rating IS NULL`
	case PartyProvider:
		query = `
			UPDATE jobs
			SET provider_rating = $1, provider_comment = $2, provider_rated_at = $3, updated_at = $3
			WHERE id = $4 AND provider_rating IS NULL`
	default:
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, query, score, comment, at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) CustomerRatings(ctx context.Context, providerID types.ID) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT customer_rating
		FROM jobs
		WHERE provider_id = $1 AND customer_rating IS NOT NULL`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []int64
	for rows.Next() {
		var score int64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

func (s *PGStore) SetPaymentRef(ctx context.Context, id types.ID, ref string, status PaymentStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET payment_ref = $1, payment_status = $2, updated_at = now()
		WHERE id = $3`, ref, status, id)
	return err
}

func (s *PGStore) SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET payment_status = $1, updated_at = now()
		WHERE id = $2`, status, id)
	return err
}

func (s *PGStore) Cancel(ctx context.Context, id types.ID, by, reason, explanation string, fee *int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, cancelled_by = $2, cancellation_reason = $3,
		    cancellation_explanation = $4, cancellation_fee = $5,
		    cancelled_at = $6, updated_at = $6
		WHERE id = $7 AND status NOT IN ($8, $9)`,
		StatusCancelled, by, reason, explanation, fee, at, id, StatusCompleted, StatusCancelled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
