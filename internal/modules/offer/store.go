package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"towlink/internal/fees"
	"towlink/internal/types"
)

// AcceptParams carries everything the store needs to run the acceptance
// protocol. The job identity is generated by the caller so the whole
// operation is a single storage round trip.
type AcceptParams struct {
	RequestID types.ID
	OfferID   types.ID
	JobID     types.ID
	JobNumber string
	Fee       fees.Breakdown
	Now       time.Time
}

// AcceptResult reports the job created by a successful acceptance.
type AcceptResult struct {
	JobID         types.ID
	ProviderID    types.ID
	CustomerEmail string
	Fee           fees.Breakdown
}

// Store is the repository contract for offers. Accept is the
// concurrency-critical operation: all five writes land atomically and
// the first validated caller wins; losers see ErrAlreadyResolved and no
// partial state is ever visible.
type Store interface {
	// Create inserts the offer and bumps the parent request's offer count
	// (flipping open to pending on the first offer) in one atomic step.
	// Fails with ErrAlreadyResolved when the request left open/pending
	// between the caller's check and the write.
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id types.ID) (*Offer, error)
	ListByRequest(ctx context.Context, requestID types.ID) ([]*Offer, error)
	// Resolve moves a pending offer to declined/withdrawn. Returns false
	// when the offer was no longer pending.
	Resolve(ctx context.Context, id types.ID, to Status, reason string, at time.Time) (bool, error)
	// Accept runs the acceptance protocol: re-validate, accept the chosen
	// offer, decline pending siblings, create the job, lock the request.
	Accept(ctx context.Context, p AcceptParams) (*AcceptResult, error)
	// ExpireForRequest moves every pending offer on the request to expired.
	ExpireForRequest(ctx context.Context, requestID types.ID, at time.Time) error
	// ExpireStale moves pending offers past their window to expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const offerColumns = `
	id, offer_number, tow_request_id, provider_id,
	offer_type, offer_price, estimated_arrival, message,
	provider_lat, provider_lng, distance_to_pickup,
	status, decline_reason,
	expires_at, accepted_at, declined_at, created_at`

func (s *PGStore) Create(ctx context.Context, o *Offer) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var lat, lng *float64
	if o.ProviderPoint != nil {
		lat, lng = &o.ProviderPoint.Lat, &o.ProviderPoint.Lng
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO offers (
			id, offer_number, tow_request_id, provider_id,
			offer_type, offer_price, estimated_arrival, message,
			provider_lat, provider_lng, distance_to_pickup,
			status, decline_reason, expires_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		string(o.ID), o.OfferNumber, string(o.TowRequestID), string(o.ProviderID),
		string(o.Type), o.Price, o.EstimatedArrival, o.Message,
		lat, lng, o.DistanceToPickup,
		string(o.Status), o.DeclineReason, o.ExpiresAt, o.CreatedAt,
	); err != nil {
		return err
	}

	// Count and first-offer status flip ride in the same transaction so
	// offer_count always equals the number of offers ever created. The
	// status guard catches a Submit racing a concurrent acceptance: once
	// the request is locked to a job, the whole insert rolls back.
	tag, err := tx.Exec(ctx, `
		UPDATE tow_requests
		SET offer_count = offer_count + 1,
		    status = CASE WHEN status = 'open' THEN 'pending' ELSE status END,
		    updated_at = $1
		WHERE id = $2 AND status IN ('open', 'pending')`,
		o.CreatedAt, string(o.TowRequestID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: request no longer accepts offers", ErrAlreadyResolved)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Offer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, string(id))
	o, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *PGStore) ListByRequest(ctx context.Context, requestID types.ID) ([]*Offer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE tow_request_id = $1 ORDER BY created_at DESC`,
		string(requestID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGStore) Resolve(ctx context.Context, id types.ID, to Status, reason string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE offers
		SET status = $1, decline_reason = $2, declined_at = $3
		WHERE id = $4 AND status = 'pending'`,
		string(to), reason, at, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Accept(ctx context.Context, p AcceptParams) (*AcceptResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Row locks serialize concurrent acceptances on the same request;
	// the re-validation below decides the single winner.
	var reqStatus, customerEmail string
	err = tx.QueryRow(ctx, `
		SELECT status, customer_email FROM tow_requests
		WHERE id = $1 FOR UPDATE`,
		string(p.RequestID),
	).Scan(&reqStatus, &customerEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reqStatus != "open" && reqStatus != "pending" {
		return nil, ErrAlreadyResolved
	}

	var offerStatus, providerID string
	var offerExpiresAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT status, provider_id, expires_at FROM offers
		WHERE id = $1 AND tow_request_id = $2 FOR UPDATE`,
		string(p.OfferID), string(p.RequestID),
	).Scan(&offerStatus, &providerID, &offerExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if offerStatus != "pending" {
		return nil, ErrAlreadyResolved
	}
	if p.Now.After(offerExpiresAt) {
		return nil, ErrExpired
	}

	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'accepted', accepted_at = $1 WHERE id = $2`,
		p.Now, string(p.OfferID),
	); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE offers
		SET status = 'declined', decline_reason = $1, declined_at = $2
		WHERE tow_request_id = $3 AND status = 'pending'`,
		DeclineReasonOutbid, p.Now, string(p.RequestID),
	); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO jobs (
			id, job_number, tow_request_id, offer_id, provider_id, customer_email,
			status, agreed_price, platform_fee, provider_payout, payment_status,
			accepted_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,'accepted',$7,$8,$9,'pending',$10,$10,$10)`,
		string(p.JobID), p.JobNumber, string(p.RequestID), string(p.OfferID), providerID, customerEmail,
		p.Fee.TotalPrice, p.Fee.PlatformFee, p.Fee.ProviderPayout,
		p.Now,
	); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE tow_requests
		SET status = 'accepted', accepted_offer_id = $1, job_id = $2,
		    agreed_price = $3, platform_fee = $4, provider_payout = $5,
		    accepted_at = $6, updated_at = $6
		WHERE id = $7`,
		string(p.OfferID), string(p.JobID),
		p.Fee.TotalPrice, p.Fee.PlatformFee, p.Fee.ProviderPayout,
		p.Now, string(p.RequestID),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &AcceptResult{
		JobID:         p.JobID,
		ProviderID:    types.ID(providerID),
		CustomerEmail: customerEmail,
		Fee:           p.Fee,
	}, nil
}

func (s *PGStore) ExpireForRequest(ctx context.Context, requestID types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE offers SET status = 'expired', declined_at = $1
		WHERE tow_request_id = $2 AND status = 'pending'`,
		at, string(requestID),
	)
	return err
}

func (s *PGStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE offers SET status = 'expired', declined_at = $1
		WHERE status = 'pending' AND expires_at < $1`,
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

func scanOffer(row rowScanner) (*Offer, error) {
	var o Offer
	var lat, lng *float64
	err := row.Scan(
		&o.ID, &o.OfferNumber, &o.TowRequestID, &o.ProviderID,
		&o.Type, &o.Price, &o.EstimatedArrival, &o.Message,
		&lat, &lng, &o.DistanceToPickup,
		&o.Status, &o.DeclineReason,
		&o.ExpiresAt, &o.AcceptedAt, &o.DeclinedAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		o.ProviderPoint = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &o, nil
}
