package payout

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"towlink/internal/types"
)

type Store interface {
	Create(ctx context.Context, p *Payout) error
	ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*Payout, error)

	// MarkEventProcessed records a processor event id exactly once.
	// False means the event was seen before and must not be re-applied.
	MarkEventProcessed(ctx context.Context, eventID string, at time.Time) (bool, error)
	// UnmarkEvent forgets a recorded event id so the processor's
	// redelivery is treated as fresh.
	UnmarkEvent(ctx context.Context, eventID string) error
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Create(ctx context.Context, p *Payout) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payouts (
			id, job_id, provider_id, amount, method, status,
			transfer_ref, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.JobID, p.ProviderID, p.Amount, string(p.Method), string(p.Status),
		p.TransferRef, p.FailureReason, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PGStore) ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*Payout, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, provider_id, amount, method, status,
		       transfer_ref, failure_reason, created_at, updated_at
		FROM payouts
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []*Payout
	for rows.Next() {
		var p Payout
		if err := rows.Scan(
			&p.ID, &p.JobID, &p.ProviderID, &p.Amount, &p.Method, &p.Status,
			&p.TransferRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		payouts = append(payouts, &p)
	}
	return payouts, rows.Err()
}

func (s *PGStore) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2)`,
		eventID, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PGStore) UnmarkEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID)
	return err
}
