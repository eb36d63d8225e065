package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"towlink/internal/fees"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/observability"
	"towlink/internal/types"
)

var (
	ErrNotFound        = errors.New("offer not found")
	ErrValidation      = errors.New("invalid offer")
	ErrInvalidState    = errors.New("offer state does not allow this operation")
	ErrExpired         = errors.New("deadline has passed")
	ErrAlreadyResolved = errors.New("already resolved by a concurrent operation")
	ErrNotVerified     = errors.New("provider must be verified to submit offers")
)

// RequestSource is the read access the engine needs into requests.
type RequestSource interface {
	Get(ctx context.Context, id types.ID) (*request.Request, error)
}

// ProviderSource is the read access the engine needs into providers.
type ProviderSource interface {
	Get(ctx context.Context, id types.ID) (*provider.Provider, error)
}

type Service struct {
	store     Store
	requests  RequestSource
	providers ProviderSource
}

func NewService(store Store, requests RequestSource, providers ProviderSource) *Service {
	return &Service{store: store, requests: requests, providers: providers}
}

type SubmitCommand struct {
	RequestID        types.ID
	ProviderID       types.ID
	Type             Type
	Price            int64
	EstimatedArrival int64
	Message          string
	ProviderPoint    *types.Point
	DistanceToPickup *float64
}

// Submit records a provider's response to an open or pending request.
// The first offer on a request flips it from open to pending.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Offer, error) {
	if cmd.Type != TypeAccept && cmd.Type != TypeCounter {
		return nil, fmt.Errorf("%w: unknown offer type %q", ErrValidation, cmd.Type)
	}
	if err := fees.ValidatePrice(cmd.Price); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cmd.EstimatedArrival < 1 {
		return nil, fmt.Errorf("%w: estimated arrival must be at least 1 minute", ErrValidation)
	}

	r, err := s.requests.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if r.Status != request.StatusOpen && r.Status != request.StatusPending {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidState, r.Status)
	}
	if r.Expired(now) {
		return nil, fmt.Errorf("%w: request expired at %s", ErrExpired, r.ExpiresAt.Format(time.RFC3339))
	}

	p, err := s.providers.Get(ctx, cmd.ProviderID)
	if err != nil {
		return nil, err
	}
	if p.VerificationStatus != provider.VerificationApproved {
		return nil, ErrNotVerified
	}

	o := &Offer{
		ID:               types.NewID(),
		OfferNumber:      types.NewOfferNumber(),
		TowRequestID:     cmd.RequestID,
		ProviderID:       cmd.ProviderID,
		Type:             cmd.Type,
		Price:            cmd.Price,
		EstimatedArrival: cmd.EstimatedArrival,
		Message:          cmd.Message,
		ProviderPoint:    cmd.ProviderPoint,
		DistanceToPickup: cmd.DistanceToPickup,
		Status:           StatusPending,
		ExpiresAt:        now.Add(Window),
		CreatedAt:        now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	observability.OffersCreated.Inc()
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Offer, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByRequest(ctx context.Context, requestID types.ID) ([]*Offer, error) {
	if _, err := s.requests.Get(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListByRequest(ctx, requestID)
}

type Decision string

const (
	DecisionAccept   Decision = "accept"
	DecisionDecline  Decision = "decline"
	DecisionWithdraw Decision = "withdraw"
)

// Resolve settles a pending offer. Accept routes through the full
// acceptance protocol; decline and withdraw are simple guarded moves.
func (s *Service) Resolve(ctx context.Context, id types.ID, decision Decision, reason string) (*Offer, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("%w: offer is %s", ErrInvalidState, o.Status)
	}
	if o.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: offer expired at %s", ErrExpired, o.ExpiresAt.Format(time.RFC3339))
	}

	switch decision {
	case DecisionAccept:
		if _, err := s.Accept(ctx, o.TowRequestID, id); err != nil {
			return nil, err
		}
	case DecisionDecline:
		if err := s.resolveTo(ctx, id, StatusDeclined, reason); err != nil {
			return nil, err
		}
	case DecisionWithdraw:
		if reason == "" {
			reason = "Withdrawn by provider"
		}
		if err := s.resolveTo(ctx, id, StatusWithdrawn, reason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}
	return s.store.Get(ctx, id)
}

func (s *Service) resolveTo(ctx context.Context, id types.ID, to Status, reason string) error {
	ok, err := s.store.Resolve(ctx, id, to, reason, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: offer was resolved concurrently", ErrAlreadyResolved)
	}
	return nil
}

// Accept runs the acceptance protocol against one chosen offer. Exactly
// one concurrent caller wins; everyone else gets ErrAlreadyResolved and
// no partial writes. On success the created job carries the fee split
// computed from the offer price.
func (s *Service) Accept(ctx context.Context, requestID, offerID types.ID) (*AcceptResult, error) {
	o, err := s.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.TowRequestID != requestID {
		return nil, fmt.Errorf("%w: offer does not belong to request", ErrValidation)
	}

	res, err := s.store.Accept(ctx, AcceptParams{
		RequestID: requestID,
		OfferID:   offerID,
		JobID:     types.NewID(),
		JobNumber: types.NewJobNumber(),
		Fee:       fees.Calculate(o.Price),
		Now:       time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	observability.OffersAccepted.Inc()
	return res, nil
}

// ExpireForRequest retires every pending offer on a cancelled request.
func (s *Service) ExpireForRequest(ctx context.Context, requestID types.ID) error {
	return s.store.ExpireForRequest(ctx, requestID, time.Now().UTC())
}

// ExpireStale is the periodic sweep closing offers past their window.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.SweepExpired.WithLabelValues("offer").Add(float64(n))
	}
	return n, nil
}
