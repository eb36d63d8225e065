package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"towlink/internal/observability"
	"towlink/internal/types"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrValidation   = errors.New("invalid job input")
	ErrInvalidState = errors.New("job not in a valid state for this operation")
	ErrAlreadyRated = errors.New("job already rated by this party")
)

// InvalidTransitionError reports a rejected status change together
// with what would have been legal, so providers with a stale view can
// resync instead of guessing.
type InvalidTransitionError struct {
	From      Status
	Requested Status
	Allowed   []Status
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("cannot transition from %s to %s: %s is terminal", e.From, e.Requested, e.From)
	}
	return fmt.Sprintf("cannot transition from %s to %s: allowed next is %s", e.From, e.Requested, e.Allowed[0])
}

// RequestSink is the slice of the request module the job lifecycle
// needs when a job reaches a terminal state.
type RequestSink interface {
	MarkCompleted(ctx context.Context, id types.ID, at time.Time) error
	MarkCancelled(ctx context.Context, id types.ID, at time.Time) error
}

// ProviderSink receives the stat and rating effects of completion.
type ProviderSink interface {
	IncrementStats(ctx context.Context, id types.ID, earningsDelta int64, at time.Time) error
	SetAverageRating(ctx context.Context, id types.ID, rating float64) error
}

// Settlement is notified after terminal transitions commit. The payout
// module implements it; it is injected late to keep the dependency
// one-directional.
type Settlement interface {
	OnJobCompleted(ctx context.Context, j *Job)
	OnJobCancelled(ctx context.Context, j *Job)
}

type Service struct {
	store      Store
	requests   RequestSink
	providers  ProviderSink
	settlement Settlement
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(store Store, requests RequestSink, providers ProviderSink, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		requests:  requests,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// SetSettlement wires the post-transition settlement hook. Must be
// called before the service handles traffic.
func (s *Service) SetSettlement(st Settlement) {
	s.settlement = st
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByProvider(ctx context.Context, providerID types.ID) ([]*Job, error) {
	return s.store.ListByProvider(ctx, providerID, 50)
}

// Advance moves the job one step along the fixed progression. Only the
// single next status is accepted; skipping stages or replaying a stage
// fails with an InvalidTransitionError that names the legal move.
func (s *Service) Advance(ctx context.Context, id types.ID, target Status) (*Job, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := checkTransition(j.Status, target); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var duration *int64
	if target == StatusCompleted && j.AcceptedAt != nil {
		minutes := int64(math.Round(now.Sub(*j.AcceptedAt).Minutes()))
		duration = &minutes
	}

	ok, err := s.store.Advance(ctx, id, j.Status, target, now, duration)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone moved the job first; report against the fresh state.
		fresh, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, checkTransition(fresh.Status, target)
	}

	if target == StatusCompleted {
		s.onCompleted(ctx, j, now)
	}
	return s.store.Get(ctx, id)
}

func checkTransition(from, target Status) error {
	next, ok := NextStatus(from)
	if !ok {
		return &InvalidTransitionError{From: from, Requested: target}
	}
	if next != target {
		return &InvalidTransitionError{From: from, Requested: target, Allowed: []Status{next}}
	}
	return nil
}

// onCompleted applies the side effects of completion. The status write
// already committed; failures here are logged, not unwound.
func (s *Service) onCompleted(ctx context.Context, j *Job, now time.Time) {
	if err := s.requests.MarkCompleted(ctx, j.TowRequestID, now); err != nil {
		s.logger.Error("mark request completed", "request_id", j.TowRequestID, "error", err)
	}
	if err := s.providers.IncrementStats(ctx, j.ProviderID, j.ProviderPayout, now); err != nil {
		s.logger.Error("increment provider stats", "provider_id", j.ProviderID, "error", err)
	}
	observability.JobsCompleted.Inc()

	if s.settlement != nil {
		fresh, err := s.store.Get(ctx, j.ID)
		if err != nil {
			s.logger.Error("reload job for settlement", "job_id", j.ID, "error", err)
			return
		}
		s.settlement.OnJobCompleted(ctx, fresh)
	}
}

// Rate records a party's score for a completed job. Each party writes
// at most once; a customer score also refreshes the provider's average.
func (s *Service) Rate(ctx context.Context, id types.ID, party Party, score int64, comment string) (*Job, error) {
	if party != PartyCustomer && party != PartyProvider {
		return nil, fmt.Errorf("%w: unknown rating party %q", ErrValidation, party)
	}
	if score < 1 || score > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: only completed jobs can be rated", ErrInvalidState)
	}

	ok, err := s.store.SetRating(ctx, id, party, score, comment, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRated
	}

	if party == PartyCustomer {
		if err := s.refreshProviderRating(ctx, j.ProviderID); err != nil {
			s.logger.Error("refresh provider rating", "provider_id", j.ProviderID, "error", err)
		}
	}
	return s.store.Get(ctx, id)
}

func (s *Service) refreshProviderRating(ctx context.Context, providerID types.ID) error {
	scores, err := s.store.CustomerRatings(ctx, providerID)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		return nil
	}
	var sum int64
	for _, sc := range scores {
		sum += sc
	}
	avg := math.Round(float64(sum)/float64(len(scores))*10) / 10
	return s.providers.SetAverageRating(ctx, providerID, avg)
}

// Cancel terminates an in-flight job. Any fee is a policy decision made
// by the caller and recorded as given.
func (s *Service) Cancel(ctx context.Context, id types.ID, by, reason, explanation string, fee *int64) (*Job, error) {
	if by == "" || reason == "" {
		return nil, fmt.Errorf("%w: cancelled_by and reason are required", ErrValidation)
	}

	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status == StatusCompleted || j.Status == StatusCancelled {
		return nil, fmt.Errorf("%w: job is already %s", ErrInvalidState, j.Status)
	}

	now := s.now().UTC()
	ok, err := s.store.Cancel(ctx, id, by, reason, explanation, fee, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job was resolved concurrently", ErrInvalidState)
	}

	if err := s.requests.MarkCancelled(ctx, j.TowRequestID, now); err != nil {
		s.logger.Error("mark request cancelled", "request_id", j.TowRequestID, "error", err)
	}

	if s.settlement != nil {
		fresh, err := s.store.Get(ctx, id)
		if err == nil {
			s.settlement.OnJobCancelled(ctx, fresh)
		}
	}
	return s.store.Get(ctx, id)
}
