// Package memstore is an in-memory implementation of every module
// store, sharing one lock so cross-table operations stay atomic. It
// backs tests and local development without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"towlink/internal/modules/job"
	"towlink/internal/modules/offer"
	"towlink/internal/modules/payout"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/types"
)

type MemStore struct {
	mu sync.Mutex

	requests  map[types.ID]*request.Request
	offers    map[types.ID]*offer.Offer
	jobs      map[types.ID]*job.Job
	providers map[types.ID]*provider.Provider
	payouts   map[types.ID]*payout.Payout
	processed map[string]time.Time
}

func New() *MemStore {
	return &MemStore{
		requests:  make(map[types.ID]*request.Request),
		offers:    make(map[types.ID]*offer.Offer),
		jobs:      make(map[types.ID]*job.Job),
		providers: make(map[types.ID]*provider.Provider),
		payouts:   make(map[types.ID]*payout.Payout),
		processed: make(map[string]time.Time),
	}
}

// Each module sees the shared store through its own facade, so one
// MemStore satisfies every Store interface despite the overlapping
// method names.
func (m *MemStore) Requests() *RequestStore   { return &RequestStore{m} }
func (m *MemStore) Offers() *OfferStore       { return &OfferStore{m} }
func (m *MemStore) Jobs() *JobStore           { return &JobStore{m} }
func (m *MemStore) Providers() *ProviderStore { return &ProviderStore{m} }
func (m *MemStore) Payouts() *PayoutStore     { return &PayoutStore{m} }

func cloneRequest(r *request.Request) *request.Request {
	c := *r
	return &c
}

func cloneOffer(o *offer.Offer) *offer.Offer {
	c := *o
	return &c
}

func cloneJob(j *job.Job) *job.Job {
	c := *j
	return &c
}

func cloneProvider(p *provider.Provider) *provider.Provider {
	c := *p
	return &c
}

func clonePayout(p *payout.Payout) *payout.Payout {
	c := *p
	return &c
}

// RequestStore implements request.Store.
type RequestStore struct{ m *MemStore }

func (s *RequestStore) Create(_ context.Context, r *request.Request) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *RequestStore) Get(_ context.Context, id types.ID) (*request.Request, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.requests[id]
	if !ok {
		return nil, request.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *RequestStore) ListOpen(_ context.Context, now time.Time) ([]*request.Request, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*request.Request
	for _, r := range s.m.requests {
		if r.Status == request.StatusOpen && r.ExpiresAt.After(now) {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > 50 {
		out = out[:50]
	}
	return out, nil
}

func (s *RequestStore) Cancel(_ context.Context, id types.ID, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.requests[id]
	if !ok || (r.Status != request.StatusOpen && r.Status != request.StatusPending) {
		return false, nil
	}
	r.Status = request.StatusCancelled
	r.UpdatedAt = at
	return true, nil
}

func (s *RequestStore) MarkCompleted(_ context.Context, id types.ID, at time.Time) error {
	return s.setStatus(id, request.StatusCompleted, at)
}

func (s *RequestStore) MarkCancelled(_ context.Context, id types.ID, at time.Time) error {
	return s.setStatus(id, request.StatusCancelled, at)
}

func (s *RequestStore) setStatus(id types.ID, st request.Status, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if r, ok := s.m.requests[id]; ok {
		r.Status = st
		r.UpdatedAt = at
	}
	return nil
}

func (s *RequestStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, r := range s.m.requests {
		if (r.Status == request.StatusOpen || r.Status == request.StatusPending) && now.After(r.ExpiresAt) {
			r.Status = request.StatusExpired
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// OfferStore implements offer.Store, including the atomic acceptance
// protocol under the shared lock.
type OfferStore struct{ m *MemStore }

func (s *OfferStore) Create(_ context.Context, o *offer.Offer) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.requests[o.TowRequestID]
	if !ok {
		return offer.ErrNotFound
	}
	// Re-checked under the lock: a concurrent acceptance may have locked
	// the request since the caller's validation.
	if r.Status != request.StatusOpen && r.Status != request.StatusPending {
		return offer.ErrAlreadyResolved
	}
	s.m.offers[o.ID] = cloneOffer(o)
	r.OfferCount++
	if r.Status == request.StatusOpen {
		r.Status = request.StatusPending
	}
	r.UpdatedAt = o.CreatedAt
	return nil
}

func (s *OfferStore) Get(_ context.Context, id types.ID) (*offer.Offer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	o, ok := s.m.offers[id]
	if !ok {
		return nil, offer.ErrNotFound
	}
	return cloneOffer(o), nil
}

func (s *OfferStore) ListByRequest(_ context.Context, requestID types.ID) ([]*offer.Offer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*offer.Offer
	for _, o := range s.m.offers {
		if o.TowRequestID == requestID {
			out = append(out, cloneOffer(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *OfferStore) Resolve(_ context.Context, id types.ID, to offer.Status, reason string, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	o, ok := s.m.offers[id]
	if !ok || o.Status != offer.StatusPending {
		return false, nil
	}
	o.Status = to
	o.DeclineReason = reason
	o.DeclinedAt = &at
	return true, nil
}

func (s *OfferStore) Accept(_ context.Context, p offer.AcceptParams) (*offer.AcceptResult, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	r, ok := s.m.requests[p.RequestID]
	if !ok {
		return nil, offer.ErrNotFound
	}
	if r.Status != request.StatusOpen && r.Status != request.StatusPending {
		return nil, offer.ErrAlreadyResolved
	}

	o, ok := s.m.offers[p.OfferID]
	if !ok || o.TowRequestID != p.RequestID {
		return nil, offer.ErrNotFound
	}
	if o.Status != offer.StatusPending {
		return nil, offer.ErrAlreadyResolved
	}
	if p.Now.After(o.ExpiresAt) {
		return nil, offer.ErrExpired
	}

	now := p.Now
	o.Status = offer.StatusAccepted
	o.AcceptedAt = &now

	for _, sibling := range s.m.offers {
		if sibling.TowRequestID == p.RequestID && sibling.Status == offer.StatusPending {
			sibling.Status = offer.StatusDeclined
			sibling.DeclineReason = offer.DeclineReasonOutbid
			at := now
			sibling.DeclinedAt = &at
		}
	}

	acceptedAt := now
	s.m.jobs[p.JobID] = &job.Job{
		ID:             p.JobID,
		JobNumber:      p.JobNumber,
		TowRequestID:   p.RequestID,
		OfferID:        p.OfferID,
		ProviderID:     o.ProviderID,
		CustomerEmail:  r.CustomerEmail,
		Status:         job.StatusAccepted,
		AgreedPrice:    p.Fee.TotalPrice,
		PlatformFee:    p.Fee.PlatformFee,
		ProviderPayout: p.Fee.ProviderPayout,
		PaymentStatus:  job.PaymentPending,
		AcceptedAt:     &acceptedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	agreed := p.Fee.TotalPrice
	platformFee := p.Fee.PlatformFee
	providerPayout := p.Fee.ProviderPayout
	r.Status = request.StatusAccepted
	r.AcceptedOfferID = &p.OfferID
	r.JobID = &p.JobID
	r.AgreedPrice = &agreed
	r.PlatformFee = &platformFee
	r.ProviderPayout = &providerPayout
	reqAccepted := now
	r.AcceptedAt = &reqAccepted
	r.UpdatedAt = now

	return &offer.AcceptResult{
		JobID:         p.JobID,
		ProviderID:    o.ProviderID,
		CustomerEmail: r.CustomerEmail,
		Fee:           p.Fee,
	}, nil
}

func (s *OfferStore) ExpireForRequest(_ context.Context, requestID types.ID, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, o := range s.m.offers {
		if o.TowRequestID == requestID && o.Status == offer.StatusPending {
			o.Status = offer.StatusExpired
			stamp := at
			o.DeclinedAt = &stamp
		}
	}
	return nil
}

func (s *OfferStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, o := range s.m.offers {
		if o.Status == offer.StatusPending && now.After(o.ExpiresAt) {
			o.Status = offer.StatusExpired
			stamp := now
			o.DeclinedAt = &stamp
			n++
		}
	}
	return n, nil
}

// JobStore implements job.Store.
type JobStore struct{ m *MemStore }

func (s *JobStore) Get(_ context.Context, id types.ID) (*job.Job, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	j, ok := s.m.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *JobStore) ListByProvider(_ context.Context, providerID types.ID, limit int) ([]*job.Job, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*job.Job
	for _, j := range s.m.jobs {
		if j.ProviderID == providerID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) Advance(_ context.Context, id types.ID, from, to job.Status, at time.Time, durationMinutes *int64) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	j, ok := s.m.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	job.StampStage(j, to, at)
	if durationMinutes != nil {
		d := *durationMinutes
		j.TotalDurationMinutes = &d
	}
	j.UpdatedAt = at
	return true, nil
}

func (s *JobStore) SetRating(_ context.Context, id types.ID, party job.Party, score int64, comment string, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	j, ok := s.m.jobs[id]
	if !ok {
		return false, nil
	}
	switch party {
	case job.PartyCustomer:
		if j.CustomerRating != nil {
			return false, nil
		}
		j.CustomerRating = &score
		j.CustomerComment = comment
		j.CustomerRatedAt = &at
	case job.PartyProvider:
		if j.ProviderRating != nil {
			return false, nil
		}
		j.ProviderRating = &score
		j.ProviderComment = comment
		j.ProviderRatedAt = &at
	default:
		return false, nil
	}
	j.UpdatedAt = at
	return true, nil
}

func (s *JobStore) CustomerRatings(_ context.Context, providerID types.ID) ([]int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var scores []int64
	for _, j := range s.m.jobs {
		if j.ProviderID == providerID && j.CustomerRating != nil {
			scores = append(scores, *j.CustomerRating)
		}
	}
	return scores, nil
}

func (s *JobStore) SetPaymentRef(_ context.Context, id types.ID, ref string, status job.PaymentStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if j, ok := s.m.jobs[id]; ok {
		j.PaymentRef = ref
		j.PaymentStatus = status
	}
	return nil
}

func (s *JobStore) SetPaymentStatus(_ context.Context, id types.ID, status job.PaymentStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if j, ok := s.m.jobs[id]; ok {
		j.PaymentStatus = status
	}
	return nil
}

func (s *JobStore) Cancel(_ context.Context, id types.ID, by, reason, explanation string, fee *int64, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	j, ok := s.m.jobs[id]
	if !ok || j.Status == job.StatusCompleted || j.Status == job.StatusCancelled {
		return false, nil
	}
	j.Status = job.StatusCancelled
	j.CancelledBy = by
	j.CancellationReason = reason
	j.CancellationExplanation = explanation
	if fee != nil {
		f := *fee
		j.CancellationFee = &f
	}
	stamp := at
	j.CancelledAt = &stamp
	j.UpdatedAt = at
	return true, nil
}

// ProviderStore implements provider.Store.
type ProviderStore struct{ m *MemStore }

func (s *ProviderStore) Create(_ context.Context, p *provider.Provider) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.providers[p.ID] = cloneProvider(p)
	return nil
}

func (s *ProviderStore) Get(_ context.Context, id types.ID) (*provider.Provider, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.providers[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return cloneProvider(p), nil
}

func (s *ProviderStore) GetByStripeAccount(_ context.Context, accountID string) (*provider.Provider, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, p := range s.m.providers {
		if p.StripeAccountID == accountID {
			return cloneProvider(p), nil
		}
	}
	return nil, provider.ErrNotFound
}

func (s *ProviderStore) UpdateLocation(_ context.Context, id types.ID, loc types.Point, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.providers[id]; ok {
		l := loc
		p.Location = &l
		p.LastLocationUpdate = &at
		p.UpdatedAt = at
	}
	return nil
}

func (s *ProviderStore) SetOnline(_ context.Context, id types.ID, online bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.providers[id]; ok {
		p.IsOnline = online
	}
	return nil
}

func (s *ProviderStore) IncrementStats(_ context.Context, id types.ID, earningsDelta int64, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.providers[id]; ok {
		p.JobsCompleted++
		p.TotalEarnings += earningsDelta
		stamp := at
		p.LastJobAt = &stamp
		p.UpdatedAt = at
	}
	return nil
}

func (s *ProviderStore) SetAverageRating(_ context.Context, id types.ID, avg float64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.providers[id]; ok {
		p.AverageRating = &avg
	}
	return nil
}

func (s *ProviderStore) SetStripeAccount(_ context.Context, id types.ID, accountID string, status provider.OnboardingStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if p, ok := s.m.providers[id]; ok {
		p.StripeAccountID = accountID
		p.OnboardingStatus = status
	}
	return nil
}

func (s *ProviderStore) SetOnboarding(_ context.Context, accountID string, status provider.OnboardingStatus, instantPayouts bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, p := range s.m.providers {
		if p.StripeAccountID == accountID {
			p.OnboardingStatus = status
			p.InstantPayouts = instantPayouts
			return nil
		}
	}
	return provider.ErrNotFound
}

// PayoutStore implements payout.Store.
type PayoutStore struct{ m *MemStore }

func (s *PayoutStore) Create(_ context.Context, p *payout.Payout) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.payouts[p.ID] = clonePayout(p)
	return nil
}

func (s *PayoutStore) ListByProvider(_ context.Context, providerID types.ID, limit int) ([]*payout.Payout, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []*payout.Payout
	for _, p := range s.m.payouts {
		if p.ProviderID == providerID {
			out = append(out, clonePayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PayoutStore) MarkEventProcessed(_ context.Context, eventID string, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, seen := s.m.processed[eventID]; seen {
		return false, nil
	}
	s.m.processed[eventID] = at
	return true, nil
}

func (s *PayoutStore) UnmarkEvent(_ context.Context, eventID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.processed, eventID)
	return nil
}
