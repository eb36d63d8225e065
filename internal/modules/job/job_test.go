package job_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"towlink/internal/modules/job"
	"towlink/internal/modules/offer"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/store/memstore"
	"towlink/internal/types"
)

type fixture struct {
	ms       *memstore.MemStore
	requests *request.Service
	offers   *offer.Service
	jobs     *job.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := memstore.New()
	logger := slog.New(slog.DiscardHandler)
	return &fixture{
		ms:       ms,
		requests: request.NewService(ms.Requests(), nil, nil),
		offers:   offer.NewService(ms.Offers(), ms.Requests(), ms.Providers()),
		jobs:     job.NewService(ms.Jobs(), ms.Requests(), ms.Providers(), logger),
	}
}

func (f *fixture) seedProvider(t *testing.T) types.ID {
	t.Helper()
	now := time.Now().UTC()
	p := &provider.Provider{
		ID:                 types.NewID(),
		Email:              "tow@example.com",
		Name:               "Tow Co",
		VerificationStatus: provider.VerificationApproved,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := f.ms.Providers().Create(context.Background(), p); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return p.ID
}

// seedJob drives a request through offer acceptance and returns the
// resulting job and its provider.
func (f *fixture) seedJob(t *testing.T, price int64) (*job.Job, types.ID) {
	t.Helper()
	providerID := f.seedProvider(t)
	return f.seedJobFor(t, providerID, price), providerID
}

func (f *fixture) seedJobFor(t *testing.T, providerID types.ID, price int64) *job.Job {
	t.Helper()
	ctx := context.Background()

	r, err := f.requests.Submit(ctx, request.SubmitCommand{
		CustomerEmail: "sam@example.com",
		CustomerName:  "Sam",
		Pickup:        request.Address{Street: "100 Main St", City: "Austin", State: "TX", Zip: "78701"},
		Dropoff:       request.Address{Street: "500 Oak Ave", City: "Austin", State: "TX", Zip: "78704"},
		Vehicle:       request.Vehicle{Make: "Honda", Model: "Civic"},
		OfferedPrice:  price,
		Urgency:       request.UrgencyASAP,
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}

	o, err := f.offers.Submit(ctx, offer.SubmitCommand{
		RequestID:        r.ID,
		ProviderID:       providerID,
		Type:             offer.TypeAccept,
		Price:            price,
		EstimatedArrival: 20,
	})
	if err != nil {
		t.Fatalf("seed offer: %v", err)
	}

	res, err := f.offers.Accept(ctx, r.ID, o.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	j, err := f.jobs.Get(ctx, res.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

var fullChain = []job.Status{
	job.StatusEnRoute,
	job.StatusAtPickup,
	job.StatusLoading,
	job.StatusTransporting,
	job.StatusAtDropoff,
	job.StatusCompleted,
}

func TestAdvanceFullChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, providerID := f.seedJob(t, 5000)

	for _, next := range fullChain {
		got, err := f.jobs.Advance(ctx, j.ID, next)
		if err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		if got.Status != next {
			t.Fatalf("status = %s, want %s", got.Status, next)
		}
	}

	final, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for name, ts := range map[string]*time.Time{
		"en_route_at":  final.EnRouteAt,
		"arrived_at":   final.ArrivedAt,
		"loaded_at":    final.LoadedAt,
		"departed_at":  final.DepartedAt,
		"delivered_at": final.DeliveredAt,
		"completed_at": final.CompletedAt,
	} {
		if ts == nil {
			t.Fatalf("%s not stamped", name)
		}
	}
	if final.TotalDurationMinutes == nil {
		t.Fatal("expected a total duration")
	}

	// Completion flows through to the request and the provider's stats.
	r, err := f.requests.Get(ctx, final.TowRequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if r.Status != request.StatusCompleted {
		t.Fatalf("request status = %s", r.Status)
	}
	p, err := f.ms.Providers().Get(ctx, providerID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if p.JobsCompleted != 1 {
		t.Fatalf("jobs completed = %d", p.JobsCompleted)
	}
	if p.TotalEarnings != final.ProviderPayout {
		t.Fatalf("earnings = %d, want %d", p.TotalEarnings, final.ProviderPayout)
	}
}

func TestAdvanceRejectsSkippedStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, _ := f.seedJob(t, 5000)

	_, err := f.jobs.Advance(ctx, j.ID, job.StatusTransporting)
	var transition *job.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transition.From != job.StatusAccepted || len(transition.Allowed) != 1 || transition.Allowed[0] != job.StatusEnRoute {
		t.Fatalf("unexpected transition error: %+v", transition)
	}
}

func TestAdvancePastCompletedFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, _ := f.seedJob(t, 5000)
	for _, next := range fullChain {
		if _, err := f.jobs.Advance(ctx, j.ID, next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}

	_, err := f.jobs.Advance(ctx, j.ID, job.StatusEnRoute)
	var transition *job.InvalidTransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if len(transition.Allowed) != 0 {
		t.Fatalf("completed should be terminal, allowed = %v", transition.Allowed)
	}
}

func TestRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, providerID := f.seedJob(t, 5000)

	// Rating before completion is rejected.
	if _, err := f.jobs.Rate(ctx, j.ID, job.PartyCustomer, 5, "great"); !errors.Is(err, job.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	for _, next := range fullChain {
		if _, err := f.jobs.Advance(ctx, j.ID, next); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	if _, err := f.jobs.Rate(ctx, j.ID, job.PartyCustomer, 0, ""); !errors.Is(err, job.ErrValidation) {
		t.Fatalf("expected ErrValidation for score 0, got %v", err)
	}

	rated, err := f.jobs.Rate(ctx, j.ID, job.PartyCustomer, 4, "solid work")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rated.CustomerRating == nil || *rated.CustomerRating != 4 {
		t.Fatalf("customer rating not recorded: %+v", rated.CustomerRating)
	}

	// Each party writes once.
	if _, err := f.jobs.Rate(ctx, j.ID, job.PartyCustomer, 5, "changed my mind"); !errors.Is(err, job.ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	if _, err := f.jobs.Rate(ctx, j.ID, job.PartyProvider, 5, "good customer"); err != nil {
		t.Fatalf("provider rate: %v", err)
	}

	// Customer score refreshed the provider average.
	p, err := f.ms.Providers().Get(ctx, providerID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if p.AverageRating == nil || *p.AverageRating != 4.0 {
		t.Fatalf("average rating = %+v, want 4.0", p.AverageRating)
	}
}

func TestProviderAverageRoundsToOneDecimal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	providerID := f.seedProvider(t)
	for _, score := range []int64{5, 4, 4} {
		j := f.seedJobFor(t, providerID, 5000)
		for _, next := range fullChain {
			if _, err := f.jobs.Advance(ctx, j.ID, next); err != nil {
				t.Fatalf("advance: %v", err)
			}
		}
		if _, err := f.jobs.Rate(ctx, j.ID, job.PartyCustomer, score, ""); err != nil {
			t.Fatalf("rate: %v", err)
		}
	}

	// mean(5, 4, 4) = 4.333..., stored as 4.3.
	p, err := f.ms.Providers().Get(ctx, providerID)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if p.AverageRating == nil {
		t.Fatal("expected an average rating")
	}
	if math.Abs(*p.AverageRating-4.3) > 1e-9 {
		t.Fatalf("average = %v, want 4.3", *p.AverageRating)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, _ := f.seedJob(t, 5000)

	if _, err := f.jobs.Advance(ctx, j.ID, job.StatusEnRoute); err != nil {
		t.Fatalf("advance: %v", err)
	}

	fee := int64(1000)
	got, err := f.jobs.Cancel(ctx, j.ID, "customer", "no longer needed", "found a friend with a truck", &fee)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if got.CancelledBy != "customer" || got.CancellationFee == nil || *got.CancellationFee != 1000 {
		t.Fatalf("cancellation metadata wrong: %+v", got)
	}

	// The parent request follows.
	r, err := f.requests.Get(ctx, got.TowRequestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if r.Status != request.StatusCancelled {
		t.Fatalf("request status = %s", r.Status)
	}

	// Terminal: no advancing, no second cancel.
	if _, err := f.jobs.Advance(ctx, j.ID, job.StatusAtPickup); err == nil {
		t.Fatal("expected error advancing a cancelled job")
	}
	if _, err := f.jobs.Cancel(ctx, j.ID, "provider", "late", "", nil); !errors.Is(err, job.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// Completed jobs cannot be cancelled.
	j2, _ := f.seedJob(t, 5000)
	for _, next := range fullChain {
		if _, err := f.jobs.Advance(ctx, j2.ID, next); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if _, err := f.jobs.Cancel(ctx, j2.ID, "customer", "oops", "", nil); !errors.Is(err, job.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
