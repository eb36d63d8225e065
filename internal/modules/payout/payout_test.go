package payout_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"towlink/internal/modules/job"
	"towlink/internal/modules/offer"
	"towlink/internal/modules/payout"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/payments"
	"towlink/internal/store/memstore"
	"towlink/internal/types"
)

// fakePayments scripts processor behavior per call.
type fakePayments struct {
	holdErr     error
	captureErr  error
	transferErr error

	holds     int
	captures  int
	cancels   int
	transfers int

	lastTransferAmount  int64
	lastTransferAccount string
}

func (f *fakePayments) Hold(_ context.Context, _ int64, _ map[string]string) (string, error) {
	f.holds++
	if f.holdErr != nil {
		return "", f.holdErr
	}
	return fmt.Sprintf("pi_%d", f.holds), nil
}

func (f *fakePayments) Capture(_ context.Context, _ string) error {
	f.captures++
	return f.captureErr
}

func (f *fakePayments) CancelHold(_ context.Context, _ string) error {
	f.cancels++
	return nil
}

func (f *fakePayments) Transfer(_ context.Context, amount int64, accountID string, _ map[string]string) (string, error) {
	f.transfers++
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.lastTransferAmount = amount
	f.lastTransferAccount = accountID
	return fmt.Sprintf("tr_%d", f.transfers), nil
}

func (f *fakePayments) CreateAccount(_ context.Context, _, _ string) (string, error) {
	return "acct_fake", nil
}

func (f *fakePayments) OnboardingLink(_ context.Context, _, _ string) (string, error) {
	return "https://connect.example.com/onboard", nil
}

func (f *fakePayments) AccountStatus(_ context.Context, _ string) (payments.AccountCapabilities, error) {
	return payments.AccountCapabilities{}, nil
}

type fixture struct {
	ms       *memstore.MemStore
	pay      *fakePayments
	svc      *payout.Service
	jobs     *job.Service
	requests *request.Service
	offers   *offer.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := memstore.New()
	logger := slog.New(slog.DiscardHandler)
	pay := &fakePayments{}
	return &fixture{
		ms:       ms,
		pay:      pay,
		svc:      payout.NewService(ms.Payouts(), ms.Jobs(), ms.Providers(), pay, logger),
		jobs:     job.NewService(ms.Jobs(), ms.Requests(), ms.Providers(), logger),
		requests: request.NewService(ms.Requests(), nil, nil),
		offers:   offer.NewService(ms.Offers(), ms.Requests(), ms.Providers()),
	}
}

// seedJob builds an accepted job whose provider has a connected payout
// account with instant payouts enabled or not.
func (f *fixture) seedJob(t *testing.T, instant bool) (*job.Job, *provider.Provider) {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC()
	p := &provider.Provider{
		ID:                 types.NewID(),
		Email:              "tow@example.com",
		Name:               "Tow Co",
		VerificationStatus: provider.VerificationApproved,
		StripeAccountID:    "acct_123",
		InstantPayouts:     instant,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := f.ms.Providers().Create(ctx, p); err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	r, err := f.requests.Submit(ctx, request.SubmitCommand{
		CustomerEmail: "sam@example.com",
		CustomerName:  "Sam",
		Pickup:        request.Address{Street: "100 Main St", City: "Austin", State: "TX", Zip: "78701"},
		Dropoff:       request.Address{Street: "500 Oak Ave", City: "Austin", State: "TX", Zip: "78704"},
		Vehicle:       request.Vehicle{Make: "Honda", Model: "Civic"},
		OfferedPrice:  12000,
		Urgency:       request.UrgencyASAP,
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	o, err := f.offers.Submit(ctx, offer.SubmitCommand{
		RequestID:        r.ID,
		ProviderID:       p.ID,
		Type:             offer.TypeAccept,
		Price:            12000,
		EstimatedArrival: 25,
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
	return j, p
}

func TestAuthorizeJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, _ := f.seedJob(t, false)

	if err := f.svc.AuthorizeJob(ctx, j); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	got, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentRef == "" {
		t.Fatal("payment ref not recorded")
	}
	if got.PaymentStatus != job.PaymentAuthorized {
		t.Fatalf("payment status = %s", got.PaymentStatus)
	}

	f.pay.holdErr = errors.New("card declined")
	if err := f.svc.AuthorizeJob(ctx, j); err == nil {
		t.Fatal("expected hold error to surface")
	}
}

func TestPaymentSucceededTransfersPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, p := f.seedJob(t, true)

	err := f.svc.HandleEvent(ctx, payments.Event{
		ID:    "evt_1",
		Type:  payments.EventPaymentSucceeded,
		JobID: string(j.ID),
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentStatus != job.PaymentTransferred {
		t.Fatalf("payment status = %s, want transferred", got.PaymentStatus)
	}
	if f.pay.lastTransferAmount != j.ProviderPayout {
		t.Fatalf("transferred %d, want %d", f.pay.lastTransferAmount, j.ProviderPayout)
	}
	if f.pay.lastTransferAccount != p.StripeAccountID {
		t.Fatalf("transfer account = %s", f.pay.lastTransferAccount)
	}

	rows, err := f.svc.ListByProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("payout rows = %d, want 1", len(rows))
	}
	po := rows[0]
	if po.Status != payout.StatusCompleted || po.Method != payout.MethodInstant {
		t.Fatalf("payout = %s/%s", po.Status, po.Method)
	}
	if po.Amount != j.ProviderPayout || po.TransferRef == "" {
		t.Fatalf("payout row wrong: %+v", po)
	}
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, p := f.seedJob(t, false)

	ev := payments.Event{ID: "evt_dup", Type: payments.EventPaymentSucceeded, JobID: string(j.ID)}
	for i := 0; i < 3; i++ {
		if err := f.svc.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	if f.pay.transfers != 1 {
		t.Fatalf("transfers = %d, want 1", f.pay.transfers)
	}
	rows, err := f.svc.ListByProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("payout rows = %d, want 1", len(rows))
	}
	if rows[0].Method != payout.MethodStandard {
		t.Fatalf("method = %s, want standard", rows[0].Method)
	}
}

func TestTransferFailureLeavesJobCaptured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, p := f.seedJob(t, false)
	f.pay.transferErr = errors.New("destination account inactive")

	err := f.svc.HandleEvent(ctx, payments.Event{
		ID:    "evt_2",
		Type:  payments.EventPaymentSucceeded,
		JobID: string(j.ID),
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentStatus != job.PaymentCaptured {
		t.Fatalf("payment status = %s, want captured", got.PaymentStatus)
	}

	rows, err := f.svc.ListByProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("payout rows = %d, want 1", len(rows))
	}
	if rows[0].Status != payout.StatusFailed || rows[0].FailureReason == "" {
		t.Fatalf("payout row = %+v", rows[0])
	}
}

func TestPaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, p := f.seedJob(t, false)

	err := f.svc.HandleEvent(ctx, payments.Event{
		ID:    "evt_3",
		Type:  payments.EventPaymentFailed,
		JobID: string(j.ID),
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentStatus != job.PaymentFailed {
		t.Fatalf("payment status = %s, want failed", got.PaymentStatus)
	}
	rows, err := f.svc.ListByProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("payout rows = %d, want none", len(rows))
	}
}

// flakyProviders fails a set number of lookups before recovering, the
// way a transient database error would.
type flakyProviders struct {
	inner    *memstore.ProviderStore
	failures int
}

func (f *flakyProviders) Get(ctx context.Context, id types.ID) (*provider.Provider, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("provider lookup timeout")
	}
	return f.inner.Get(ctx, id)
}

func (f *flakyProviders) GetByStripeAccount(ctx context.Context, accountID string) (*provider.Provider, error) {
	return f.inner.GetByStripeAccount(ctx, accountID)
}

func (f *flakyProviders) SetOnboarding(ctx context.Context, accountID string, status provider.OnboardingStatus, instantPayouts bool) error {
	return f.inner.SetOnboarding(ctx, accountID, status, instantPayouts)
}

func TestEventReappliedAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, p := f.seedJob(t, false)

	flaky := &flakyProviders{inner: f.ms.Providers(), failures: 1}
	svc := payout.NewService(f.ms.Payouts(), f.ms.Jobs(), flaky, f.pay, slog.New(slog.DiscardHandler))

	ev := payments.Event{ID: "evt_retry", Type: payments.EventPaymentSucceeded, JobID: string(j.ID)}

	// First delivery dies on the provider lookup before any transfer.
	if err := svc.HandleEvent(ctx, ev); err == nil {
		t.Fatal("expected first delivery to fail")
	}
	if f.pay.transfers != 0 {
		t.Fatalf("transfers after failed delivery = %d, want 0", f.pay.transfers)
	}

	// The redelivery is treated as fresh and completes the payout.
	if err := svc.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if f.pay.transfers != 1 {
		t.Fatalf("transfers = %d, want 1", f.pay.transfers)
	}
	got, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentStatus != job.PaymentTransferred {
		t.Fatalf("payment status = %s, want transferred", got.PaymentStatus)
	}
	rows, err := svc.ListByProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != payout.StatusCompleted {
		t.Fatalf("payout rows = %+v, want one completed", rows)
	}

	// A third delivery is recognized as a duplicate.
	if err := svc.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if f.pay.transfers != 1 {
		t.Fatalf("transfers after duplicate = %d, want 1", f.pay.transfers)
	}
}

func TestAccountUpdated(t *testing.T) {
	cases := []struct {
		name        string
		caps        payments.AccountCapabilities
		wantStatus  provider.OnboardingStatus
		wantInstant bool
	}{
		{
			name:        "fully enabled",
			caps:        payments.AccountCapabilities{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true},
			wantStatus:  provider.OnboardingCompleted,
			wantInstant: true,
		},
		{
			name:       "details only",
			caps:       payments.AccountCapabilities{DetailsSubmitted: true},
			wantStatus: provider.OnboardingRestricted,
		},
		{
			name:       "nothing yet",
			caps:       payments.AccountCapabilities{},
			wantStatus: provider.OnboardingInProgress,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, p := f.seedJob(t, false)

			err := f.svc.HandleEvent(ctx, payments.Event{
				ID:        "evt_acct_" + tc.name,
				Type:      payments.EventAccountUpdated,
				AccountID: p.StripeAccountID,
				Account:   tc.caps,
			})
			if err != nil {
				t.Fatalf("handle event: %v", err)
			}

			got, err := f.ms.Providers().Get(ctx, p.ID)
			if err != nil {
				t.Fatalf("get provider: %v", err)
			}
			if got.OnboardingStatus != tc.wantStatus {
				t.Fatalf("onboarding = %s, want %s", got.OnboardingStatus, tc.wantStatus)
			}
			if got.InstantPayouts != tc.wantInstant {
				t.Fatalf("instant payouts = %v, want %v", got.InstantPayouts, tc.wantInstant)
			}
		})
	}
}

func TestAccountUpdatedUnknownAccount(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleEvent(context.Background(), payments.Event{
		ID:        "evt_unknown",
		Type:      payments.EventAccountUpdated,
		AccountID: "acct_nobody",
		Account:   payments.AccountCapabilities{DetailsSubmitted: true},
	})
	if err != nil {
		t.Fatalf("unknown account should not error: %v", err)
	}
}

func TestOnJobCancelledReleasesHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j, _ := f.seedJob(t, false)

	if err := f.svc.AuthorizeJob(ctx, j); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	held, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	f.svc.OnJobCancelled(ctx, held)
	if f.pay.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", f.pay.cancels)
	}
	got, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentStatus != job.PaymentRefunded {
		t.Fatalf("payment status = %s, want refunded", got.PaymentStatus)
	}

	// A job without an authorized hold is left alone.
	f.svc.OnJobCancelled(ctx, got)
	if f.pay.cancels != 1 {
		t.Fatalf("cancels = %d after second call, want 1", f.pay.cancels)
	}
}
