package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"towlink/internal/modules/job"
	"towlink/internal/modules/provider"
	"towlink/internal/observability"
	"towlink/internal/payments"
	"towlink/internal/types"
)

var ErrUnknownEvent = errors.New("unhandled payment event type")

// JobSink is the slice of the job module the orchestrator writes to.
type JobSink interface {
	Get(ctx context.Context, id types.ID) (*job.Job, error)
	SetPaymentRef(ctx context.Context, id types.ID, ref string, status job.PaymentStatus) error
	SetPaymentStatus(ctx context.Context, id types.ID, status job.PaymentStatus) error
}

// ProviderSource resolves providers and records onboarding progress.
type ProviderSource interface {
	Get(ctx context.Context, id types.ID) (*provider.Provider, error)
	GetByStripeAccount(ctx context.Context, accountID string) (*provider.Provider, error)
	SetOnboarding(ctx context.Context, accountID string, status provider.OnboardingStatus, instantPayouts bool) error
}

// Service drives the capture/transfer flow. Authorization happens at
// acceptance, capture at completion, and the transfer only after the
// processor confirms the capture through a webhook.
type Service struct {
	store     Store
	jobs      JobSink
	providers ProviderSource
	payments  payments.Client
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, jobs JobSink, providers ProviderSource, pay payments.Client, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		jobs:      jobs,
		providers: providers,
		payments:  pay,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) ListByProvider(ctx context.Context, providerID types.ID) ([]*Payout, error) {
	return s.store.ListByProvider(ctx, providerID, 50)
}

// AuthorizeJob places a manual-capture hold for the agreed price right
// after acceptance. The customer is not charged until completion.
func (s *Service) AuthorizeJob(ctx context.Context, j *job.Job) error {
	ref, err := s.payments.Hold(ctx, j.AgreedPrice, map[string]string{
		"job_id":     string(j.ID),
		"job_number": j.JobNumber,
	})
	if err != nil {
		return fmt.Errorf("authorize job %s: %w", j.JobNumber, err)
	}
	return s.jobs.SetPaymentRef(ctx, j.ID, ref, job.PaymentAuthorized)
}

// OnJobCompleted captures the hold. The transfer to the provider waits
// for the processor's success webhook.
func (s *Service) OnJobCompleted(ctx context.Context, j *job.Job) {
	if j.PaymentRef == "" {
		s.logger.Warn("completed job has no payment hold", "job_id", j.ID)
		return
	}
	if err := s.payments.Capture(ctx, j.PaymentRef); err != nil {
		s.logger.Error("capture payment", "job_id", j.ID, "payment_ref", j.PaymentRef, "error", err)
	}
}

// OnJobCancelled releases an uncaptured hold so the customer is never
// charged for a job that did not happen.
func (s *Service) OnJobCancelled(ctx context.Context, j *job.Job) {
	if j.PaymentRef == "" || j.PaymentStatus != job.PaymentAuthorized {
		return
	}
	if err := s.payments.CancelHold(ctx, j.PaymentRef); err != nil {
		s.logger.Error("release payment hold", "job_id", j.ID, "payment_ref", j.PaymentRef, "error", err)
		return
	}
	if err := s.jobs.SetPaymentStatus(ctx, j.ID, job.PaymentRefunded); err != nil {
		s.logger.Error("mark payment refunded", "job_id", j.ID, "error", err)
	}
}

// HandleEvent applies one verified processor event. Events are recorded
// before their effects run, so redelivery is a no-op regardless of how
// many times the processor retries. A handler error reopens the record,
// letting the redelivery behind the non-2xx response re-apply the
// event; handlers must only fail before any irreversible effect.
func (s *Service) HandleEvent(ctx context.Context, ev payments.Event) error {
	fresh, err := s.store.MarkEventProcessed(ctx, ev.ID, s.now().UTC())
	if err != nil {
		return err
	}
	if !fresh {
		observability.WebhookEvents.WithLabelValues(string(ev.Type), "duplicate").Inc()
		s.logger.Info("skipping already processed event", "event_id", ev.ID, "type", ev.Type)
		return nil
	}

	switch ev.Type {
	case payments.EventPaymentSucceeded:
		err = s.onPaymentSucceeded(ctx, ev)
	case payments.EventPaymentFailed:
		err = s.onPaymentFailed(ctx, ev)
	case payments.EventAccountUpdated:
		err = s.onAccountUpdated(ctx, ev)
	default:
		observability.WebhookEvents.WithLabelValues(string(ev.Type), "ignored").Inc()
		s.logger.Info("ignoring payment event", "event_id", ev.ID, "type", ev.Type)
		return nil
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if uerr := s.store.UnmarkEvent(ctx, ev.ID); uerr != nil {
			s.logger.Error("reopen failed event", "event_id", ev.ID, "error", uerr)
		}
	}
	observability.WebhookEvents.WithLabelValues(string(ev.Type), outcome).Inc()
	return err
}

// onPaymentSucceeded marks the capture and pays the provider. A failed
// transfer leaves the job captured with a failed ledger row; the money
// stays on the platform until the transfer is retried.
func (s *Service) onPaymentSucceeded(ctx context.Context, ev payments.Event) error {
	if ev.JobID == "" {
		s.logger.Warn("payment success event without job reference", "event_id", ev.ID)
		return nil
	}
	j, err := s.jobs.Get(ctx, types.ID(ev.JobID))
	if err != nil {
		return fmt.Errorf("resolve job for event %s: %w", ev.ID, err)
	}

	if err := s.jobs.SetPaymentStatus(ctx, j.ID, job.PaymentCaptured); err != nil {
		return err
	}

	prov, err := s.providers.Get(ctx, j.ProviderID)
	if err != nil {
		return fmt.Errorf("resolve provider for job %s: %w", j.JobNumber, err)
	}

	method := MethodStandard
	if prov.InstantPayouts {
		method = MethodInstant
	}

	now := s.now().UTC()
	transferRef, err := s.payments.Transfer(ctx, j.ProviderPayout, prov.StripeAccountID, map[string]string{
		"job_id":     string(j.ID),
		"job_number": j.JobNumber,
	})
	if err != nil {
		s.logger.Error("transfer to provider", "job_id", j.ID, "provider_id", prov.ID, "error", err)
		observability.PayoutsRecorded.WithLabelValues(string(StatusFailed)).Inc()
		return s.store.Create(ctx, &Payout{
			ID:            types.NewID(),
			JobID:         j.ID,
			ProviderID:    prov.ID,
			Amount:        j.ProviderPayout,
			Method:        method,
			Status:        StatusFailed,
			FailureReason: err.Error(),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	// Past this point the money has moved. Bookkeeping failures are
	// logged rather than returned: replaying the event would transfer
	// the payout a second time.
	if err := s.jobs.SetPaymentStatus(ctx, j.ID, job.PaymentTransferred); err != nil {
		s.logger.Error("mark payment transferred", "job_id", j.ID, "error", err)
	}
	observability.PayoutsRecorded.WithLabelValues(string(StatusCompleted)).Inc()
	if err := s.store.Create(ctx, &Payout{
		ID:          types.NewID(),
		JobID:       j.ID,
		ProviderID:  prov.ID,
		Amount:      j.ProviderPayout,
		Method:      method,
		Status:      StatusCompleted,
		TransferRef: transferRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		s.logger.Error("record payout", "job_id", j.ID, "transfer_ref", transferRef, "error", err)
	}
	return nil
}

func (s *Service) onPaymentFailed(ctx context.Context, ev payments.Event) error {
	if ev.JobID == "" {
		return nil
	}
	return s.jobs.SetPaymentStatus(ctx, types.ID(ev.JobID), job.PaymentFailed)
}

// onAccountUpdated tracks the provider's progress through processor
// onboarding and unlocks instant payouts once transfers are enabled.
func (s *Service) onAccountUpdated(ctx context.Context, ev payments.Event) error {
	if ev.AccountID == "" {
		return nil
	}
	caps := ev.Account

	status := provider.OnboardingInProgress
	switch {
	case caps.ChargesEnabled && caps.PayoutsEnabled && caps.DetailsSubmitted:
		status = provider.OnboardingCompleted
	case caps.DetailsSubmitted:
		status = provider.OnboardingRestricted
	}

	err := s.providers.SetOnboarding(ctx, ev.AccountID, status, caps.PayoutsEnabled)
	if errors.Is(err, provider.ErrNotFound) {
		s.logger.Warn("account event for unknown provider", "account_id", ev.AccountID)
		return nil
	}
	return err
}
