// Package engine composes the module services into the transaction
// flows the API exposes. It owns the cross-module orchestration that no
// single module may reach into another for: acceptance side effects,
// cancellation fan-out, webhook dispatch and event publishing.
package engine

import (
	"context"
	"log/slog"

	"towlink/internal/events"
	"towlink/internal/modules/job"
	"towlink/internal/modules/match"
	"towlink/internal/modules/offer"
	"towlink/internal/modules/payout"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/payments"
	"towlink/internal/types"
)

type Engine struct {
	Requests  *request.Service
	Offers    *offer.Service
	Jobs      *job.Service
	Providers *provider.Service
	Payouts   *payout.Service
	Matcher   *match.Service

	geo           *match.GeoStore // optional
	payments      payments.Client
	webhookSecret string
	publisher     *events.Publisher
	logger        *slog.Logger
}

type Deps struct {
	Requests  *request.Service
	Offers    *offer.Service
	Jobs      *job.Service
	Providers *provider.Service
	Payouts   *payout.Service
	Matcher   *match.Service

	Geo           *match.GeoStore
	Payments      payments.Client
	WebhookSecret string
	Publisher     *events.Publisher
	Logger        *slog.Logger
}

func New(d Deps) *Engine {
	e := &Engine{
		Requests:      d.Requests,
		Offers:        d.Offers,
		Jobs:          d.Jobs,
		Providers:     d.Providers,
		Payouts:       d.Payouts,
		Matcher:       d.Matcher,
		geo:           d.Geo,
		payments:      d.Payments,
		webhookSecret: d.WebhookSecret,
		publisher:     d.Publisher,
		logger:        d.Logger,
	}
	// The job service reports terminal transitions to the payout
	// orchestrator through the engine-owned wiring.
	if d.Payouts != nil {
		e.Jobs.SetSettlement(d.Payouts)
	}
	return e
}

// SubmitRequest creates a tow request and registers its pickup point in
// the matching index.
func (e *Engine) SubmitRequest(ctx context.Context, cmd request.SubmitCommand) (*request.Request, error) {
	r, err := e.Requests.Submit(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if e.geo != nil && r.PickupPoint != nil {
		if err := e.geo.IndexRequest(ctx, r.ID, *r.PickupPoint); err != nil {
			e.logger.Warn("index request pickup", "request_id", r.ID, "error", err)
		}
	}
	e.publisher.Publish(ctx, events.RequestSubmitted, r.ID, map[string]any{
		"request_number": r.RequestNumber,
		"offered_price":  r.OfferedPrice,
	})
	return r, nil
}

// CancelRequest cancels the request and expires any offers still
// pending on it.
func (e *Engine) CancelRequest(ctx context.Context, id types.ID) (*request.Request, error) {
	r, err := e.Requests.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.Offers.ExpireForRequest(ctx, id); err != nil {
		e.logger.Error("expire offers for cancelled request", "request_id", id, "error", err)
	}
	e.dropFromIndex(ctx, id)
	e.publisher.Publish(ctx, events.RequestCancelled, id, nil)
	return r, nil
}

// SubmitOffer records a provider's offer on a request.
func (e *Engine) SubmitOffer(ctx context.Context, cmd offer.SubmitCommand) (*offer.Offer, error) {
	o, err := e.Offers.Submit(ctx, cmd)
	if err != nil {
		return nil, err
	}
	e.publisher.Publish(ctx, events.OfferSubmitted, o.ID, map[string]any{
		"request_id": o.TowRequestID,
		"price":      o.Price,
	})
	return o, nil
}

// AcceptOffer runs the acceptance protocol and then places the payment
// hold for the new job. A hold failure is logged, not unwound: the job
// exists and payment is retried out of band.
func (e *Engine) AcceptOffer(ctx context.Context, requestID, offerID types.ID) (*job.Job, error) {
	res, err := e.Offers.Accept(ctx, requestID, offerID)
	if err != nil {
		return nil, err
	}

	j, err := e.Jobs.Get(ctx, res.JobID)
	if err != nil {
		return nil, err
	}

	if e.payments != nil {
		if err := e.Payouts.AuthorizeJob(ctx, j); err != nil {
			e.logger.Error("authorize payment for job", "job_id", j.ID, "error", err)
		} else {
			j, err = e.Jobs.Get(ctx, res.JobID)
			if err != nil {
				return nil, err
			}
		}
	}

	e.dropFromIndex(ctx, requestID)
	e.publisher.Publish(ctx, events.OfferAccepted, offerID, map[string]any{
		"request_id": requestID,
		"job_id":     j.ID,
		"job_number": j.JobNumber,
	})
	return j, nil
}

// ResolveOffer declines or withdraws a pending offer; accept decisions
// route through the full acceptance protocol.
func (e *Engine) ResolveOffer(ctx context.Context, requestID, offerID types.ID, decision offer.Decision, reason string) (*offer.Offer, *job.Job, error) {
	if decision == offer.DecisionAccept {
		j, err := e.AcceptOffer(ctx, requestID, offerID)
		if err != nil {
			return nil, nil, err
		}
		o, err := e.Offers.Get(ctx, offerID)
		if err != nil {
			return nil, nil, err
		}
		return o, j, nil
	}
	o, err := e.Offers.Resolve(ctx, offerID, decision, reason)
	if err != nil {
		return nil, nil, err
	}
	return o, nil, nil
}

// AdvanceJob moves a job one step along its progression.
func (e *Engine) AdvanceJob(ctx context.Context, id types.ID, target job.Status) (*job.Job, error) {
	j, err := e.Jobs.Advance(ctx, id, target)
	if err != nil {
		return nil, err
	}
	eventType := events.JobAdvanced
	if j.Status == job.StatusCompleted {
		eventType = events.JobCompleted
	}
	e.publisher.Publish(ctx, eventType, j.ID, map[string]any{"status": j.Status})
	return j, nil
}

// CancelJob terminates an in-flight job and releases its payment hold.
func (e *Engine) CancelJob(ctx context.Context, id types.ID, by, reason, explanation string, fee *int64) (*job.Job, error) {
	j, err := e.Jobs.Cancel(ctx, id, by, reason, explanation, fee)
	if err != nil {
		return nil, err
	}
	e.publisher.Publish(ctx, events.JobCancelled, j.ID, map[string]any{"cancelled_by": by})
	return j, nil
}

// RateJob records a party's rating on a completed job.
func (e *Engine) RateJob(ctx context.Context, id types.ID, party job.Party, score int64, comment string) (*job.Job, error) {
	return e.Jobs.Rate(ctx, id, party, score, comment)
}

// NearbyRequests lists matching work for a provider. A non-nil
// radiusMiles narrows or widens the search for this call only.
func (e *Engine) NearbyRequests(ctx context.Context, providerID types.ID, radiusMiles *float64) ([]match.Nearby, error) {
	return e.Matcher.NearbyRequests(ctx, providerID, radiusMiles)
}

// HandlePaymentWebhook verifies the processor signature and applies the
// event exactly once.
func (e *Engine) HandlePaymentWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	ev, err := payments.VerifyWebhook(payload, sigHeader, e.webhookSecret)
	if err != nil {
		return err
	}
	return e.Payouts.HandleEvent(ctx, ev)
}

func (e *Engine) dropFromIndex(ctx context.Context, requestID types.ID) {
	if e.geo == nil {
		return
	}
	if err := e.geo.RemoveRequest(ctx, requestID); err != nil {
		e.logger.Warn("drop request from match index", "request_id", requestID, "error", err)
	}
}
