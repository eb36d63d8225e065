// Package payments is the narrow capability interface over the payment
// processor: create a hold, capture it, transfer the payout, and query
// account status. The rest of the system never talks to Stripe directly.
package payments

import (
	"context"
	"errors"
)

var (
	// ErrInvalidSignature means the webhook payload could not be
	// authenticated and must be rejected before any processing.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrProcessor wraps failures of the external processor so callers
	// can tell them apart from business-rule violations.
	ErrProcessor = errors.New("payment processor error")
)

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
	EventAccountUpdated   EventType = "account.updated"
)

// AccountCapabilities are the flags the processor reports for a connected
// payout account.
type AccountCapabilities struct {
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Event is a decoded processor webhook event. Delivery is at-least-once
// and possibly out of order; ID is the processor's unique event key.
type Event struct {
	ID              string
	Type            EventType
	PaymentIntentID string
	JobID           string
	AccountID       string
	Account         AccountCapabilities
}

// Client is the capability surface the orchestrator depends on.
type Client interface {
	// Hold pre-authorizes amountCents without capturing it and returns
	// the processor's payment reference.
	Hold(ctx context.Context, amountCents int64, meta map[string]string) (string, error)
	// Capture finalizes a previously created hold.
	Capture(ctx context.Context, paymentRef string) error
	// CancelHold releases an uncaptured hold.
	CancelHold(ctx context.Context, paymentRef string) error
	// Transfer moves amountCents to the provider's payout account and
	// returns the transfer reference.
	Transfer(ctx context.Context, amountCents int64, accountID string, meta map[string]string) (string, error)
	// CreateAccount provisions a payout account for a provider.
	CreateAccount(ctx context.Context, providerID, email string) (string, error)
	// OnboardingLink returns a URL where the provider completes onboarding.
	OnboardingLink(ctx context.Context, accountID, providerID string) (string, error)
	// AccountStatus queries the current capability flags for an account.
	AccountStatus(ctx context.Context, accountID string) (AccountCapabilities, error)
}
