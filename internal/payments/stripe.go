package payments

import (
	"context"
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/account"
	"github.com/stripe/stripe-go/v74/accountlink"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/transfer"
	"github.com/stripe/stripe-go/v74/webhook"
)

// StripeClient implements Client with PaymentIntent manual capture for
// holds and Connect Express accounts for provider payouts.
type StripeClient struct {
	siteURL string
}

// NewStripeClient sets the global stripe key and returns a client.
// siteURL is used for onboarding return links.
func NewStripeClient(apiKey, siteURL string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{siteURL: siteURL}
}

func (s *StripeClient) Hold(ctx context.Context, amountCents int64, meta map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: hold: %v", ErrProcessor, err)
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, paymentRef string) error {
	if _, err := paymentintent.Capture(paymentRef, nil); err != nil {
		return fmt.Errorf("%w: capture %s: %v", ErrProcessor, paymentRef, err)
	}
	return nil
}

func (s *StripeClient) CancelHold(ctx context.Context, paymentRef string) error {
	if _, err := paymentintent.Cancel(paymentRef, nil); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", ErrProcessor, paymentRef, err)
	}
	return nil
}

func (s *StripeClient) Transfer(ctx context.Context, amountCents int64, accountID string, meta map[string]string) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(accountID),
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	tr, err := transfer.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: transfer to %s: %v", ErrProcessor, accountID, err)
	}
	return tr.ID, nil
}

func (s *StripeClient) CreateAccount(ctx context.Context, providerID, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:         stripe.String(string(stripe.AccountTypeExpress)),
		Country:      stripe.String("US"),
		Email:        stripe.String(email),
		BusinessType: stripe.String("individual"),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.AddMetadata("provider_id", providerID)
	acct, err := account.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create account: %v", ErrProcessor, err)
	}
	return acct.ID, nil
}

func (s *StripeClient) OnboardingLink(ctx context.Context, accountID, providerID string) (string, error) {
	link, err := accountlink.New(&stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(s.siteURL + "/provider/onboarding?refresh=true"),
		ReturnURL:  stripe.String(s.siteURL + "/provider/onboarding/complete?provider=" + providerID),
		Type:       stripe.String("account_onboarding"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: onboarding link: %v", ErrProcessor, err)
	}
	return link.URL, nil
}

func (s *StripeClient) AccountStatus(ctx context.Context, accountID string) (AccountCapabilities, error) {
	acct, err := account.GetByID(accountID, nil)
	if err != nil {
		return AccountCapabilities{}, fmt.Errorf("%w: account status %s: %v", ErrProcessor, accountID, err)
	}
	return AccountCapabilities{
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

// VerifyWebhook authenticates a raw webhook payload against its
// signature header and decodes the event. Unknown event types come back
// with an empty Type; callers acknowledge them without processing.
func VerifyWebhook(payload []byte, sigHeader, secret string) (Event, error) {
	ev, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := Event{ID: ev.ID}
	switch EventType(ev.Type) {
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Type = EventType(ev.Type)
		out.PaymentIntentID = pi.ID
		out.JobID = pi.Metadata["job_id"]
	case EventAccountUpdated:
		var acct struct {
			ID               string `json:"id"`
			ChargesEnabled   bool   `json:"charges_enabled"`
			PayoutsEnabled   bool   `json:"payouts_enabled"`
			DetailsSubmitted bool   `json:"details_submitted"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &acct); err != nil {
			return Event{}, fmt.Errorf("decode account: %w", err)
		}
		out.Type = EventAccountUpdated
		out.AccountID = acct.ID
		out.Account = AccountCapabilities{
			ChargesEnabled:   acct.ChargesEnabled,
			PayoutsEnabled:   acct.PayoutsEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
		}
	}
	return out, nil
}
