package provider

import (
	"context"
	"errors"
	"time"

	"towlink/internal/payments"
	"towlink/internal/types"
)

var ErrNotFound = errors.New("provider not found")

type Service struct {
	store    Store
	payments payments.Client
}

func NewService(store Store, pay payments.Client) *Service {
	return &Service{store: store, payments: pay}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Provider, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) UpdateLocation(ctx context.Context, id types.ID, loc types.Point) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.UpdateLocation(ctx, id, loc, time.Now().UTC())
}

func (s *Service) SetOnline(ctx context.Context, id types.ID, online bool) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.SetOnline(ctx, id, online)
}

// OnboardingResult carries the payout-account reference and the URL the
// provider must visit to finish onboarding.
type OnboardingResult struct {
	StripeAccountID string
	OnboardingURL   string
	Existing        bool
}

// StartOnboarding provisions a payout account for the provider if one
// does not exist yet, and returns a fresh onboarding link either way.
func (s *Service) StartOnboarding(ctx context.Context, id types.ID) (*OnboardingResult, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.StripeAccountID != "" {
		url, err := s.payments.OnboardingLink(ctx, p.StripeAccountID, string(p.ID))
		if err != nil {
			return nil, err
		}
		return &OnboardingResult{StripeAccountID: p.StripeAccountID, OnboardingURL: url, Existing: true}, nil
	}

	accountID, err := s.payments.CreateAccount(ctx, string(p.ID), p.Email)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetStripeAccount(ctx, p.ID, accountID, OnboardingInProgress); err != nil {
		return nil, err
	}
	url, err := s.payments.OnboardingLink(ctx, accountID, string(p.ID))
	if err != nil {
		return nil, err
	}
	return &OnboardingResult{StripeAccountID: accountID, OnboardingURL: url}, nil
}
