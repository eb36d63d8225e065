// Package provider holds the tow-operator aggregate consumed by the
// transaction engine: verification state, availability, payout account,
// and running stats.
package provider

import (
	"time"

	"towlink/internal/types"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
	VerificationNeedsInfo VerificationStatus = "needs_info"
	VerificationExpired  VerificationStatus = "expired"
)

type OnboardingStatus string

const (
	OnboardingNotStarted OnboardingStatus = "not_started"
	OnboardingInProgress OnboardingStatus = "in_progress"
	OnboardingCompleted  OnboardingStatus = "completed"
	OnboardingRestricted OnboardingStatus = "restricted"
)

type Provider struct {
	ID           types.ID
	Email        string
	Name         string
	Phone        string
	BusinessName string

	ServiceAreaIDs   []int64
	MaxDistanceMiles int64
	VehicleType      string // flatbed | wheel_lift | dolly | integrated

	VerificationStatus VerificationStatus

	StripeAccountID  string
	OnboardingStatus OnboardingStatus
	InstantPayouts   bool

	JobsCompleted int64
	TotalEarnings int64 // cents
	AverageRating *float64
	LastJobAt     *time.Time

	IsOnline           bool
	Location           *types.Point
	LastLocationUpdate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
