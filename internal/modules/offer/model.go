// Package offer owns provider responses to tow requests and the
// acceptance protocol that turns one of them into a job.
package offer

import (
	"time"

	"towlink/internal/types"
)

type Type string

const (
	TypeAccept  Type = "accept"  // take the request at its asking price
	TypeCounter Type = "counter" // propose a different price
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
)

// Window is how long a submitted offer stays open.
const Window = 30 * time.Minute

// DeclineReasonOutbid is recorded on sibling offers when another offer
// on the same request is accepted.
const DeclineReasonOutbid = "Another offer was accepted"

type Offer struct {
	ID          types.ID
	OfferNumber string

	TowRequestID types.ID
	ProviderID   types.ID

	Type             Type
	Price            int64 // cents
	EstimatedArrival int64 // minutes
	Message          string

	ProviderPoint    *types.Point
	DistanceToPickup *float64 // miles

	Status        Status
	DeclineReason string

	ExpiresAt  time.Time
	AcceptedAt *time.Time
	DeclinedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the offer window has closed at now.
func (o *Offer) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
