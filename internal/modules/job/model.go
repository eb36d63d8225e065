// Package job owns the operational record of a tow from offer
// acceptance through physical execution to completion.
package job

import (
	"time"

	"towlink/internal/types"
)

type Status string

const (
	StatusAccepted     Status = "accepted"
	StatusEnRoute      Status = "en_route"
	StatusAtPickup     Status = "at_pickup"
	StatusLoading      Status = "loading"
	StatusTransporting Status = "transporting"
	StatusAtDropoff    Status = "at_dropoff"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusDisputed     Status = "disputed"
)

// forwardPath is the strict provider-driven progression. Every status
// has at most one legal successor; cancelled and disputed are reached
// only through the out-of-band cancel/dispute operations.
var forwardPath = map[Status]Status{
	StatusAccepted:     StatusEnRoute,
	StatusEnRoute:      StatusAtPickup,
	StatusAtPickup:     StatusLoading,
	StatusLoading:      StatusTransporting,
	StatusTransporting: StatusAtDropoff,
	StatusAtDropoff:    StatusCompleted,
}

// NextStatus returns the single legal next status, if any.
func NextStatus(from Status) (Status, bool) {
	next, ok := forwardPath[from]
	return next, ok
}

type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "pending"
	PaymentAuthorized  PaymentStatus = "authorized"
	PaymentCaptured    PaymentStatus = "captured"
	PaymentTransferred PaymentStatus = "transferred"
	PaymentFailed      PaymentStatus = "failed"
	PaymentRefunded    PaymentStatus = "refunded"
)

type Party string

const (
	PartyCustomer Party = "customer"
	PartyProvider Party = "provider"
)

type Job struct {
	ID        types.ID
	JobNumber string

	TowRequestID  types.ID
	OfferID       types.ID
	ProviderID    types.ID
	CustomerEmail string

	Status Status

	// Payment, cents.
	AgreedPrice    int64
	PlatformFee    int64
	ProviderPayout int64
	PaymentRef     string // processor payment-intent reference
	PaymentStatus  PaymentStatus

	// Stage timestamps, set as the provider advances.
	AcceptedAt  *time.Time
	EnRouteAt   *time.Time
	ArrivedAt   *time.Time
	LoadedAt    *time.Time
	DepartedAt  *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time

	TotalDurationMinutes *int64

	CustomerRating  *int64
	CustomerComment string
	CustomerRatedAt *time.Time
	ProviderRating  *int64
	ProviderComment string
	ProviderRatedAt *time.Time

	CancelledBy             string // customer | provider | system | admin
	CancellationReason      string
	CancellationExplanation string
	CancelledAt             *time.Time
	// CancellationFee is an external policy input; nothing here computes it.
	CancellationFee *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StampStage sets the timestamp field matching a freshly reached status.
func StampStage(j *Job, st Status, at time.Time) {
	switch st {
	case StatusEnRoute:
		j.EnRouteAt = &at
	case StatusAtPickup:
		j.ArrivedAt = &at
	case StatusLoading:
		j.LoadedAt = &at
	case StatusTransporting:
		j.DepartedAt = &at
	case StatusAtDropoff:
		j.DeliveredAt = &at
	case StatusCompleted:
		j.CompletedAt = &at
	}
}
