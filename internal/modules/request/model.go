// Package request owns the tow-request aggregate: a customer's ask to
// move one vehicle at a stated price.
package request

import (
	"time"

	"towlink/internal/types"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusJobCreated Status = "job_created"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// AllowedTransitions is the request state flow as code. Cancellation and
// expiry are reachable only before a job exists; once a job is created
// the job drives the terminal outcome.
var AllowedTransitions = map[Status][]Status{
	StatusOpen:       {StatusPending, StatusAccepted, StatusCancelled, StatusExpired},
	StatusPending:    {StatusAccepted, StatusCancelled, StatusExpired},
	StatusAccepted:   {StatusJobCreated, StatusCompleted, StatusCancelled},
	StatusJobCreated: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Urgency string

const (
	UrgencyASAP      Urgency = "asap"
	UrgencyFewHours  Urgency = "few_hours"
	UrgencyToday     Urgency = "today"
	UrgencyScheduled Urgency = "scheduled"
)

type VehicleCondition string

const (
	VehicleRuns        VehicleCondition = "runs"
	VehicleRunsNoDrive VehicleCondition = "runs_no_drive"
	VehicleNoRun       VehicleCondition = "no_run"
	VehicleDamaged     VehicleCondition = "damaged"
)

type Address struct {
	Street string
	City   string
	State  string
	Zip    string
	Notes  string
}

type Vehicle struct {
	Make      string
	Model     string
	Year      int64
	Color     string
	Condition VehicleCondition
	Notes     string
}

type Request struct {
	ID            types.ID
	RequestNumber string

	CustomerEmail string
	CustomerName  string
	CustomerPhone string

	Pickup       Address
	PickupPoint  *types.Point
	PickupAreaID *int64
	Dropoff      Address
	DropoffPoint *types.Point

	DistanceMiles     *float64
	EstimatedDuration *int64 // minutes

	Vehicle Vehicle

	// Pricing in cents. Agreed fields are locked at offer acceptance.
	OfferedPrice   int64
	AgreedPrice    *int64
	PlatformFee    *int64
	ProviderPayout *int64

	Urgency       Urgency
	ScheduledTime *time.Time

	Status          Status
	OfferCount      int64
	AcceptedOfferID *types.ID
	JobID           *types.ID

	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Expired reports whether the request deadline has passed at now.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
