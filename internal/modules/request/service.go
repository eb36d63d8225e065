package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"towlink/internal/fees"
	"towlink/internal/observability"
	"towlink/internal/types"
)

var (
	ErrNotFound     = errors.New("tow request not found")
	ErrValidation   = errors.New("invalid tow request")
	ErrInvalidState = errors.New("tow request state does not allow this operation")
)

// Geocoder resolves a street address to coordinates. Optional; requests
// without coordinates still work through the service-area fallback.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// RouteEstimator supplies driving distance and time between the pickup
// and dropoff addresses. Optional; estimates are informational and
// never block submission.
type RouteEstimator interface {
	EstimateRoute(ctx context.Context, origin, destination string) (miles float64, minutes int64, err error)
}

type Service struct {
	store    Store
	geocoder Geocoder
	routes   RouteEstimator
}

func NewService(store Store, geocoder Geocoder, routes RouteEstimator) *Service {
	return &Service{store: store, geocoder: geocoder, routes: routes}
}

type SubmitCommand struct {
	CustomerEmail string
	CustomerName  string
	CustomerPhone string

	Pickup       Address
	PickupPoint  *types.Point
	PickupAreaID *int64
	Dropoff      Address
	DropoffPoint *types.Point

	DistanceMiles     *float64
	EstimatedDuration *int64

	Vehicle Vehicle

	OfferedPrice  int64
	Urgency       Urgency
	ScheduledTime *time.Time
}

// Submit validates and stores a new tow request in state open, with an
// expiry computed from the urgency window.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Request, error) {
	if err := s.validate(cmd); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r := &Request{
		ID:                types.NewID(),
		RequestNumber:     types.NewRequestNumber(),
		CustomerEmail:     cmd.CustomerEmail,
		CustomerName:      cmd.CustomerName,
		CustomerPhone:     cmd.CustomerPhone,
		Pickup:            cmd.Pickup,
		PickupPoint:       cmd.PickupPoint,
		PickupAreaID:      cmd.PickupAreaID,
		Dropoff:           cmd.Dropoff,
		DropoffPoint:      cmd.DropoffPoint,
		DistanceMiles:     cmd.DistanceMiles,
		EstimatedDuration: cmd.EstimatedDuration,
		Vehicle:           cmd.Vehicle,
		OfferedPrice:      cmd.OfferedPrice,
		Urgency:           cmd.Urgency,
		ScheduledTime:     cmd.ScheduledTime,
		Status:            StatusOpen,
		ExpiresAt:         expiryFor(cmd.Urgency, cmd.ScheduledTime, now),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if r.Vehicle.Condition == "" {
		r.Vehicle.Condition = VehicleRuns
	}

	// Best-effort geocoding; a request without coordinates is still valid.
	if s.geocoder != nil {
		if r.PickupPoint == nil {
			if pt, err := s.geocoder.Geocode(ctx, formatAddress(r.Pickup)); err == nil {
				r.PickupPoint = &pt
			}
		}
		if r.DropoffPoint == nil {
			if pt, err := s.geocoder.Geocode(ctx, formatAddress(r.Dropoff)); err == nil {
				r.DropoffPoint = &pt
			}
		}
	}

	if s.routes != nil && (r.DistanceMiles == nil || r.EstimatedDuration == nil) {
		if miles, minutes, err := s.routes.EstimateRoute(ctx, formatAddress(r.Pickup), formatAddress(r.Dropoff)); err == nil {
			if r.DistanceMiles == nil {
				r.DistanceMiles = &miles
			}
			if r.EstimatedDuration == nil {
				r.EstimatedDuration = &minutes
			}
		}
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ListOpen is the snapshot the matcher filters against.
func (s *Service) ListOpen(ctx context.Context) ([]*Request, error) {
	return s.store.ListOpen(ctx, time.Now().UTC())
}

// Cancel is allowed only while the request is open or pending. Requests
// with an accepted offer or an active job must be resolved through the
// job instead.
func (s *Service) Cancel(ctx context.Context, id types.ID) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusAccepted, StatusJobCreated:
		return nil, fmt.Errorf("%w: request has an active job, cancel the job instead", ErrInvalidState)
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidState, r.Status)
	}

	ok, err := s.store.Cancel(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request was resolved concurrently", ErrInvalidState)
	}
	return s.store.Get(ctx, id)
}

// ExpireStale is the periodic sweep moving open/pending requests past
// their deadline to expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.SweepExpired.WithLabelValues("request").Add(float64(n))
	}
	return n, nil
}

func (s *Service) validate(cmd SubmitCommand) error {
	if err := fees.ValidatePrice(cmd.OfferedPrice); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cmd.CustomerEmail == "" {
		return fmt.Errorf("%w: customer email is required", ErrValidation)
	}
	if cmd.Pickup.Street == "" || cmd.Pickup.Zip == "" {
		return fmt.Errorf("%w: pickup address and zip are required", ErrValidation)
	}
	if cmd.Dropoff.Street == "" || cmd.Dropoff.Zip == "" {
		return fmt.Errorf("%w: dropoff address and zip are required", ErrValidation)
	}
	if cmd.Vehicle.Make == "" || cmd.Vehicle.Model == "" {
		return fmt.Errorf("%w: vehicle make and model are required", ErrValidation)
	}
	switch cmd.Urgency {
	case UrgencyASAP, UrgencyFewHours, UrgencyToday, UrgencyScheduled:
	default:
		return fmt.Errorf("%w: unknown urgency %q", ErrValidation, cmd.Urgency)
	}
	return nil
}

// expiryFor maps urgency to the request deadline: asap +2h, few_hours
// +6h, today +12h, scheduled = target +2h (or +24h without a target).
func expiryFor(u Urgency, scheduled *time.Time, now time.Time) time.Time {
	switch u {
	case UrgencyFewHours:
		return now.Add(6 * time.Hour)
	case UrgencyToday:
		return now.Add(12 * time.Hour)
	case UrgencyScheduled:
		if scheduled != nil {
			return scheduled.Add(2 * time.Hour)
		}
		return now.Add(24 * time.Hour)
	default: // asap
		return now.Add(2 * time.Hour)
	}
}

func formatAddress(a Address) string {
	return a.Street + ", " + a.City + ", " + a.State + " " + a.Zip
}
