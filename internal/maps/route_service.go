package maps

import (
	"context"
	"fmt"
	"math"
	"time"

	"googlemaps.github.io/maps"
)

// RouteService estimates driving distance and time between addresses.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// TravelEstimate is a driving-mode route summary.
type TravelEstimate struct {
	Duration time.Duration
	Miles    float64
}

// GetTravelEstimate returns the driving estimate from origin to destination.
func (s *RouteService) GetTravelEstimate(ctx context.Context, origin, destination string) (TravelEstimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return TravelEstimate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return TravelEstimate{}, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	const metersPerMile = 1609.344
	miles := math.Round(float64(leg.Distance.Meters)/metersPerMile*10) / 10
	return TravelEstimate{Duration: leg.Duration, Miles: miles}, nil
}

// EstimateRoute reports the driving distance in miles and the duration
// in whole minutes.
func (s *RouteService) EstimateRoute(ctx context.Context, origin, destination string) (float64, int64, error) {
	est, err := s.GetTravelEstimate(ctx, origin, destination)
	if err != nil {
		return 0, 0, err
	}
	return est.Miles, int64(math.Round(est.Duration.Minutes())), nil
}
