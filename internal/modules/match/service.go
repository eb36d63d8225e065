package match

import (
	"context"
	"log/slog"
	"time"

	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/types"
)

// DefaultRadiusMiles applies when a provider never set a working radius.
const DefaultRadiusMiles = 50.0

type RequestSource interface {
	ListOpen(ctx context.Context, now time.Time) ([]*request.Request, error)
}

type ProviderSource interface {
	Get(ctx context.Context, id types.ID) (*provider.Provider, error)
}

// Nearby is one candidate request for a provider. DistanceMiles is nil
// when the match was made without coordinates.
type Nearby struct {
	Request       *request.Request
	DistanceMiles *float64
}

type Service struct {
	requests  RequestSource
	providers ProviderSource
	geo       *GeoStore // optional shortlist index
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(requests RequestSource, providers ProviderSource, geo *GeoStore, logger *slog.Logger) *Service {
	return &Service{
		requests:  requests,
		providers: providers,
		geo:       geo,
		logger:    logger,
		now:       time.Now,
	}
}

// NearbyRequests lists open, unexpired requests for a provider, best
// signal first: a known position filters by radius and sorts nearest
// first; failing that, declared service areas filter by area and keep
// newest first; with neither, every open request comes back newest
// first so a fresh provider still sees work. A non-nil radiusMiles
// overrides the provider's configured working radius for this call.
func (s *Service) NearbyRequests(ctx context.Context, providerID types.ID, radiusMiles *float64) ([]Nearby, error) {
	prov, err := s.providers.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}

	open, err := s.requests.ListOpen(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if prov.Location != nil {
		return s.byDistance(ctx, prov, open, radiusMiles), nil
	}
	if len(prov.ServiceAreaIDs) > 0 {
		return byServiceArea(prov.ServiceAreaIDs, open), nil
	}

	matches := make([]Nearby, 0, len(open))
	for _, r := range open {
		matches = append(matches, Nearby{Request: r})
	}
	return matches, nil
}

func (s *Service) byDistance(ctx context.Context, prov *provider.Provider, open []*request.Request, radiusMiles *float64) []Nearby {
	radius := float64(prov.MaxDistanceMiles)
	if radius <= 0 {
		radius = DefaultRadiusMiles
	}
	if radiusMiles != nil && *radiusMiles > 0 {
		radius = *radiusMiles
	}

	// The GEO index shortlists candidates when reachable; a Redis error
	// falls back to scanning every open request.
	var shortlist map[types.ID]struct{}
	if s.geo != nil {
		ids, err := s.geo.NearbyRequestIDs(ctx, *prov.Location, radius)
		if err != nil {
			s.logger.Warn("geo shortlist unavailable", "error", err)
		} else {
			shortlist = make(map[types.ID]struct{}, len(ids))
			for _, id := range ids {
				shortlist[id] = struct{}{}
			}
		}
	}

	var matches []Nearby
	for _, r := range open {
		if r.PickupPoint == nil {
			continue
		}
		if shortlist != nil {
			if _, ok := shortlist[r.ID]; !ok {
				continue
			}
		}
		d := haversineMiles(*prov.Location, *r.PickupPoint)
		if d > radius {
			continue
		}
		dist := d
		matches = append(matches, Nearby{Request: r, DistanceMiles: &dist})
	}
	sortNearest(matches)
	return matches
}

func byServiceArea(areaIDs []int64, open []*request.Request) []Nearby {
	areas := make(map[int64]struct{}, len(areaIDs))
	for _, id := range areaIDs {
		areas[id] = struct{}{}
	}

	var matches []Nearby
	for _, r := range open {
		if r.PickupAreaID == nil {
			continue
		}
		if _, ok := areas[*r.PickupAreaID]; !ok {
			continue
		}
		matches = append(matches, Nearby{Request: r})
	}
	return matches
}
