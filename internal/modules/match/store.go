package match

import (
	"context"

	"github.com/redis/go-redis/v9"

	"towlink/internal/types"
)

const requestGeoKey = "match:requests"

// GeoStore keeps a Redis GEO index of open request pickup points. It is
// a shortlist accelerator: membership is advisory and the in-process
// distance math stays authoritative.
type GeoStore struct {
	redis *redis.Client
}

func NewGeoStore(rdb *redis.Client) *GeoStore {
	return &GeoStore{redis: rdb}
}

// IndexRequest registers an open request's pickup point.
func (s *GeoStore) IndexRequest(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, requestGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// RemoveRequest drops a request from the index once it stops being open.
func (s *GeoStore) RemoveRequest(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, requestGeoKey, string(id)).Err()
}

// NearbyRequestIDs returns indexed request ids within radiusMiles of p,
// nearest first.
func (s *GeoStore) NearbyRequestIDs(ctx context.Context, p types.Point, radiusMiles float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, requestGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusMiles,
		RadiusUnit: "mi",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
