// Package match pairs online providers with open tow requests.
package match

import (
	"math"
	"sort"

	"towlink/internal/types"
)

const earthRadiusMiles = 3959

// haversineMiles is the great-circle distance between two points.
func haversineMiles(a, b types.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// sortNearest orders matches by distance ascending. Ties keep their
// input order so results are stable across calls.
func sortNearest(matches []Nearby) {
	sort.SliceStable(matches, func(i, j int) bool {
		return *matches[i].DistanceMiles < *matches[j].DistanceMiles
	})
}
