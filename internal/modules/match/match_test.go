package match

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/types"
)

type stubRequests struct {
	open []*request.Request
}

func (s *stubRequests) ListOpen(_ context.Context, _ time.Time) ([]*request.Request, error) {
	return s.open, nil
}

type stubProviders struct {
	prov *provider.Provider
}

func (s *stubProviders) Get(_ context.Context, _ types.ID) (*provider.Provider, error) {
	return s.prov, nil
}

func pt(lat, lng float64) *types.Point {
	return &types.Point{Lat: lat, Lng: lng}
}

func openRequest(id string, pickup *types.Point, areaID *int64) *request.Request {
	return &request.Request{
		ID:           types.ID(id),
		Status:       request.StatusOpen,
		PickupPoint:  pickup,
		PickupAreaID: areaID,
	}
}

func newMatcher(open []*request.Request, prov *provider.Provider) *Service {
	return NewService(
		&stubRequests{open: open},
		&stubProviders{prov: prov},
		nil,
		slog.New(slog.DiscardHandler),
	)
}

func TestHaversineMiles(t *testing.T) {
	cases := []struct {
		name string
		a, b types.Point
		want float64
		tol  float64
	}{
		{"same point", types.Point{Lat: 30.2672, Lng: -97.7431}, types.Point{Lat: 30.2672, Lng: -97.7431}, 0, 0.001},
		{"austin to dallas", types.Point{Lat: 30.2672, Lng: -97.7431}, types.Point{Lat: 32.7767, Lng: -96.7970}, 182, 3},
		{"austin to san antonio", types.Point{Lat: 30.2672, Lng: -97.7431}, types.Point{Lat: 29.4241, Lng: -98.4936}, 73, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := haversineMiles(tc.a, tc.b)
			if math.Abs(got-tc.want) > tc.tol {
				t.Fatalf("distance = %.2f, want %.0f ± %.0f", got, tc.want, tc.tol)
			}
		})
	}
}

func TestNearbyByDistance(t *testing.T) {
	austin := pt(30.2672, -97.7431)
	open := []*request.Request{
		openRequest("dallas", pt(32.7767, -96.7970), nil),     // ~182 mi, outside radius
		openRequest("round-rock", pt(30.5083, -97.6789), nil), // ~17 mi
		openRequest("downtown", pt(30.2700, -97.7400), nil),   // well under a mile
		openRequest("no-coords", nil, nil),                    // skipped in coordinate mode
	}
	prov := &provider.Provider{ID: types.NewID(), Location: austin, MaxDistanceMiles: 50}

	got, err := newMatcher(open, prov).NearbyRequests(context.Background(), prov.ID, nil)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %d, want 2", len(got))
	}
	if got[0].Request.ID != "downtown" || got[1].Request.ID != "round-rock" {
		t.Fatalf("order = %s, %s", got[0].Request.ID, got[1].Request.ID)
	}
	for _, m := range got {
		if m.DistanceMiles == nil {
			t.Fatalf("request %s missing distance", m.Request.ID)
		}
	}
	if *got[0].DistanceMiles >= *got[1].DistanceMiles {
		t.Fatalf("not sorted nearest first: %.2f then %.2f", *got[0].DistanceMiles, *got[1].DistanceMiles)
	}
}

func TestNearbyDefaultRadius(t *testing.T) {
	austin := pt(30.2672, -97.7431)
	open := []*request.Request{
		openRequest("san-antonio", pt(29.4241, -98.4936), nil), // ~73 mi
		openRequest("round-rock", pt(30.5083, -97.6789), nil),  // ~17 mi
	}
	// No radius configured, so the 50 mile default applies.
	prov := &provider.Provider{ID: types.NewID(), Location: austin}

	got, err := newMatcher(open, prov).NearbyRequests(context.Background(), prov.ID, nil)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 1 || got[0].Request.ID != "round-rock" {
		t.Fatalf("matches = %+v, want only round-rock", got)
	}
}

func TestNearbyRadiusOverride(t *testing.T) {
	austin := pt(30.2672, -97.7431)
	open := []*request.Request{
		openRequest("san-antonio", pt(29.4241, -98.4936), nil), // ~73 mi
		openRequest("round-rock", pt(30.5083, -97.6789), nil),  // ~17 mi
	}
	prov := &provider.Provider{ID: types.NewID(), Location: austin, MaxDistanceMiles: 50}
	m := newMatcher(open, prov)

	wide := 100.0
	got, err := m.NearbyRequests(context.Background(), prov.ID, &wide)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches at 100 mi = %d, want 2", len(got))
	}

	narrow := 10.0
	got, err = m.NearbyRequests(context.Background(), prov.ID, &narrow)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("matches at 10 mi = %d, want none", len(got))
	}
}

func TestNearbyByServiceArea(t *testing.T) {
	area7 := int64(7)
	area9 := int64(9)
	open := []*request.Request{
		openRequest("in-area", nil, &area7),
		openRequest("other-area", nil, &area9),
		openRequest("no-area", nil, nil),
	}
	prov := &provider.Provider{ID: types.NewID(), ServiceAreaIDs: []int64{7}}

	got, err := newMatcher(open, prov).NearbyRequests(context.Background(), prov.ID, nil)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 1 || got[0].Request.ID != "in-area" {
		t.Fatalf("matches = %+v, want only in-area", got)
	}
	if got[0].DistanceMiles != nil {
		t.Fatal("area matches carry no distance")
	}
}

func TestNearbyFallbackListsEverything(t *testing.T) {
	open := []*request.Request{
		openRequest("first", nil, nil),
		openRequest("second", pt(30.0, -97.0), nil),
	}
	prov := &provider.Provider{ID: types.NewID()}

	got, err := newMatcher(open, prov).NearbyRequests(context.Background(), prov.ID, nil)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %d, want all open requests", len(got))
	}
	if got[0].Request.ID != "first" || got[1].Request.ID != "second" {
		t.Fatalf("fallback must preserve store order, got %s, %s", got[0].Request.ID, got[1].Request.ID)
	}
}
