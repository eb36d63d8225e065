package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"towlink/internal/engine"
	httptransport "towlink/internal/http"
	"towlink/internal/modules/job"
	"towlink/internal/modules/match"
	"towlink/internal/modules/offer"
	"towlink/internal/modules/payout"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/store/memstore"
	"towlink/internal/types"
)

func buildTestServer(t *testing.T) (http.Handler, *memstore.MemStore) {
	t.Helper()
	ms := memstore.New()
	logger := slog.New(slog.DiscardHandler)

	requestSvc := request.NewService(ms.Requests(), nil, nil)
	offerSvc := offer.NewService(ms.Offers(), ms.Requests(), ms.Providers())
	jobSvc := job.NewService(ms.Jobs(), ms.Requests(), ms.Providers(), logger)
	providerSvc := provider.NewService(ms.Providers(), nil)
	payoutSvc := payout.NewService(ms.Payouts(), ms.Jobs(), ms.Providers(), nil, logger)
	matchSvc := match.NewService(ms.Requests(), ms.Providers(), nil, logger)

	eng := engine.New(engine.Deps{
		Requests:  requestSvc,
		Offers:    offerSvc,
		Jobs:      jobSvc,
		Providers: providerSvc,
		Payouts:   payoutSvc,
		Matcher:   matchSvc,
		Logger:    logger,
	})
	return httptransport.NewServer(eng, logger).Routes(), ms
}

func seedProvider(t *testing.T, ms *memstore.MemStore) types.ID {
	t.Helper()
	now := time.Now().UTC()
	p := &provider.Provider{
		ID:                 types.NewID(),
		Email:              "tow@example.com",
		Name:               "Tow Co",
		VerificationStatus: provider.VerificationApproved,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := ms.Providers().Create(t.Context(), p); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return p.ID
}

func doJSON(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func validCreateBody() map[string]any {
	return map[string]any{
		"customer_email": "sam@example.com",
		"customer_name":  "Sam",
		"pickup":         map[string]any{"street": "100 Main St", "city": "Austin", "state": "TX", "zip": "78701"},
		"dropoff":        map[string]any{"street": "500 Oak Ave", "city": "Austin", "state": "TX", "zip": "78704"},
		"vehicle":        map[string]any{"make": "Honda", "model": "Civic"},
		"offered_price":  8000,
		"urgency":        "asap",
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	h, ms := buildTestServer(t)
	providerID := seedProvider(t, ms)

	// Create a request.
	w := doJSON(h, http.MethodPost, "/api/requests", validCreateBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create request: %d %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	requestID, _ := created["id"].(string)
	if requestID == "" {
		t.Fatalf("no request id in %v", created)
	}
	if created["status"] != "open" {
		t.Fatalf("status = %v", created["status"])
	}

	// Provider counters.
	w = doJSON(h, http.MethodPost, "/api/requests/"+requestID+"/offers", map[string]any{
		"provider_id":       string(providerID),
		"offer_type":        "counter",
		"offer_price":       9500,
		"estimated_arrival": 30,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create offer: %d %s", w.Code, w.Body.String())
	}
	offerID, _ := decode(t, w)["id"].(string)
	if offerID == "" {
		t.Fatal("no offer id")
	}

	// Customer accepts; the response carries the new job.
	w = doJSON(h, http.MethodPost, "/api/requests/"+requestID+"/offers/"+offerID+"/resolve", map[string]any{
		"decision": "accept",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}
	resolved := decode(t, w)
	jobBody, ok := resolved["job"].(map[string]any)
	if !ok {
		t.Fatalf("accepted resolution missing job: %v", resolved)
	}
	jobID, _ := jobBody["id"].(string)
	if jobBody["status"] != "accepted" {
		t.Fatalf("job status = %v", jobBody["status"])
	}

	// The request now shows the locked pricing.
	w = doJSON(h, http.MethodGet, "/api/requests/"+requestID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get request: %d", w.Code)
	}
	got := decode(t, w)
	if got["status"] != "accepted" {
		t.Fatalf("request status = %v", got["status"])
	}
	if got["agreed_price"] != float64(9500) {
		t.Fatalf("agreed_price = %v", got["agreed_price"])
	}

	// Advance the job one step, then try to skip ahead.
	w = doJSON(h, http.MethodPost, "/api/jobs/"+jobID+"/advance", map[string]any{"status": "en_route"})
	if w.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(h, http.MethodPost, "/api/jobs/"+jobID+"/advance", map[string]any{"status": "transporting"})
	if w.Code != http.StatusConflict {
		t.Fatalf("skipped stage should be 409, got %d", w.Code)
	}
}

func TestCreateRequestRejectsBadPrice(t *testing.T) {
	h, _ := buildTestServer(t)
	body := validCreateBody()
	body["offered_price"] = 100 // below the floor
	w := doJSON(h, http.MethodPost, "/api/requests", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d %s", w.Code, w.Body.String())
	}
}

func TestGetRequestNotFound(t *testing.T) {
	h, _ := buildTestServer(t)
	w := doJSON(h, http.MethodGet, "/api/requests/"+string(types.NewID()), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", w.Code)
	}
}

func TestOfferFromUnverifiedProviderForbidden(t *testing.T) {
	h, ms := buildTestServer(t)
	now := time.Now().UTC()
	p := &provider.Provider{
		ID:                 types.NewID(),
		Email:              "new@example.com",
		Name:               "New Guy Towing",
		VerificationStatus: provider.VerificationPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := ms.Providers().Create(t.Context(), p); err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	w := doJSON(h, http.MethodPost, "/api/requests", validCreateBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("create request: %d", w.Code)
	}
	requestID := decode(t, w)["id"].(string)

	w = doJSON(h, http.MethodPost, "/api/requests/"+requestID+"/offers", map[string]any{
		"provider_id":       string(p.ID),
		"offer_type":        "accept",
		"offer_price":       8000,
		"estimated_arrival": 30,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d %s", w.Code, w.Body.String())
	}
}

func TestPriceGuidance(t *testing.T) {
	h, _ := buildTestServer(t)

	w := doJSON(h, http.MethodGet, "/api/price-guidance?distance_miles=12.5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	body := decode(t, w)
	for _, key := range []string{"tier", "min", "suggested", "max"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("guidance missing %q: %v", key, body)
		}
	}

	w = doJSON(h, http.MethodGet, "/api/price-guidance?distance_miles=-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for negative distance, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := buildTestServer(t)
	w := doJSON(h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
}

func TestNearbyRequestsOverHTTP(t *testing.T) {
	h, ms := buildTestServer(t)
	providerID := seedProvider(t, ms)

	for i := 0; i < 2; i++ {
		body := validCreateBody()
		body["customer_email"] = fmt.Sprintf("c%d@example.com", i)
		if w := doJSON(h, http.MethodPost, "/api/requests", body); w.Code != http.StatusCreated {
			t.Fatalf("create request %d: %d", i, w.Code)
		}
	}

	w := doJSON(h, http.MethodGet, "/api/providers/"+string(providerID)+"/requests", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	list, ok := body["requests"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("requests = %v", body["requests"])
	}
}

func TestNearbyRequestsRadiusParam(t *testing.T) {
	h, ms := buildTestServer(t)
	providerID := seedProvider(t, ms)
	ctx := t.Context()

	// Put the provider in downtown Austin so matching runs in
	// coordinate mode.
	if err := ms.Providers().UpdateLocation(ctx, providerID, types.Point{Lat: 30.2672, Lng: -97.7431}, time.Now().UTC()); err != nil {
		t.Fatalf("update location: %v", err)
	}

	// An open request in Round Rock, roughly 17 miles out.
	now := time.Now().UTC()
	r := &request.Request{
		ID:            types.NewID(),
		RequestNumber: types.NewRequestNumber(),
		CustomerEmail: "sam@example.com",
		PickupPoint:   &types.Point{Lat: 30.5083, Lng: -97.6789},
		OfferedPrice:  6000,
		Urgency:       request.UrgencyASAP,
		Status:        request.StatusOpen,
		ExpiresAt:     now.Add(2 * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := ms.Requests().Create(ctx, r); err != nil {
		t.Fatalf("seed request: %v", err)
	}

	base := "/api/providers/" + string(providerID) + "/requests"
	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"default radius includes it", "", 1},
		{"wide radius includes it", "?radius_miles=40", 1},
		{"narrow radius excludes it", "?radius_miles=5", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(h, http.MethodGet, base+tc.query, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("nearby: %d %s", w.Code, w.Body.String())
			}
			list, ok := decode(t, w)["requests"].([]any)
			if !ok || len(list) != tc.want {
				t.Fatalf("requests = %d, want %d", len(list), tc.want)
			}
		})
	}

	if w := doJSON(h, http.MethodGet, base+"?radius_miles=junk", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad radius: %d, want 400", w.Code)
	}
	if w := doJSON(h, http.MethodGet, base+"?radius_miles=-3", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("negative radius: %d, want 400", w.Code)
	}
}
