package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"towlink/internal/engine"
	"towlink/internal/types"
)

type ProviderHandler struct {
	engine *engine.Engine
}

func NewProviderHandler(e *engine.Engine) *ProviderHandler {
	return &ProviderHandler{engine: e}
}

func (h *ProviderHandler) Get(c *gin.Context) {
	p, err := h.engine.Providers.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := gin.H{
		"id":                  p.ID,
		"name":                p.Name,
		"verification_status": p.VerificationStatus,
		"onboarding_status":   p.OnboardingStatus,
		"instant_payouts":     p.InstantPayouts,
		"jobs_completed":      p.JobsCompleted,
		"total_earnings":      p.TotalEarnings,
		"is_online":           p.IsOnline,
	}
	if p.AverageRating != nil {
		out["average_rating"] = *p.AverageRating
	}
	writeJSON(c, http.StatusOK, out)
}

type locationReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *ProviderHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.engine.Providers.UpdateLocation(c.Request.Context(), types.ID(c.Param("id")), types.Point{Lat: req.Lat, Lng: req.Lng}); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

type onlineReq struct {
	Online bool `json:"online"`
}

func (h *ProviderHandler) SetOnline(c *gin.Context) {
	var req onlineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.engine.Providers.SetOnline(c.Request.Context(), types.ID(c.Param("id")), req.Online); err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"online": req.Online})
}

// StartOnboarding provisions a payout account and returns the hosted
// onboarding link.
func (h *ProviderHandler) StartOnboarding(c *gin.Context) {
	res, err := h.engine.Providers.StartOnboarding(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"stripe_account_id": res.StripeAccountID,
		"onboarding_url":    res.OnboardingURL,
		"existing":          res.Existing,
	})
}

// NearbyRequests lists open work for the provider, best match first.
// An optional radius_miles query param overrides the provider's
// configured working radius.
func (h *ProviderHandler) NearbyRequests(c *gin.Context) {
	var radius *float64
	if raw := c.Query("radius_miles"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			writeError(c, http.StatusBadRequest, "radius_miles must be a positive number")
			return
		}
		radius = &v
	}
	matches, err := h.engine.NearbyRequests(c.Request.Context(), types.ID(c.Param("id")), radius)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]gin.H, 0, len(matches))
	for _, m := range matches {
		entry := requestJSON(m.Request)
		if m.DistanceMiles != nil {
			entry["distance_miles"] = *m.DistanceMiles
		}
		out = append(out, entry)
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": out})
}

func (h *ProviderHandler) ListJobs(c *gin.Context) {
	jobs, err := h.engine.Jobs.ListByProvider(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobJSON(j))
	}
	writeJSON(c, http.StatusOK, gin.H{"jobs": out})
}

func (h *ProviderHandler) ListPayouts(c *gin.Context) {
	payouts, err := h.engine.Payouts.ListByProvider(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]gin.H, 0, len(payouts))
	for _, p := range payouts {
		entry := gin.H{
			"id":         p.ID,
			"job_id":     p.JobID,
			"amount":     p.Amount,
			"method":     p.Method,
			"status":     p.Status,
			"created_at": p.CreatedAt,
		}
		if p.FailureReason != "" {
			entry["failure_reason"] = p.FailureReason
		}
		out = append(out, entry)
	}
	writeJSON(c, http.StatusOK, gin.H{"payouts": out})
}
