package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"towlink/internal/engine"
	"towlink/internal/modules/offer"
	"towlink/internal/types"
)

type OfferHandler struct {
	engine *engine.Engine
}

func NewOfferHandler(e *engine.Engine) *OfferHandler {
	return &OfferHandler{engine: e}
}

type createOfferReq struct {
	ProviderID       string   `json:"provider_id"`
	Type             string   `json:"offer_type"`
	Price            int64    `json:"offer_price"`
	EstimatedArrival int64    `json:"estimated_arrival"`
	Message          string   `json:"message"`
	ProviderLat      *float64 `json:"provider_lat"`
	ProviderLng      *float64 `json:"provider_lng"`
	DistanceToPickup *float64 `json:"distance_to_pickup"`
}

func (h *OfferHandler) Create(c *gin.Context) {
	var req createOfferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ProviderID == "" {
		writeError(c, http.StatusBadRequest, "provider_id is required")
		return
	}

	cmd := offer.SubmitCommand{
		RequestID:        types.ID(c.Param("id")),
		ProviderID:       types.ID(req.ProviderID),
		Type:             offer.Type(req.Type),
		Price:            req.Price,
		EstimatedArrival: req.EstimatedArrival,
		Message:          req.Message,
		DistanceToPickup: req.DistanceToPickup,
	}
	if req.ProviderLat != nil && req.ProviderLng != nil {
		cmd.ProviderPoint = &types.Point{Lat: *req.ProviderLat, Lng: *req.ProviderLng}
	}

	o, err := h.engine.SubmitOffer(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, offerJSON(o))
}

func (h *OfferHandler) ListByRequest(c *gin.Context) {
	list, err := h.engine.Offers.ListByRequest(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, o := range list {
		out = append(out, offerJSON(o))
	}
	writeJSON(c, http.StatusOK, gin.H{"offers": out})
}

type resolveOfferReq struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// Resolve applies the customer's decision. Accepting wins or loses
// atomically; the winner response carries the created job.
func (h *OfferHandler) Resolve(c *gin.Context) {
	var req resolveOfferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	requestID := types.ID(c.Param("id"))
	offerID := types.ID(c.Param("offerID"))

	o, j, err := h.engine.ResolveOffer(c.Request.Context(), requestID, offerID, offer.Decision(req.Decision), req.Reason)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	resp := gin.H{"offer": offerJSON(o)}
	if j != nil {
		resp["job"] = jobJSON(j)
	}
	writeJSON(c, http.StatusOK, resp)
}

func offerJSON(o *offer.Offer) gin.H {
	out := gin.H{
		"id":                o.ID,
		"offer_number":      o.OfferNumber,
		"tow_request_id":    o.TowRequestID,
		"provider_id":       o.ProviderID,
		"offer_type":        o.Type,
		"offer_price":       o.Price,
		"estimated_arrival": o.EstimatedArrival,
		"status":            o.Status,
		"expires_at":        o.ExpiresAt,
		"created_at":        o.CreatedAt,
	}
	if o.Message != "" {
		out["message"] = o.Message
	}
	if o.DeclineReason != "" {
		out["decline_reason"] = o.DeclineReason
	}
	return out
}
