package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"towlink/internal/engine"
	"towlink/internal/fees"
	"towlink/internal/modules/request"
	"towlink/internal/types"
)

type RequestHandler struct {
	engine *engine.Engine
}

func NewRequestHandler(e *engine.Engine) *RequestHandler {
	return &RequestHandler{engine: e}
}

type addressReq struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
	Notes  string `json:"notes"`
}

type vehicleReq struct {
	Make      string `json:"make"`
	Model     string `json:"model"`
	Year      int64  `json:"year"`
	Color     string `json:"color"`
	Condition string `json:"condition"`
	Notes     string `json:"notes"`
}

type createRequestReq struct {
	CustomerEmail string     `json:"customer_email"`
	CustomerName  string     `json:"customer_name"`
	CustomerPhone string     `json:"customer_phone"`
	Pickup        addressReq `json:"pickup"`
	Dropoff       addressReq `json:"dropoff"`
	PickupAreaID  *int64     `json:"pickup_area_id"`
	Vehicle       vehicleReq `json:"vehicle"`
	OfferedPrice  int64      `json:"offered_price"`
	Urgency       string     `json:"urgency"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	DistanceMiles *float64   `json:"distance_miles"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	r, err := h.engine.SubmitRequest(c.Request.Context(), request.SubmitCommand{
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Pickup:        toAddress(req.Pickup),
		PickupAreaID:  req.PickupAreaID,
		Dropoff:       toAddress(req.Dropoff),
		DistanceMiles: req.DistanceMiles,
		Vehicle: request.Vehicle{
			Make:      req.Vehicle.Make,
			Model:     req.Vehicle.Model,
			Year:      req.Vehicle.Year,
			Color:     req.Vehicle.Color,
			Condition: request.VehicleCondition(req.Vehicle.Condition),
			Notes:     req.Vehicle.Notes,
		},
		OfferedPrice:  req.OfferedPrice,
		Urgency:       request.Urgency(req.Urgency),
		ScheduledTime: req.ScheduledTime,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, requestJSON(r))
}

func (h *RequestHandler) Get(c *gin.Context) {
	r, err := h.engine.Requests.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, requestJSON(r))
}

func (h *RequestHandler) ListOpen(c *gin.Context) {
	list, err := h.engine.Requests.ListOpen(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, r := range list {
		out = append(out, requestJSON(r))
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": out})
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	r, err := h.engine.CancelRequest(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, requestJSON(r))
}

// PriceGuidance suggests a price band for a given tow distance.
func (h *RequestHandler) PriceGuidance(c *gin.Context) {
	miles, err := strconv.ParseFloat(c.Query("distance_miles"), 64)
	if err != nil || miles < 0 {
		writeError(c, http.StatusBadRequest, "distance_miles must be a non-negative number")
		return
	}
	writeJSON(c, http.StatusOK, fees.PriceGuidance(miles))
}

func toAddress(a addressReq) request.Address {
	return request.Address{Street: a.Street, City: a.City, State: a.State, Zip: a.Zip, Notes: a.Notes}
}

func requestJSON(r *request.Request) gin.H {
	out := gin.H{
		"id":             r.ID,
		"request_number": r.RequestNumber,
		"status":         r.Status,
		"customer_email": r.CustomerEmail,
		"offered_price":  r.OfferedPrice,
		"urgency":        r.Urgency,
		"offer_count":    r.OfferCount,
		"expires_at":     r.ExpiresAt,
		"created_at":     r.CreatedAt,
	}
	if r.AgreedPrice != nil {
		out["agreed_price"] = *r.AgreedPrice
		out["platform_fee"] = *r.PlatformFee
		out["provider_payout"] = *r.ProviderPayout
	}
	if r.AcceptedOfferID != nil {
		out["accepted_offer_id"] = *r.AcceptedOfferID
	}
	if r.JobID != nil {
		out["job_id"] = *r.JobID
	}
	return out
}
