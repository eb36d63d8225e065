package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"towlink/internal/engine"
	"towlink/internal/modules/job"
	"towlink/internal/types"
)

type JobHandler struct {
	engine *engine.Engine
}

func NewJobHandler(e *engine.Engine) *JobHandler {
	return &JobHandler{engine: e}
}

func (h *JobHandler) Get(c *gin.Context) {
	j, err := h.engine.Jobs.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, jobJSON(j))
}

type advanceJobReq struct {
	Status string `json:"status"`
}

func (h *JobHandler) Advance(c *gin.Context) {
	var req advanceJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	j, err := h.engine.AdvanceJob(c.Request.Context(), types.ID(c.Param("id")), job.Status(req.Status))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, jobJSON(j))
}

type rateJobReq struct {
	Party   string `json:"party"`
	Rating  int64  `json:"rating"`
	Comment string `json:"comment"`
}

func (h *JobHandler) Rate(c *gin.Context) {
	var req rateJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	j, err := h.engine.RateJob(c.Request.Context(), types.ID(c.Param("id")), job.Party(req.Party), req.Rating, req.Comment)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, jobJSON(j))
}

type cancelJobReq struct {
	CancelledBy     string `json:"cancelled_by"`
	Reason          string `json:"reason"`
	Explanation     string `json:"explanation"`
	CancellationFee *int64 `json:"cancellation_fee"`
}

func (h *JobHandler) Cancel(c *gin.Context) {
	var req cancelJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	j, err := h.engine.CancelJob(c.Request.Context(), types.ID(c.Param("id")), req.CancelledBy, req.Reason, req.Explanation, req.CancellationFee)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, jobJSON(j))
}

func jobJSON(j *job.Job) gin.H {
	out := gin.H{
		"id":              j.ID,
		"job_number":      j.JobNumber,
		"tow_request_id":  j.TowRequestID,
		"offer_id":        j.OfferID,
		"provider_id":     j.ProviderID,
		"status":          j.Status,
		"agreed_price":    j.AgreedPrice,
		"platform_fee":    j.PlatformFee,
		"provider_payout": j.ProviderPayout,
		"payment_status":  j.PaymentStatus,
		"created_at":      j.CreatedAt,
	}
	if j.AcceptedAt != nil {
		out["accepted_at"] = *j.AcceptedAt
	}
	if j.CompletedAt != nil {
		out["completed_at"] = *j.CompletedAt
	}
	if j.TotalDurationMinutes != nil {
		out["total_duration_minutes"] = *j.TotalDurationMinutes
	}
	if j.CustomerRating != nil {
		out["customer_rating"] = *j.CustomerRating
	}
	if j.ProviderRating != nil {
		out["provider_rating"] = *j.ProviderRating
	}
	if j.Status == job.StatusCancelled {
		out["cancelled_by"] = j.CancelledBy
		out["cancellation_reason"] = j.CancellationReason
	}
	return out
}
