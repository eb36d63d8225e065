// Package handlers contains the gin handlers for the public API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"towlink/internal/modules/job"
	"towlink/internal/modules/offer"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps module sentinels onto HTTP statuses. Unknown
// errors deliberately surface as opaque 500s.
func writeDomainError(c *gin.Context, err error) {
	var transition *job.InvalidTransitionError
	switch {
	case errors.Is(err, request.ErrNotFound),
		errors.Is(err, offer.ErrNotFound),
		errors.Is(err, job.ErrNotFound),
		errors.Is(err, provider.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrValidation),
		errors.Is(err, offer.ErrValidation),
		errors.Is(err, job.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, offer.ErrNotVerified):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.As(err, &transition),
		errors.Is(err, request.ErrInvalidState),
		errors.Is(err, offer.ErrInvalidState),
		errors.Is(err, job.ErrInvalidState),
		errors.Is(err, offer.ErrExpired),
		errors.Is(err, offer.ErrAlreadyResolved),
		errors.Is(err, job.ErrAlreadyRated):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
