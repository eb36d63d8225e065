// Package http is the API gateway; it registers routes and delegates
// to the transaction engine.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"towlink/internal/engine"
	"towlink/internal/http/handlers"
	"towlink/internal/http/middleware"
)

type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewServer(e *engine.Engine, logger *slog.Logger) *Server {
	return &Server{engine: e, logger: logger}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Observability(s.logger))

	requestHandler := handlers.NewRequestHandler(s.engine)
	offerHandler := handlers.NewOfferHandler(s.engine)
	jobHandler := handlers.NewJobHandler(s.engine)
	providerHandler := handlers.NewProviderHandler(s.engine)
	webhookHandler := handlers.NewWebhookHandler(s.engine)

	api := r.Group("/api")
	{
		api.POST("/requests", requestHandler.Create)
		api.GET("/requests", requestHandler.ListOpen)
		api.GET("/requests/:id", requestHandler.Get)
		api.POST("/requests/:id/cancel", requestHandler.Cancel)
		api.GET("/price-guidance", requestHandler.PriceGuidance)

		api.POST("/requests/:id/offers", offerHandler.Create)
		api.GET("/requests/:id/offers", offerHandler.ListByRequest)
		api.POST("/requests/:id/offers/:offerID/resolve", offerHandler.Resolve)

		api.GET("/jobs/:id", jobHandler.Get)
		api.POST("/jobs/:id/advance", jobHandler.Advance)
		api.POST("/jobs/:id/rate", jobHandler.Rate)
		api.POST("/jobs/:id/cancel", jobHandler.Cancel)

		api.GET("/providers/:id", providerHandler.Get)
		api.PUT("/providers/:id/location", providerHandler.UpdateLocation)
		api.POST("/providers/:id/online", providerHandler.SetOnline)
		api.POST("/providers/:id/onboarding", providerHandler.StartOnboarding)
		api.GET("/providers/:id/requests", providerHandler.NearbyRequests)
		api.GET("/providers/:id/jobs", providerHandler.ListJobs)
		api.GET("/providers/:id/payouts", providerHandler.ListPayouts)
	}

	r.POST("/webhooks/stripe", webhookHandler.Stripe)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
