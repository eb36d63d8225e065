// Entry point; loads config, wires the module services into the
// transaction engine, starts the HTTP server and background sweeps.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"towlink/internal/config"
	"towlink/internal/engine"
	"towlink/internal/events"
	httptransport "towlink/internal/http"
	"towlink/internal/infra"
	"towlink/internal/logging"
	"towlink/internal/maps"
	"towlink/internal/modules/job"
	"towlink/internal/modules/match"
	"towlink/internal/modules/offer"
	"towlink/internal/modules/payout"
	"towlink/internal/modules/provider"
	"towlink/internal/modules/request"
	"towlink/internal/payments"
	"towlink/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DB.RunMigrations {
		if err := infra.Migrate(cfg.DB.DSN); err != nil {
			log.Fatalf("migrations: %v", err)
		}
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password)

	var payClient payments.Client
	if cfg.Stripe.APIKey != "" {
		payClient = payments.NewStripeClient(cfg.Stripe.APIKey, cfg.Stripe.SiteURL)
	} else {
		logger.Warn("STRIPE_API_KEY not set, payment operations disabled")
	}

	var geocoder request.Geocoder
	var routes request.RouteEstimator
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		geocoder = g
		r, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		routes = r
	}

	providerStore := provider.NewPGStore(dbPool)
	providerSvc := provider.NewService(providerStore, payClient)

	requestStore := request.NewPGStore(dbPool)
	requestSvc := request.NewService(requestStore, geocoder, routes)

	offerStore := offer.NewPGStore(dbPool)
	offerSvc := offer.NewService(offerStore, requestStore, providerStore)

	jobStore := job.NewPGStore(dbPool)
	jobSvc := job.NewService(jobStore, requestStore, providerStore, logger)

	payoutStore := payout.NewPGStore(dbPool)
	payoutSvc := payout.NewService(payoutStore, jobStore, providerStore, payClient, logger)

	geoStore := match.NewGeoStore(redisClient)
	matchSvc := match.NewService(requestStore, providerStore, geoStore, logger)

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer publisher.Close()

	eng := engine.New(engine.Deps{
		Requests:      requestSvc,
		Offers:        offerSvc,
		Jobs:          jobSvc,
		Providers:     providerSvc,
		Payouts:       payoutSvc,
		Matcher:       matchSvc,
		Geo:           geoStore,
		Payments:      payClient,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Publisher:     publisher,
		Logger:        logger,
	})

	handler := httptransport.NewServer(eng, logger)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	sweeper := sweep.NewRunner(redisClient, cfg.Sweep.Interval, cfg.Sweep.LockTTL, logger, requestSvc, offerSvc)
	go sweeper.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("towlink api listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
