package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/config"
	"github.com/shiva/campusride/internal/events"
	"github.com/shiva/campusride/internal/geocode"
	"github.com/shiva/campusride/internal/handler"
	"github.com/shiva/campusride/internal/logging"
	"github.com/shiva/campusride/internal/middleware"
	"github.com/shiva/campusride/internal/repository"
	"github.com/shiva/campusride/internal/service"
	"github.com/shiva/campusride/pkg/cache"
	"github.com/shiva/campusride/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		logrus.WithError(err).Fatal("invalid log settings")
	}

	ctx := context.Background()

	// ── Open the trip store ─────────────────────────────
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.Store.Driver).Fatal("failed to open trip store")
	}
	defer store.Close()
	log.WithField("driver", cfg.Store.Driver).Info("trip store ready")

	// ── Connect to Redis (optional) ─────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to Redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.WithField("addr", cfg.Redis.Addr()).Info("redis geocoding cache enabled")
	}

	loc, err := cfg.Search.Location()
	if err != nil {
		log.WithError(err).Fatal("invalid search timezone")
	}

	// ── Initialize layers ───────────────────────────────
	client := geocode.NewClient(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent)
	gateway := geocode.NewGateway(client, redisClient, geocode.Config{
		CacheSize: cfg.Geocoder.CacheSize,
		CacheTTL:  cfg.Geocoder.CacheTTL,
		RedisTTL:  cfg.Geocoder.RedisTTL,
		Retry: geocode.RetryPolicy{
			Attempts:       cfg.Geocoder.Attempts,
			BaseDelay:      cfg.Geocoder.BackoffBase,
			MaxDelay:       cfg.Geocoder.BackoffMax,
			AttemptTimeout: cfg.Geocoder.Timeout,
		},
		DefaultSuggestMax: cfg.Geocoder.SuggestLimit,
	}, logging.Component(log, "geocode"))

	hub := events.NewHub(log)
	publishers := events.Multi{hub}
	var kafkaPub *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, kafkaPub)
		log.WithFields(logrus.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic}).Info("kafka trip events enabled")
	}

	engine := service.NewMatchingService(store, service.MatchOptions{
		DefaultRadiusKm: cfg.Search.DefaultRadiusKm,
		MaxRadiusKm:     cfg.Search.MaxRadiusKm,
		MaxResults:      cfg.Search.MaxResults,
		Location:        loc,
		HideDeparted:    cfg.Search.HideDeparted,
	}, log)
	searchSvc := service.NewSearchService(engine, gateway, log)
	tripSvc := service.NewTripService(store, gateway, publishers, log)

	// ── Setup router ────────────────────────────────────
	router := handler.NewRouter(handler.Routes{
		Trips:   handler.NewTripHandler(tripSvc, searchSvc, log),
		Geocode: handler.NewGeocodeHandler(gateway, log),
		Feed:    hub,
	}, log)

	// Health check and metrics endpoints.
	router.HandleFunc("/health", healthHandler(store, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Wrap with CORS so browser clients can call the API.
	srvHandler := middleware.CORS(router)

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.WithField("addr", cfg.Server.ServerAddr()).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked feed connections are not tracked by Shutdown.
	if err := hub.Close(); err != nil {
		log.WithError(err).Warn("closing trip feed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			log.WithError(err).Warn("closing kafka writer")
		}
	}

	log.Info("server gracefully stopped")
}

// openStore builds the trip store selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (repository.TripStore, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return repository.NewMemoryStore(), nil

	case config.StorePostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		repo := repository.NewTripRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return repo, nil

	case config.StoreSQLite:
		sqlDB, err := db.NewSQLiteDB(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		repo := repository.NewSQLiteTripRepository(sqlDB)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks the store and, when
// configured, Redis.
func healthHandler(store repository.TripStore, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := store.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Services["store"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["store"] = "healthy"
		}

		if redisClient != nil {
			if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
				resp.Status = "degraded"
				resp.Services["redis"] = "unhealthy: " + err.Error()
			} else {
				resp.Services["redis"] = "healthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
