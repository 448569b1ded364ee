package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"apx-claims-api/internal/cache"
	"apx-claims-api/internal/config"
	"apx-claims-api/internal/database"
	"apx-claims-api/internal/events"
	"apx-claims-api/internal/features"
	"apx-claims-api/internal/handler"
	"apx-claims-api/internal/jobs"
	"apx-claims-api/internal/metrics"
	"apx-claims-api/internal/middleware"
	"apx-claims-api/internal/service"
	"apx-claims-api/internal/tracing"
)

const serviceName = "apx-claims-api"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: serviceName,
		Version:     version,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		log.WithError(err).Fatal("Failed to initialize tracing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize ledger
	db, err := database.NewDB(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	programs, err := config.LoadPrograms(cfg.ProgramsFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load reward programs")
	}
	seeded, err := db.SeedPrograms(ctx, programs)
	if err != nil {
		log.WithError(err).Fatal("Failed to seed reward programs")
	}
	log.WithFields(log.Fields{"file": cfg.ProgramsFile, "seeded": seeded}).Info("Reward programs loaded")

	mirror := cache.NewClaimMirror(newMirrorCache(ctx, cfg), cfg.Redis.MirrorTTL)
	if cfg.Redis.PurgeOnStart {
		n, err := mirror.Purge(ctx)
		if err != nil {
			log.WithError(err).Fatal("Failed to purge claim mirror")
		}
		log.WithField("records", n).Info("Claim mirror purged")
	}

	flags := features.NewDefaultManager(cfg.Features.WeeklyClaims, cfg.Features.CacheFallback, cfg.Features.EventHooks)
	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooks))
	subscribeAuditLog(eventManager)

	m := metrics.New()

	svc := service.NewService(db, db, service.Dependencies{
		Mirror:   mirror,
		Events:   eventManager,
		Features: flags,
		Metrics:  m,
	})
	if err := svc.ReloadPrograms(ctx); err != nil {
		log.WithError(err).Fatal("Failed to load reward programs into service")
	}

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize:       cfg.Security.MaxRequestBodySize,
		AllowTimeOverride: cfg.AllowTimeOverride,
		Ledger:            db,
	})
	if cfg.AllowTimeOverride {
		log.Warn("Time override enabled: clients may evaluate claims at any instant")
	}

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(serviceName))
	r.Use(middleware.Observability(m))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Window)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	adminAuth := middleware.NewAdminAuth(cfg.Security.AdminJWTSecret)
	if cfg.Security.AdminJWTSecret == "" {
		log.Warn("ADMIN_JWT_SECRET not set, admin routes are disabled")
	}
	h.Register(r, adminAuth.Middleware(middleware.ScopeRewardsAdmin))
	r.Handle("/metrics", m.Handler())

	scheduler := jobs.NewScheduler(svc, cfg.SweepSchedule)
	scheduler.RunOnce(ctx)
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start scheduler")
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"addr":     server.Addr,
			"database": cfg.Database.Path,
			"version":  version,
		}).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down server")
	}
	scheduler.Stop()
	eventManager.Shutdown()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error flushing traces")
	}
}

// newMirrorCache connects to redis when configured and falls back to process
// memory otherwise.
func newMirrorCache(ctx context.Context, cfg *config.Config) cache.Cache {
	if cfg.Redis.Addr == "" {
		log.Info("REDIS_ADDR not set, mirroring claim records in memory")
		return cache.NewInMemoryCache()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	redisCache, err := cache.NewRedisCache(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Redis unreachable, mirroring claim records in memory")
		return cache.NewInMemoryCache()
	}
	log.WithField("addr", cfg.Redis.Addr).Info("Mirroring claim records in redis")
	return redisCache
}

// subscribeAuditLog logs the state-changing events.
func subscribeAuditLog(m *events.Manager) {
	m.Subscribe(events.EventClaimCompleted, func(ctx context.Context, event events.Event) error {
		data, ok := event.Data.(events.ClaimCompletedData)
		if !ok {
			return nil
		}
		log.WithFields(log.Fields{
			"event":   string(event.Type),
			"id":      data.Receipt.ID,
			"address": data.Receipt.Address,
			"cadence": data.Receipt.Cadence,
			"streak":  data.Receipt.Streak,
			"reward":  data.Receipt.Reward,
		}).Info("audit")
		return nil
	})

	m.Subscribe(events.EventProgramUpdated, func(ctx context.Context, event events.Event) error {
		data, ok := event.Data.(events.ProgramUpdatedData)
		if !ok {
			return nil
		}
		log.WithFields(log.Fields{
			"event":       string(event.Type),
			"cadence":     data.Program.Cadence,
			"base_amount": data.Program.BaseAmount,
		}).Info("audit")
		return nil
	})

	m.Subscribe(events.EventStreaksSwept, func(ctx context.Context, event events.Event) error {
		data, ok := event.Data.(events.StreaksSweptData)
		if !ok {
			return nil
		}
		log.WithFields(log.Fields{
			"event": string(event.Type),
			"reset": data.Reset,
		}).Debug("audit")
		return nil
	})
}
