package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vaultisle/dataroom/pkg/audit"
	"github.com/vaultisle/dataroom/pkg/authz"
	"github.com/vaultisle/dataroom/pkg/config"
	"github.com/vaultisle/dataroom/pkg/groups"
	"github.com/vaultisle/dataroom/pkg/links"
	"github.com/vaultisle/dataroom/pkg/notify"
	"github.com/vaultisle/dataroom/pkg/observability"
	"github.com/vaultisle/dataroom/pkg/ratelimit"
	"github.com/vaultisle/dataroom/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dataroom: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting dataroom server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// OpenTelemetry
	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		}()
	}

	// Database
	db, err := storage.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := applyMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info("database migrations applied")

	// Redis (optional; rate limiting falls back to in-process counters)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		defer redisClient.Close()
		logger.Infof("redis connected at %s", cfg.Redis.Addr)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Audit trail: database always, file mirror when configured
	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	auditLogger := audit.Logger(dbAudit)
	if cfg.Audit.FileDir != "" {
		fileAudit, err := audit.NewFileLogger(cfg.Audit.FileDir)
		if err != nil {
			return err
		}
		defer fileAudit.Close()
		auditLogger = audit.NewMultiLogger(dbAudit, fileAudit)
	}

	// Notifications
	dispatcher := notify.NewDispatcher(&notify.LogSink{Logger: logger}, cfg.Notify.Timeout, logger, metrics)

	// Blob store for presigned downloads (optional)
	var blobs storage.BlobStore
	if cfg.S3.Enabled {
		s3Store, err := storage.NewS3BlobStore(ctx, storage.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize blob store: %w", err)
		}
		blobs = s3Store
	}

	// Domain services
	groupStore := groups.NewStore(db)
	groupService := groups.NewService(groupStore, logger)
	groupHandlers := groups.NewHandlers(groupService, auditLogger, logger)

	authzStore := authz.NewStore(db)
	resolver := authz.NewResolver(authzStore, groupService, logger, metrics)
	authzHandlers := authz.NewHandlers(authzStore, resolver, auditLogger, logger)

	linkStore := links.NewStore(db)
	gate := links.NewGate(linkStore, dispatcher, blobs, cfg.S3.PresignTTL, logger, metrics)
	linkHandlers := links.NewHandlers(linkStore, gate, resolver, auditLogger, logger)

	// Rate limiting
	var backend ratelimit.Backend
	var memBackend *ratelimit.MemoryBackend
	if redisClient != nil {
		backend = ratelimit.NewRedisBackend(redisClient, "ratelimit")
	} else {
		memBackend, err = ratelimit.NewMemoryBackend()
		if err != nil {
			return err
		}
		backend = memBackend
	}
	apiLimiter, err := ratelimit.NewLimiter(cfg.RateLimit.API, backend, logger, metrics)
	if err != nil {
		return err
	}
	authLimiter, err := ratelimit.NewLimiter(cfg.RateLimit.Auth, backend, logger, metrics)
	if err != nil {
		return err
	}

	if cfg.RateLimit.OverlayPath != "" {
		overlay, err := config.WatchRateLimitOverlay(cfg.RateLimit.OverlayPath, apiLimiter, authLimiter, logger)
		if err != nil {
			return err
		}
		defer overlay.Close()
	}

	// Background janitors
	janitor := cron.New()
	_, err = janitor.AddFunc(cfg.Janitor.LinkSweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := linkStore.DeactivateExpired(sweepCtx, time.Now())
		if err != nil {
			logger.WithError(err).Warn("expired link sweep failed")
			return
		}
		if n > 0 {
			logger.Infof("deactivated %d expired share links", n)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule link sweep: %w", err)
	}
	if memBackend != nil {
		_, err = janitor.AddFunc(cfg.Janitor.BucketSweepSchedule, func() {
			memBackend.Sweep(cfg.RateLimit.API.Window)
			if metrics != nil {
				metrics.RateLimitBucketsActive.Set(float64(memBackend.Len()))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule bucket sweep: %w", err)
		}
	}
	janitor.Start()
	defer func() { <-janitor.Stop().Done() }()

	// Routers
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authz.IdentityMiddleware)
	api.Use(ratelimit.Middleware(apiLimiter, ratelimit.KeyByActor))
	groupHandlers.RegisterRoutes(api)
	authzHandlers.RegisterRoutes(api)
	linkHandlers.RegisterRoutes(api)

	// The anonymous visit surface sits behind the stricter fail-closed
	// tier because it accepts password guesses
	public := router.PathPrefix("/s").Subrouter()
	public.Use(ratelimit.Middleware(authLimiter, ratelimit.KeyByClientIP))
	linkHandlers.RegisterPublicRoutes(public)

	var handler http.Handler = router
	if metrics != nil {
		handler = metrics.HTTPMiddleware(handler)
	}
	handler = requestIDMiddleware(handler)
	handler = observability.RecoveryMiddleware(logger)(handler)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "dataroom")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthChecker := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.Liveness)
	healthMux.HandleFunc("/readyz", healthChecker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health endpoints on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown failed")
		}
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// applyMigrations applies each package's schema, ordered so foreign
// keys resolve: rooms and groups first, then resources, then links
func applyMigrations(ctx context.Context, db *sql.DB) error {
	components := []struct {
		name       string
		migrations []storage.Migration
	}{
		{"groups", groups.Migrations()},
		{"authz", authz.Migrations()},
		{"links", links.Migrations()},
		{"audit", audit.Migrations()},
	}
	for _, c := range components {
		if err := storage.Apply(ctx, db, c.name, c.migrations); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", c.name, err)
		}
	}
	return nil
}

// requestIDMiddleware tags every request with an ID for log and audit
// correlation, honoring one supplied by an upstream proxy
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), requestID)))
	})
}
