package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"entrytracker/internal/api"
	"entrytracker/internal/attendance"
	"entrytracker/internal/auth"
	"entrytracker/internal/cloudinary"
	"entrytracker/internal/config"
	"entrytracker/internal/httpmiddleware"
	"entrytracker/internal/logging"
	"entrytracker/internal/metrics"
	"entrytracker/internal/qrcode"
	"entrytracker/internal/queue"
	"entrytracker/internal/snapshot"
	"entrytracker/internal/store"
	"entrytracker/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "entrytracker-api")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("detail", w))
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()
	logger.Info("store opened", zap.String("backend", cfg.StoreBackend))

	loc := reportLocation(cfg, logger)

	var (
		redisClient *store.Redis
		rdb         *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		rdb = redisClient.Client
	}

	q, closeQueue, err := queue.Open(cfg, rdb, "entrytracker-api")
	if err != nil {
		return err
	}
	defer closeQueue()

	// An in-memory queue only reaches consumers in this process.
	if cfg.QueueBackend == "" || cfg.QueueBackend == "memory" {
		messages, err := q.Consume(ctx)
		if err != nil {
			return err
		}
		var cache worker.SnapshotWriter
		if rdb != nil {
			cache = snapshot.NewCache(rdb, 0)
		}
		go worker.New(backend, cache, logger.Named("projector")).Run(ctx, messages)
	}

	var images attendance.ImageHost
	if cfg.CloudinaryEnabled() {
		images = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, QR images are served by the API only")
	}

	m := metrics.New()
	registry := attendance.NewRegistry(backend, qrcode.New(cfg.QRSize), images, logger)
	svc := attendance.NewService(registry, attendance.NewEventLog(backend), attendance.Options{
		Publisher: q,
		Recorder:  m,
		Logger:    logger,
		Location:  loc,
	})

	operators, err := auth.ParseOperators(cfg.Operators)
	if err != nil {
		return err
	}
	if operators.Len() == 0 {
		if cfg.Env != "dev" {
			return errors.New("OPERATORS must list at least one email:bcrypt-hash pair")
		}
		if err := operators.Add("dev@localhost", "dev"); err != nil {
			return err
		}
		logger.Warn("no operators configured, using dev@localhost with password dev")
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(logging.Gin(logger, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok", "store": cfg.StoreBackend}
		if redisClient != nil {
			healthy := redisClient.Healthy(c.Request.Context())
			body["redis"] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	})

	handler := api.New(svc, operators, api.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, loc, logger)
	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	handler.Register(r, limiter.GinMiddleware(httpmiddleware.ByOwnerOrIP))

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// reportLocation resolves the calendar for daily stats, falling back to UTC.
func reportLocation(cfg config.App, logger *zap.Logger) *time.Location {
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("invalid REPORT_TIMEZONE, using UTC", zap.Error(err))
	}
	return loc
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
