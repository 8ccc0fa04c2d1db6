package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"examgate/internal/auth"
	"examgate/internal/config"
	"examgate/internal/handler"
	"examgate/internal/httpmiddleware"
	"examgate/internal/kiosk"
	"examgate/internal/matcher"
	"examgate/internal/observability"
	"examgate/internal/probe"
	"examgate/internal/queue"
	"examgate/internal/scoring"
	"examgate/internal/store"
	"examgate/internal/verification"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "examgate-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func run(cfg config.App, logger zerolog.Logger) error {
	observability.RegisterMetrics()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.StoreDriver, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	defer db.Close()
	if err != nil {
		logger.Warn().Err(err).Msg("database not reachable, schema not applied")
	} else if err := db.Migrate(ctx); err != nil {
		return err
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	repo := verification.NewRepository(db.Client)
	var templates verification.TemplateStore = repo
	if cfg.TemplateCacheTTL > 0 {
		templates = store.NewTemplateCache(repo, redisClient.Client, cfg.TemplateCacheTTL, logger)
	}

	var faceScorer, fingerScorer verification.Scorer = scoring.FaceScorer{}, scoring.FingerprintScorer{}
	if cfg.ScorerBackend == "remote" {
		client := matcher.New(cfg.MatcherURL, 10*time.Second)
		if err := client.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("matcher not available")
		}
		faceScorer = matcher.NewScorer(client, matcher.ModalityFace)
		fingerScorer = matcher.NewScorer(client, matcher.ModalityFingerprint)
	}

	registry := kiosk.NewRegistry(verification.Deps{
		Resolver:  verification.NewResolver(templates, faceScorer, cfg.FaceThreshold, cfg.AmbiguityMargin),
		Confirmer: verification.NewFingerprintConfirmer(fingerScorer),
		Sessions:  repo,
		Audit:     verification.NewNotifyingAuditLog(repo, q, logger),
		Logger:    logger,
	}, verification.Config{
		FingerprintThreshold: cfg.FingerprintThreshold,
		StateTimeout:         cfg.StateTimeout,
	})

	// A single process owns the in-memory queue, so it runs the consumer too.
	if cfg.QueueBackend == "memory" {
		monitor := probe.NewMonitor(redisClient.Client, cfg.ProbeWindow, cfg.ProbeLimit, logger)
		go func() {
			if err := probe.NewConsumer(q, repo, monitor, logger).Run(ctx); err != nil {
				logger.Error().Err(err).Msg("probe consumer stopped")
			}
		}()
	}

	issuer := auth.Issuer{
		Name:       cfg.JWTIssuer,
		Key:        cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}
	h := handler.New(registry, repo, kiosk.NewRepository(db.Client), issuer, map[string]handler.HealthCheck{
		"db":    db.Healthy,
		"redis": redisClient.Healthy,
	}, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.CorrelationID())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())
	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware()
	h.Register(r, limiter)

	srv := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced shutdown")
	}
	logger.Info().Msg("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.CorrelationHeader},
		ExposeHeaders: []string{"Content-Length", httpmiddleware.CorrelationHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
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
