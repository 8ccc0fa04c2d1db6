package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"examgate/internal/auth"
	"examgate/internal/kiosk"
	"examgate/internal/verification"
)

// AttemptReader lists recorded attempts.
type AttemptReader interface {
	GetAttempt(ctx context.Context, id string) (verification.Attempt, error)
	ListAttempts(ctx context.Context, f verification.AttemptFilter) ([]verification.Attempt, error)
}

// KioskStore persists kiosks and their refresh tokens.
type KioskStore interface {
	Register(ctx context.Context, kioskID string, now time.Time) error
	SaveRefreshToken(ctx context.Context, token, kioskID string, expiresAt time.Time) error
	LookupRefreshToken(ctx context.Context, token string, now time.Time) (string, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the kiosk API.
type Handler struct {
	registry *kiosk.Registry
	attempts AttemptReader
	kiosks   KioskStore
	issuer   auth.Issuer
	health   map[string]HealthCheck
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a handler.
func New(registry *kiosk.Registry, attempts AttemptReader, kiosks KioskStore, issuer auth.Issuer, health map[string]HealthCheck, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		attempts: attempts,
		kiosks:   kiosks,
		issuer:   issuer,
		health:   health,
		logger:   logger.With().Str("component", "handler").Logger(),
		now:      time.Now,
	}
}

// Register mounts all routes. authed runs after token validation on the
// kiosk routes.
func (h *Handler) Register(r gin.IRouter, authed ...gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/v1/kiosks/register", h.registerKiosk)
	r.POST("/v1/kiosks/refresh", h.refreshTokens)

	g := r.Group("/v1", append([]gin.HandlerFunc{auth.KioskAuth(h.issuer)}, authed...)...)
	g.POST("/verification/face", h.submitFace)
	g.POST("/verification/enrollment", h.checkEnrollment)
	g.POST("/verification/fingerprint", h.submitFingerprint)
	g.POST("/verification/abort", h.abort)
	g.GET("/verification/state", h.state)
	g.GET("/attempts", h.listAttempts)
	g.GET("/attempts/:id", h.getAttempt)
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// respond maps engine outcomes onto HTTP. Rejections are 200 responses; an
// audit failure keeps the computed result in the body.
func (h *Handler) respond(c *gin.Context, result any, err error) {
	var auditErr *verification.AuditError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.As(err, &auditErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attempt could not be recorded", "attempt_id": auditErr.AttemptID, "result": result})
	case errors.Is(err, verification.ErrInvalidTransition), errors.Is(err, kiosk.ErrNoOpenAttempt):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
