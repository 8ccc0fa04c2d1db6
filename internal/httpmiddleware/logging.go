package httpmiddleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"examgate/internal/auth"
	"examgate/internal/observability"
)

// CorrelationHeader carries the request correlation id.
const CorrelationHeader = "X-Correlation-ID"

const correlationKey = "correlation_id"

var quietPaths = map[string]bool{"/healthz": true, "/metrics": true}

// CorrelationID reuses the caller's correlation id or generates one, and
// echoes it on the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Writer.Header().Set(CorrelationHeader, id)
		c.Next()
	}
}

// GetCorrelationID returns the id set by CorrelationID.
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// RequestLogger logs one line per request and records HTTP metrics.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if quietPaths[c.Request.URL.Path] {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		observability.HTTPRequests().WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		observability.HTTPLatency().WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())

		evt := log.Info()
		if status >= 500 {
			evt = log.Error()
		} else if status >= 400 {
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int64("latency_ms", latency.Milliseconds()).
			Str("kiosk_id", auth.KioskID(c)).
			Str("correlation_id", GetCorrelationID(c)).
			Msg("request")
	}
}
