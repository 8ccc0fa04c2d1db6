package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"examgate/internal/auth"
	"examgate/internal/verification"
)

const maxListLimit = 200

func (h *Handler) submitFace(c *gin.Context) {
	var req struct {
		Descriptor []byte `json:"descriptor" binding:"required"`
		StudentID  string `json:"student_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := h.registry.Begin(auth.KioskID(c))
	res, err := e.SubmitFace(c.Request.Context(), req.Descriptor, req.StudentID)
	h.respond(c, res, err)
}

func (h *Handler) checkEnrollment(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.registry.Current(auth.KioskID(c))
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	res, err := e.CheckEnrollment(c.Request.Context(), req.SessionID)
	h.respond(c, res, err)
}

func (h *Handler) submitFingerprint(c *gin.Context) {
	var req struct {
		Descriptor []byte `json:"descriptor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.registry.Current(auth.KioskID(c))
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	res, err := e.SubmitFingerprint(c.Request.Context(), req.Descriptor)
	h.respond(c, res, err)
}

// abort cancels the open run. With no open run a fresh one is started and
// aborted so the cancellation is still recorded.
func (h *Handler) abort(c *gin.Context) {
	res, err := h.registry.Begin(auth.KioskID(c)).Abort(c.Request.Context())
	h.respond(c, res, err)
}

func (h *Handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Snapshot(auth.KioskID(c)))
}

func (h *Handler) listAttempts(c *gin.Context) {
	f := verification.AttemptFilter{
		KioskID:       auth.KioskID(c),
		ExamSessionID: c.Query("session_id"),
		StudentID:     c.Query("student_id"),
		Verdict:       verification.Verdict(c.Query("verdict")),
		Limit:         50,
	}
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = min(parsed, maxListLimit)
	}
	if v := c.Query("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		f.Offset = parsed
	}

	attempts, err := h.attempts.ListAttempts(c.Request.Context(), f)
	if err != nil {
		h.logger.Error().Err(err).Msg("list attempts failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attempt store unavailable"})
		return
	}
	if attempts == nil {
		attempts = []verification.Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (h *Handler) getAttempt(c *gin.Context) {
	a, err := h.attempts.GetAttempt(c.Request.Context(), c.Param("id"))
	if errors.Is(err, verification.ErrAttemptNotFound) || (err == nil && a.KioskID != auth.KioskID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("get attempt failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attempt store unavailable"})
		return
	}
	c.JSON(http.StatusOK, a)
}
