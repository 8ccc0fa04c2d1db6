package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"examgate/internal/auth"
	"examgate/internal/kiosk"
)

func (h *Handler) registerKiosk(c *gin.Context) {
	var req struct {
		KioskID string `json:"kiosk_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kioskID := strings.TrimSpace(req.KioskID)
	if kioskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kiosk_id required"})
		return
	}

	ctx := c.Request.Context()
	err := h.kiosks.Register(ctx, kioskID, h.now())
	if errors.Is(err, kiosk.ErrKioskExists) {
		h.logger.Warn().Str("kiosk_id", kioskID).Msg("kiosk re-registration refused")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("kiosk_id", kioskID).Msg("kiosk register failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "kiosk register failed"})
		return
	}
	tokens, ok := h.issueTokens(c, kioskID)
	if !ok {
		return
	}
	h.logger.Info().Str("kiosk_id", kioskID).Msg("kiosk registered")
	c.JSON(http.StatusCreated, tokens)
}

func (h *Handler) refreshTokens(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.issuer.Parse(req.RefreshToken, auth.UseRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	ctx := c.Request.Context()
	kioskID, err := h.kiosks.LookupRefreshToken(ctx, req.RefreshToken, h.now())
	if err == nil && kioskID != claims.Subject {
		err = kiosk.ErrRefreshTokenInvalid
	}
	if err == nil {
		err = h.kiosks.RevokeRefreshToken(ctx, req.RefreshToken)
	}
	if errors.Is(err, kiosk.ErrRefreshTokenInvalid) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("refresh token rotation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token refresh failed"})
		return
	}

	tokens, ok := h.issueTokens(c, kioskID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (h *Handler) issueTokens(c *gin.Context, kioskID string) (auth.TokenPair, bool) {
	tokens, err := h.issuer.Issue(kioskID)
	if err == nil {
		err = h.kiosks.SaveRefreshToken(c.Request.Context(), tokens.RefreshToken, kioskID, tokens.RefreshExp)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("kiosk_id", kioskID).Msg("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return auth.TokenPair{}, false
	}
	return tokens, true
}
