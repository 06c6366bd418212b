package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"wa-gateway-lite/internal/middleware"
	"wa-gateway-lite/internal/model"
	"wa-gateway-lite/internal/session"
)

// SessionService is the part of the session manager the HTTP layer drives.
type SessionService interface {
	Start(ctx context.Context, phone string) (session.View, error)
	Get(ctx context.Context, sessionID string) (session.View, error)
	List(ctx context.Context) ([]model.Session, error)
	QR(ctx context.Context, sessionID string) (string, error)
	Stop(ctx context.Context, sessionID string) (session.View, error)
}

type SessionHandler struct {
	Sessions SessionService
}

type startSessionBody struct {
	PhoneNumber string `json:"phoneNumber"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}
	// Creating sessions is reserved to unscoped tokens.
	if len(claims.Sessions) > 0 {
		denyScope(c)
		return
	}

	var body startSessionBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.PhoneNumber) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	view, err := h.Sessions.Start(c.Request.Context(), body.PhoneNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

func (h *SessionHandler) List(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	list, err := h.Sessions.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]model.Session, 0, len(list))
	for _, s := range list {
		if claims.AllowsSession(s.ID) {
			resp = append(resp, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp})
}

func (h *SessionHandler) Get(c *gin.Context) {
	view, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}

func (h *SessionHandler) QR(c *gin.Context) {
	qr, err := h.Sessions.QR(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if qr == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No QR code pending"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr": qr})
}

func (h *SessionHandler) Stop(c *gin.Context) {
	view, err := h.Sessions.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": view})
}
