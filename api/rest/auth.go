// Package rest implements the admin HTTP API: login against the configured
// admin key, bot status, per-guild scoreboards and quest histories, and a
// forced save.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kasuganosora/factionbot/cache"
	"github.com/kasuganosora/factionbot/config"
	mw "github.com/kasuganosora/factionbot/middleware"
)

// AuthHandler handles admin authentication endpoints.
type AuthHandler struct {
	cache        cache.Cache
	sec          config.SecurityConfig
	adminKeyHash string
}

// NewAuthHandler creates an AuthHandler. adminKeyHash is the bcrypt hash of
// the admin API key; an empty hash disables login entirely.
func NewAuthHandler(c cache.Cache, sec config.SecurityConfig, adminKeyHash string) *AuthHandler {
	return &AuthHandler{cache: c, sec: sec, adminKeyHash: adminKeyHash}
}

type loginRequest struct {
	AdminKey string `json:"admin_key" binding:"required,min=8,max=128"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	if h.adminKeyHash == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin api disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.adminKeyHash), []byte(req.AdminKey)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	sessionID := uuid.NewString()
	token, err := mw.GenerateToken(sessionID, h.sec.JWTSecret, h.sec.JWTTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, "session:"+sessionID, "1", h.sec.JWTTTL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.sec.JWTTTL.Seconds()),
	})
}

// Logout handles POST /api/auth/logout. It revokes the session so the
// token stops working before its JWT expiry.
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID := mw.GetSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+sessionID)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}
