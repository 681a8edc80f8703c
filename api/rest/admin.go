package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kasuganosora/factionbot/bot/quest"
	"github.com/kasuganosora/factionbot/model"
	"github.com/kasuganosora/factionbot/store"
)

// AdminHandler exposes bot state to the admin API.
type AdminHandler struct {
	db       *gorm.DB
	store    *store.Store
	sessions *quest.SessionTable
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, st *store.Store, sessions *quest.SessionTable, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, store: st, sessions: sessions, logger: logger}
}

// Status handles GET /api/admin/status.
func (h *AdminHandler) Status(c *gin.Context) {
	guilds := h.store.Guilds()
	ready := 0
	for _, id := range guilds {
		if h.store.Ready(id) {
			ready++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"guilds_loaded": len(guilds),
		"guilds_ready":  ready,
		"open_quests":   h.sessions.Len(),
	})
}

// Scoreboard handles GET /api/admin/guilds/:guild_id/scoreboard. The
// response is built from a detached copy so the engine's event loop never
// shares documents with the HTTP goroutines.
func (h *AdminHandler) Scoreboard(c *gin.Context) {
	guildID := c.Param("guild_id")
	board := h.store.SnapshotScoreboard(guildID)
	if board == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "guild not loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guild_id": guildID, "factions": board})
}

// UserProgress handles GET /api/admin/guilds/:guild_id/users/:user_id.
func (h *AdminHandler) UserProgress(c *gin.Context) {
	guildID := c.Param("guild_id")
	userID := c.Param("user_id")
	if !h.store.Loaded(guildID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "guild not loaded"})
		return
	}
	rec, ok := h.store.SnapshotUser(guildID, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user has no quest history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guild_id": guildID, "user_id": userID, "record": rec})
}

// ResetUser handles DELETE /api/admin/guilds/:guild_id/users/:user_id. The
// user's quest history is dropped so the next message treats them as new.
func (h *AdminHandler) ResetUser(c *gin.Context) {
	guildID := c.Param("guild_id")
	userID := c.Param("user_id")
	if !h.store.Loaded(guildID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "guild not loaded"})
		return
	}
	h.store.DeleteUser(guildID, userID)
	h.sessions.Delete(userID)
	h.logger.Info("user progress reset via admin api",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// Save handles POST /api/admin/save, forcing a flush of dirty documents.
func (h *AdminHandler) Save(c *gin.Context) {
	if err := h.store.SaveAll(c.Request.Context()); err != nil {
		h.logger.Error("admin save failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// AuditLog handles GET /api/admin/guilds/:guild_id/audit?limit=N.
func (h *AdminHandler) AuditLog(c *gin.Context) {
	guildID := c.Param("guild_id")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	var rows []model.BotAuditLog
	err := h.db.WithContext(c.Request.Context()).
		Where("guild_id = ?", guildID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guild_id": guildID, "entries": rows})
}
