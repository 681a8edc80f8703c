package model

import (
	"time"

	"gorm.io/datatypes"
)

// BotAuditLog records one bot action for the audit trail.
type BotAuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"size:64;index" json:"trace_id"`
	GuildID   string         `gorm:"size:32;index" json:"guild_id"`
	UserID    string         `gorm:"size:32;index" json:"user_id"`
	Action    string         `gorm:"size:32;not null" json:"action"`
	Detail    datatypes.JSON `json:"detail"`
	Error     string         `gorm:"size:512" json:"error"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
