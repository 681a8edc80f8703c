package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document categories persisted per guild.
const (
	CategoryGuildConfig    = "guildConfig"
	CategoryQuestProgress  = "questProgress"
	CategoryScoreboard     = "factionScoreboard"
	CategoryCommandAliases = "commandAliases"
	CategoryDynData        = "dynData"
)

// DynDoc is the dynData document: small per-guild dynamic values that must
// survive restarts.
type DynDoc struct {
	// ReorderTime (unix ms) is when the next role shuffle is due.
	ReorderTime int64 `json:"reorderTime"`
}

// GuildDocument is one JSON document keyed by guild and logical category.
// Each logical entity is its own document, loaded and saved independently.
type GuildDocument struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID   string         `gorm:"index:idx_guild_category,unique;size:32;not null" json:"guild_id"`
	Category  string         `gorm:"index:idx_guild_category,unique;size:32;not null" json:"category"`
	Data      datatypes.JSON `json:"data"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
