package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/factionbot/config"
	"github.com/kasuganosora/factionbot/store"
)

// saveTimeout bounds one periodic flush.
const saveTimeout = 30 * time.Second

// shuffleCheckInterval is how often due times are polled. The shuffle
// cadence itself is cfg.RoleShuffleInterval, persisted per guild so a
// restart never resets the clock.
const shuffleCheckInterval = time.Minute

// RoleShuffler reorders a guild's roles. Implemented by the gateway.
type RoleShuffler interface {
	ShuffleRoles(guildID string, roleIDs []string) error
}

// RegisterBotTasks wires the bot's periodic jobs: the dirty document flush
// and the role shuffle that hides any hierarchy the role order suggests.
func RegisterBotTasks(s *Scheduler, st *store.Store, shuffler RoleShuffler, cfg config.BotConfig, logger *zap.Logger) {
	s.AddTicker("document_flush", cfg.SaveInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := st.SaveAll(ctx); err != nil {
			logger.Error("periodic save failed", zap.Error(err))
		}
	})

	s.AddTicker("role_shuffle", shuffleCheckInterval, func() {
		now := time.Now()
		for _, guildID := range st.Guilds() {
			gc := st.GuildConfig(guildID)
			if gc == nil || len(gc.ShuffleRoles) < 2 {
				continue
			}
			if !st.ShuffleDue(guildID, now, cfg.RoleShuffleInterval) {
				continue
			}
			if err := shuffler.ShuffleRoles(guildID, gc.ShuffleRoles); err != nil {
				logger.Warn("role shuffle failed",
					zap.String("guild_id", guildID), zap.Error(err))
			}
		}
	})
}
