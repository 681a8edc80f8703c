// Package store persists per-guild JSON documents (quest progress, faction
// scoreboard, command aliases, guild configuration) keyed by guild ID and
// logical category, with an in-memory working set and a read/write-through
// cache.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/factionbot/bot/questdef"
	"github.com/kasuganosora/factionbot/cache"
	"github.com/kasuganosora/factionbot/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// snapshotTTL bounds how long a cached document snapshot may outlive its row.
const snapshotTTL = 24 * time.Hour

// Store owns the loaded working set of guild documents. Documents are read
// and mutated by the engine between loads; SaveAll flushes dirty ones.
//
// Two locks with a fixed order (docMu before mu): mu guards the guilds map
// and dirty flags, docMu guards the contents of the documents themselves.
// The engine wraps each event in Sync, so flushes and admin reads never
// observe a half-applied mutation.
type Store struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger

	docMu sync.RWMutex

	mu     sync.RWMutex
	guilds map[string]*guildState
}

type guildState struct {
	// config is nil when the guild has no (valid) configuration document;
	// such guilds are treated as not ready and their events are ignored.
	config     *questdef.GuildConfig
	progress   model.ProgressDoc
	scoreboard model.ScoreboardDoc
	aliases    model.AliasDoc
	dyn        *model.DynDoc
	dirty      map[string]bool
}

// New creates a Store.
func New(db *gorm.DB, c cache.Cache, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		cache:  c,
		logger: logger,
		guilds: make(map[string]*guildState),
	}
}

// LoadGuild loads every document of the guild into the working set. Absent
// mutable documents are created with their defaults; an absent or invalid
// guildConfig leaves the guild loaded but not ready. Loading an already
// loaded guild is a no-op.
func (s *Store) LoadGuild(ctx context.Context, guildID string) error {
	s.mu.RLock()
	_, loaded := s.guilds[guildID]
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	g := &guildState{
		progress:   model.ProgressDoc{},
		scoreboard: model.ScoreboardDoc{},
		aliases:    model.AliasDoc{},
		dyn:        &model.DynDoc{},
		dirty:      make(map[string]bool),
	}

	var cfg questdef.GuildConfig
	found, err := s.loadDoc(ctx, guildID, model.CategoryGuildConfig, &cfg, false)
	if err != nil {
		return err
	}
	if found {
		if err := cfg.Validate(); err != nil {
			s.logger.Error("invalid guild config, treating guild as not ready",
				zap.String("guild_id", guildID),
				zap.Error(err))
		} else {
			g.config = &cfg
		}
	}

	if _, err := s.loadDoc(ctx, guildID, model.CategoryQuestProgress, &g.progress, true); err != nil {
		return err
	}
	if _, err := s.loadDoc(ctx, guildID, model.CategoryScoreboard, &g.scoreboard, true); err != nil {
		return err
	}
	if _, err := s.loadDoc(ctx, guildID, model.CategoryCommandAliases, &g.aliases, true); err != nil {
		return err
	}
	if _, err := s.loadDoc(ctx, guildID, model.CategoryDynData, g.dyn, true); err != nil {
		return err
	}

	s.mu.Lock()
	if _, raced := s.guilds[guildID]; !raced {
		s.guilds[guildID] = g
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) loadDoc(ctx context.Context, guildID, category string, out interface{}, createDefault bool) (bool, error) {
	// Cached snapshots are written on every load and save, so a hit here
	// skips the database entirely.
	if raw, err := s.cache.Get(ctx, docKey(guildID, category)); err == nil {
		if err := json.Unmarshal([]byte(raw), out); err == nil {
			return true, nil
		}
		s.logger.Warn("discarding undecodable cached document",
			zap.String("guild_id", guildID), zap.String("category", category))
	}

	var row model.GuildDocument
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND category = ?", guildID, category).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if !createDefault {
			return false, nil
		}
		data, merr := json.Marshal(out)
		if merr != nil {
			return false, merr
		}
		row = model.GuildDocument{GuildID: guildID, Category: category, Data: datatypes.JSON(data)}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return false, fmt.Errorf("store: create %s/%s: %w", guildID, category, err)
		}
		s.cacheSet(ctx, guildID, category, data)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: load %s/%s: %w", guildID, category, err)
	}
	if err := json.Unmarshal(row.Data, out); err != nil {
		return false, fmt.Errorf("store: decode %s/%s: %w", guildID, category, err)
	}
	s.cacheSet(ctx, guildID, category, row.Data)
	return true, nil
}

// Loaded reports whether the guild's documents are in the working set.
func (s *Store) Loaded(guildID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.guilds[guildID]
	return ok
}

// Ready reports whether the guild is loaded and carries a valid configuration.
func (s *Store) Ready(guildID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	return ok && g.config != nil
}

// GuildConfig returns the guild's configuration, or nil when the guild is
// unloaded or not ready. Cache-only; never blocks on the database.
func (s *Store) GuildConfig(guildID string) *questdef.GuildConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.guilds[guildID]; ok {
		return g.config
	}
	return nil
}

// Progress returns the guild's quest-progress document, or nil when unloaded.
func (s *Store) Progress(guildID string) model.ProgressDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.guilds[guildID]; ok {
		return g.progress
	}
	return nil
}

// Scoreboard returns the guild's faction scoreboard, or nil when unloaded.
func (s *Store) Scoreboard(guildID string) model.ScoreboardDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.guilds[guildID]; ok {
		return g.scoreboard
	}
	return nil
}

// Aliases returns the guild's command aliases, or nil when unloaded.
func (s *Store) Aliases(guildID string) model.AliasDoc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.guilds[guildID]; ok {
		return g.aliases
	}
	return nil
}

// Sync runs fn while holding the document write lock. The engine wraps each
// event in it; fn must not call SaveAll, DeleteUser, ShuffleDue or the
// Snapshot accessors, which take the same lock.
func (s *Store) Sync(fn func()) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	fn()
}

// SnapshotScoreboard returns a detached copy of the guild's scoreboard for
// readers outside the event loop, or nil when the guild is unloaded.
func (s *Store) SnapshotScoreboard(guildID string) model.ScoreboardDoc {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil
	}
	out := make(model.ScoreboardDoc, len(g.scoreboard))
	for key, stats := range g.scoreboard {
		copied := *stats
		out[key] = &copied
	}
	return out
}

// SnapshotUser returns a detached copy of one user's quest history.
func (s *Store) SnapshotUser(guildID, userID string) (*model.UserRecord, bool) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, false
	}
	rec, ok := g.progress[userID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ShuffleDue reports whether the guild's periodic role reorder is due and,
// when it is, stamps the next due time so the cadence survives restarts.
func (s *Store) ShuffleDue(guildID string, now time.Time, interval time.Duration) bool {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return false
	}
	if now.UnixMilli() < g.dyn.ReorderTime {
		return false
	}
	g.dyn.ReorderTime = now.Add(interval).UnixMilli()
	g.dirty[model.CategoryDynData] = true
	return true
}

// DeleteUser drops a user's quest history from the guild, if present.
func (s *Store) DeleteUser(guildID, userID string) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return
	}
	if _, ok := g.progress[userID]; ok {
		delete(g.progress, userID)
		g.dirty[model.CategoryQuestProgress] = true
	}
}

// MarkDirty flags a guild document for the next flush.
func (s *Store) MarkDirty(guildID, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guilds[guildID]; ok {
		g.dirty[category] = true
	}
}

// Guilds returns the IDs of every loaded guild.
func (s *Store) Guilds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	return ids
}

// SaveAll flushes every dirty document. The first failure aborts the flush
// and is returned; nothing is silently dropped. The document read lock is
// held for the whole flush, so events never land mid-marshal.
func (s *Store) SaveAll(ctx context.Context) error {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for guildID, g := range s.guilds {
		for category := range g.dirty {
			if err := s.saveDoc(ctx, guildID, category, g); err != nil {
				return err
			}
			delete(g.dirty, category)
		}
	}
	return nil
}

func (s *Store) saveDoc(ctx context.Context, guildID, category string, g *guildState) error {
	var doc interface{}
	switch category {
	case model.CategoryQuestProgress:
		doc = g.progress
	case model.CategoryScoreboard:
		doc = g.scoreboard
	case model.CategoryCommandAliases:
		doc = g.aliases
	case model.CategoryGuildConfig:
		doc = g.config
	case model.CategoryDynData:
		doc = g.dyn
	default:
		return fmt.Errorf("store: unknown category %q", category)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", guildID, category, err)
	}
	row := model.GuildDocument{GuildID: guildID, Category: category, Data: datatypes.JSON(data)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save %s/%s: %w", guildID, category, err)
	}
	s.cacheSet(ctx, guildID, category, data)
	return nil
}

func (s *Store) cacheSet(ctx context.Context, guildID, category string, data []byte) {
	key := docKey(guildID, category)
	if err := s.cache.Set(ctx, key, string(data), snapshotTTL); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func docKey(guildID, category string) string {
	return "doc:" + guildID + ":" + category
}
