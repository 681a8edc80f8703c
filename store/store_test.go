package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kasuganosora/factionbot/bot/questdef"
	"github.com/kasuganosora/factionbot/cache/local"
	"github.com/kasuganosora/factionbot/config"
	dbadapter "github.com/kasuganosora/factionbot/db"
	"github.com/kasuganosora/factionbot/model"
)

// Local fixtures instead of the shared testutil helpers: testutil imports
// this package, so its helpers cannot be used here.
func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: ":memory:",
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

func setupStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	c, err := local.NewCache(local.Config{})
	require.NoError(t, err)
	return New(db, c, zap.NewNop()), db
}

func minimalConfig() *questdef.GuildConfig {
	finish := questdef.One("finish")
	return &questdef.GuildConfig{
		BotChannels: []string{"chan-1"},
		Factions: map[string]questdef.Faction{
			"alpha": {Title: "Alpha", Role: "r-alpha"},
		},
		Quest: questdef.Quest{
			StartQuestion:  questdef.One("q1"),
			DeadEndMessage: questdef.One("dead end"),
			Questions: map[string]questdef.Question{
				"q1": {
					Text: questdef.One("Ready?"),
					Answers: []questdef.Randomizable[questdef.Answer]{
						questdef.One(questdef.Answer{Text: "Yes", Target: &finish}),
					},
				},
			},
		},
	}
}

func seedConfig(t *testing.T, db *gorm.DB, guildID string, cfg *questdef.GuildConfig) {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.GuildDocument{
		GuildID:  guildID,
		Category: model.CategoryGuildConfig,
		Data:     datatypes.JSON(data),
	}).Error)
}

func TestLoadGuildCreatesDefaults(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()

	require.NoError(t, st.LoadGuild(ctx, "g1"))
	assert.True(t, st.Loaded("g1"))
	assert.True(t, st.Ready("g1"))
	require.NotNil(t, st.GuildConfig("g1"))
	assert.NotNil(t, st.Progress("g1"))
	assert.NotNil(t, st.Scoreboard("g1"))
	assert.NotNil(t, st.Aliases("g1"))

	// The mutable documents were created as rows, the config was not touched.
	var count int64
	require.NoError(t, db.Model(&model.GuildDocument{}).
		Where("guild_id = ?", "g1").Count(&count).Error)
	assert.EqualValues(t, 5, count)
}

func TestLoadGuildWithoutConfigIsNotReady(t *testing.T) {
	st, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, st.LoadGuild(ctx, "g-empty"))
	assert.True(t, st.Loaded("g-empty"))
	assert.False(t, st.Ready("g-empty"))
	assert.Nil(t, st.GuildConfig("g-empty"))
}

func TestLoadGuildInvalidConfigIsNotReady(t *testing.T) {
	st, db := setupStore(t)
	cfg := minimalConfig()
	cfg.BotChannels = nil // fails validation
	seedConfig(t, db, "g-bad", cfg)

	require.NoError(t, st.LoadGuild(context.Background(), "g-bad"))
	assert.True(t, st.Loaded("g-bad"))
	assert.False(t, st.Ready("g-bad"))
}

func TestLoadGuildIsIdempotent(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	st.Progress("g1")["u1"] = &model.UserRecord{}
	require.NoError(t, st.LoadGuild(ctx, "g1"))
	assert.Contains(t, st.Progress("g1"), "u1", "reload must not clobber the working set")
}

func TestSaveAllFlushesDirtyDocuments(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	st.Progress("g1")["u1"] = &model.UserRecord{
		Quests: []*model.Attempt{{ID: "a-1", Question: "q1", StartTime: 1000, Attempts: 1}},
	}
	st.MarkDirty("g1", model.CategoryQuestProgress)
	require.NoError(t, st.SaveAll(ctx))

	var row model.GuildDocument
	require.NoError(t, db.Where("guild_id = ? AND category = ?",
		"g1", model.CategoryQuestProgress).First(&row).Error)
	var doc model.ProgressDoc
	require.NoError(t, json.Unmarshal(row.Data, &doc))
	require.Contains(t, doc, "u1")
	require.Len(t, doc["u1"].Quests, 1)
	assert.Equal(t, "a-1", doc["u1"].Quests[0].ID)

	// A second flush with nothing dirty writes nothing new.
	updated := row.UpdatedAt
	require.NoError(t, st.SaveAll(ctx))
	require.NoError(t, db.Where("guild_id = ? AND category = ?",
		"g1", model.CategoryQuestProgress).First(&row).Error)
	assert.Equal(t, updated, row.UpdatedAt)
}

func TestSaveAllRoundTrips(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	st.Scoreboard("g1")["alpha"] = &model.FactionStats{Count: 2, QuestPoints: 7.5}
	st.MarkDirty("g1", model.CategoryScoreboard)
	require.NoError(t, st.SaveAll(ctx))

	// A fresh store sees the flushed state.
	c, err := local.NewCache(local.Config{})
	require.NoError(t, err)
	st2 := New(db, c, zap.NewNop())
	require.NoError(t, st2.LoadGuild(ctx, "g1"))
	board := st2.Scoreboard("g1")
	require.NotNil(t, board["alpha"])
	assert.Equal(t, 2, board["alpha"].Count)
	assert.Equal(t, 7.5, board["alpha"].QuestPoints)
}

func TestLoadGuildReadsThroughCache(t *testing.T) {
	db := setupDB(t)
	c, err := local.NewCache(local.Config{})
	require.NoError(t, err)
	st := New(db, c, zap.NewNop())
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	st.Scoreboard("g1")["alpha"] = &model.FactionStats{Count: 2, QuestPoints: 7.5}
	st.MarkDirty("g1", model.CategoryScoreboard)
	require.NoError(t, st.SaveAll(ctx))

	// A fresh store sharing the cache but backed by an empty database still
	// loads everything, proving the cached snapshots are actually read.
	st2 := New(setupDB(t), c, zap.NewNop())
	require.NoError(t, st2.LoadGuild(ctx, "g1"))
	assert.True(t, st2.Ready("g1"))
	board := st2.Scoreboard("g1")
	require.NotNil(t, board["alpha"])
	assert.Equal(t, 2, board["alpha"].Count)
	assert.Equal(t, 7.5, board["alpha"].QuestPoints)
}

func TestSnapshotScoreboardIsDetached(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	st.Scoreboard("g1")["alpha"] = &model.FactionStats{Count: 1}
	snap := st.SnapshotScoreboard("g1")
	require.NotNil(t, snap["alpha"])

	st.Scoreboard("g1")["alpha"].Count = 9
	assert.Equal(t, 1, snap["alpha"].Count, "a snapshot must not track later mutation")

	assert.Nil(t, st.SnapshotScoreboard("g-unloaded"))
}

func TestSnapshotUserIsDetached(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	st.Progress("g1")["u1"] = &model.UserRecord{
		Quests: []*model.Attempt{{ID: "a-1", Question: "q1", Points: map[string]float64{"alpha": 2}}},
	}
	snap, ok := st.SnapshotUser("g1", "u1")
	require.True(t, ok)

	st.Progress("g1")["u1"].Quests[0].Points["alpha"] = 99
	assert.Equal(t, 2.0, snap.Quests[0].Points["alpha"])

	_, ok = st.SnapshotUser("g1", "u-unknown")
	assert.False(t, ok)
}

func TestShuffleDueSurvivesRestart(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	now := time.Now()
	interval := time.Hour
	assert.True(t, st.ShuffleDue("g1", now, interval), "a fresh guild is immediately due")
	assert.False(t, st.ShuffleDue("g1", now, interval))
	assert.False(t, st.ShuffleDue("g1", now.Add(30*time.Minute), interval))
	assert.True(t, st.ShuffleDue("g1", now.Add(interval), interval))

	// The stamped due time is flushed with the dirty documents, so a new
	// process picks up the cadence instead of resetting it.
	require.NoError(t, st.SaveAll(ctx))
	c, err := local.NewCache(local.Config{})
	require.NoError(t, err)
	st2 := New(db, c, zap.NewNop())
	require.NoError(t, st2.LoadGuild(ctx, "g1"))
	assert.False(t, st2.ShuffleDue("g1", now.Add(90*time.Minute), interval))
	assert.True(t, st2.ShuffleDue("g1", now.Add(2*interval), interval))

	assert.False(t, st.ShuffleDue("g-unloaded", now, interval))
}

func TestDeleteUser(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))

	st.Progress("g1")["u1"] = &model.UserRecord{}
	st.DeleteUser("g1", "u1")
	assert.NotContains(t, st.Progress("g1"), "u1")

	require.NoError(t, st.SaveAll(ctx))
	var row model.GuildDocument
	require.NoError(t, db.Where("guild_id = ? AND category = ?",
		"g1", model.CategoryQuestProgress).First(&row).Error)
	var doc model.ProgressDoc
	require.NoError(t, json.Unmarshal(row.Data, &doc))
	assert.NotContains(t, doc, "u1")
}

func TestGuilds(t *testing.T) {
	st, db := setupStore(t)
	seedConfig(t, db, "g1", minimalConfig())
	ctx := context.Background()
	require.NoError(t, st.LoadGuild(ctx, "g1"))
	require.NoError(t, st.LoadGuild(ctx, "g2"))
	assert.ElementsMatch(t, []string{"g1", "g2"}, st.Guilds())
}
