package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kasuganosora/factionbot/bot/quest"
	"github.com/kasuganosora/factionbot/bot/questdef"
	"github.com/kasuganosora/factionbot/cache"
	"github.com/kasuganosora/factionbot/config"
	mw "github.com/kasuganosora/factionbot/middleware"
	"github.com/kasuganosora/factionbot/model"
	"github.com/kasuganosora/factionbot/store"
	"github.com/kasuganosora/factionbot/testutil"
)

const testAdminKey = "super-secret-admin-key"

type testAPI struct {
	router   *gin.Engine
	db       *gorm.DB
	cache    cache.Cache
	store    *store.Store
	sessions *quest.SessionTable
	sec      config.SecurityConfig
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	st := store.New(db, c, zap.NewNop())
	sessions := quest.NewSessionTable()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTL: time.Hour}

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)

	authH := NewAuthHandler(c, sec, string(hash))
	adminH := NewAdminHandler(db, st, sessions, zap.NewNop())

	r := gin.New()
	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/logout", mw.Auth(sec, c), authH.Logout)
	admin := api.Group("/admin", mw.Auth(sec, c))
	admin.GET("/status", adminH.Status)
	admin.POST("/save", adminH.Save)
	admin.GET("/guilds/:guild_id/scoreboard", adminH.Scoreboard)
	admin.GET("/guilds/:guild_id/users/:user_id", adminH.UserProgress)
	admin.DELETE("/guilds/:guild_id/users/:user_id", adminH.ResetUser)
	admin.GET("/guilds/:guild_id/audit", adminH.AuditLog)

	return &testAPI{router: r, db: db, cache: c, store: st, sessions: sessions, sec: sec}
}

func (a *testAPI) loadGuild(t *testing.T, guildID string) {
	t.Helper()
	finish := questdef.One("finish")
	cfg := &questdef.GuildConfig{
		BotChannels: []string{"chan-1"},
		Factions:    map[string]questdef.Faction{"alpha": {Title: "Alpha", Role: "r-alpha"}},
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
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, a.db.Create(&model.GuildDocument{
		GuildID:  guildID,
		Category: model.CategoryGuildConfig,
		Data:     datatypes.JSON(data),
	}).Error)
	require.NoError(t, a.store.LoadGuild(context.Background(), guildID))
}

func (a *testAPI) login(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(gin.H{"admin_key": testAdminKey})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestLogin_WrongKey(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/api/auth/login", "", gin.H{"admin_key": "wrong-admin-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_Disabled(t *testing.T) {
	a := newTestAPI(t)
	gin.SetMode(gin.TestMode)
	authH := NewAuthHandler(a.cache, a.sec, "")
	r := gin.New()
	r.POST("/login", authH.Login)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader([]byte(`{"admin_key":"whatever-key"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogin_ThenStatus(t *testing.T) {
	a := newTestAPI(t)
	a.loadGuild(t, "g1")
	a.sessions.Set("u1", "g1")
	token := a.login(t)

	w := a.do(http.MethodGet, "/api/admin/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		GuildsLoaded int `json:"guilds_loaded"`
		GuildsReady  int `json:"guilds_ready"`
		OpenQuests   int `json:"open_quests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.GuildsLoaded)
	assert.Equal(t, 1, resp.GuildsReady)
	assert.Equal(t, 1, resp.OpenQuests)
}

func TestStatus_RequiresAuth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodGet, "/api/admin/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_RevokesSession(t *testing.T) {
	a := newTestAPI(t)
	token := a.login(t)

	w := a.do(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/api/admin/status", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a revoked token must stop working")
}

func TestScoreboard(t *testing.T) {
	a := newTestAPI(t)
	a.loadGuild(t, "g1")
	a.store.Scoreboard("g1")["alpha"] = &model.FactionStats{Count: 4, QuestPoints: 12}
	token := a.login(t)

	w := a.do(http.MethodGet, "/api/admin/guilds/g1/scoreboard", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Factions map[string]model.FactionStats `json:"factions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Factions["alpha"].Count)

	w = a.do(http.MethodGet, "/api/admin/guilds/unknown/scoreboard", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserProgressAndReset(t *testing.T) {
	a := newTestAPI(t)
	a.loadGuild(t, "g1")
	a.store.Progress("g1")["u1"] = &model.UserRecord{
		Quests: []*model.Attempt{{ID: "a-1", Question: "q1", StartTime: 1, Attempts: 1}},
	}
	a.sessions.Set("u1", "g1")
	token := a.login(t)

	w := a.do(http.MethodGet, "/api/admin/guilds/g1/users/u1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a-1")

	w = a.do(http.MethodDelete, "/api/admin/guilds/g1/users/u1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.NotContains(t, a.store.Progress("g1"), "u1")
	_, routed := a.sessions.Get("u1")
	assert.False(t, routed)

	w = a.do(http.MethodGet, "/api/admin/guilds/g1/users/u1", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSaveFlushes(t *testing.T) {
	a := newTestAPI(t)
	a.loadGuild(t, "g1")
	a.store.Progress("g1")["u1"] = &model.UserRecord{}
	a.store.MarkDirty("g1", model.CategoryQuestProgress)
	token := a.login(t)

	w := a.do(http.MethodPost, "/api/admin/save", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var row model.GuildDocument
	require.NoError(t, a.db.Where("guild_id = ? AND category = ?",
		"g1", model.CategoryQuestProgress).First(&row).Error)
	assert.Contains(t, string(row.Data), "u1")
}

func TestAuditLog(t *testing.T) {
	a := newTestAPI(t)
	token := a.login(t)
	require.NoError(t, a.db.Create(&model.BotAuditLog{
		GuildID: "g1", UserID: "u1", Action: "quest_start",
	}).Error)

	w := a.do(http.MethodGet, "/api/admin/guilds/g1/audit", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "quest_start")

	w = a.do(http.MethodGet, "/api/admin/guilds/g1/audit?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
