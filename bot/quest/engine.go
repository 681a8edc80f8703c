// Package quest implements the onboarding quest state machine: walking a
// user through the question tree, accumulating per-faction points, and
// driving role transitions at terminal outcomes.
package quest

import (
	"context"
	"strings"
	"time"

	"github.com/kasuganosora/factionbot/audit"
	"github.com/kasuganosora/factionbot/bot/command"
	"github.com/kasuganosora/factionbot/bot/questdef"
	"github.com/kasuganosora/factionbot/bot/roles"
	"github.com/kasuganosora/factionbot/model"
	"github.com/kasuganosora/factionbot/store"
	"go.uber.org/zap"
)

// Messenger is the outbound chat surface the engine needs.
type Messenger interface {
	SendDirectMessage(userID, text string) error
	SendChannelMessage(channelID, text string) error
	IsAdministrator(guildID, userID string) (bool, error)
	RoleMemberCount(guildID, roleID string) (int, error)
}

// Options configures an Engine.
type Options struct {
	// CommandPrefix marks chat commands, "!" by default.
	CommandPrefix string
	// Shutdown is invoked by the admin exit command after a forced flush.
	Shutdown func()
}

// Engine orchestrates quest attempts for every guild. All event handlers
// run on one ordered event loop, so per-user state is never mutated
// concurrently.
type Engine struct {
	store    *store.Store
	msgr     Messenger
	roles    *roles.Queue
	audit    *audit.Service
	sessions *SessionTable
	logger   *zap.Logger
	prefix   string
	shutdown func()
	now      func() time.Time
}

// New creates an Engine.
func New(st *store.Store, msgr Messenger, rq *roles.Queue, aud *audit.Service, logger *zap.Logger, opts Options) *Engine {
	prefix := opts.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	shutdown := opts.Shutdown
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Engine{
		store:    st,
		msgr:     msgr,
		roles:    rq,
		audit:    aud,
		sessions: NewSessionTable(),
		logger:   logger,
		prefix:   prefix,
		shutdown: shutdown,
		now:      time.Now,
	}
}

// Sessions exposes the routing table, e.g. for the status endpoint.
func (e *Engine) Sessions() *SessionTable { return e.sessions }

// HandleGuildAvailable loads the guild's documents and seeds the faction
// scoreboard's member counts from live role membership.
func (e *Engine) HandleGuildAvailable(ctx context.Context, guildID string) {
	if err := e.store.LoadGuild(ctx, guildID); err != nil {
		e.logger.Error("guild load failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	cfg := e.store.GuildConfig(guildID)
	if cfg == nil {
		e.logger.Info("guild has no quest configuration, ignoring",
			zap.String("guild_id", guildID))
		return
	}

	// Membership counts come from the platform, so gather them before
	// taking the document lock.
	counts := make(map[string]int, len(cfg.Factions))
	for key, f := range cfg.Factions {
		if count, err := e.msgr.RoleMemberCount(guildID, f.Role); err == nil {
			counts[key] = count
		}
	}
	e.store.Sync(func() {
		board := e.store.Scoreboard(guildID)
		changed := false
		for key, count := range counts {
			stats := board[key]
			if stats == nil {
				stats = &model.FactionStats{}
				board[key] = stats
			}
			if stats.Count != count {
				stats.Count = count
				changed = true
			}
		}
		if changed {
			e.store.MarkDirty(guildID, model.CategoryScoreboard)
		}
	})
	e.logger.Info("guild ready", zap.String("guild_id", guildID))
}

// HandleMemberJoin starts the quest for a new member, or re-grants roles to
// a returning member who already finished.
func (e *Engine) HandleMemberJoin(ctx context.Context, guildID, userID string) {
	if err := e.store.LoadGuild(ctx, guildID); err != nil {
		e.logger.Error("guild load failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if !e.store.Ready(guildID) {
		return
	}
	e.store.Sync(func() { e.memberJoin(ctx, guildID, userID) })
}

// memberJoin runs under the store's document lock.
func (e *Engine) memberJoin(ctx context.Context, guildID, userID string) {
	cfg := e.store.GuildConfig(guildID)
	progress := e.store.Progress(guildID)

	if rec, ok := progress[userID]; ok {
		// Member left and rejoined: restore roles, never restart the quest.
		a := current(rec)
		if a == nil || a.Open() {
			return
		}
		o, ok := cfg.Outcome(a.Result)
		if !ok || !o.AssignFaction || a.Faction == "" {
			return
		}
		add := append([]string(nil), o.GrantRoles...)
		if f, ok := cfg.Factions[a.Faction]; ok {
			add = append(add, f.Role)
		}
		e.roles.Apply(guildID, userID, nil, add)
		return
	}

	progress[userID] = &model.UserRecord{}
	e.store.MarkDirty(guildID, model.CategoryQuestProgress)
	e.roles.Apply(guildID, userID, nil, cfg.JoinRoles)
	e.Start(ctx, guildID, userID)
}

// HandleDirectMessage matches a private message against the answers of the
// user's current question, routed through the session table since private
// messages carry no guild context.
func (e *Engine) HandleDirectMessage(ctx context.Context, userID, content string) {
	guildID, ok := e.sessions.Get(userID)
	if !ok {
		return
	}
	e.store.Sync(func() { e.directMessage(ctx, guildID, userID, content) })
}

func (e *Engine) directMessage(ctx context.Context, guildID, userID, content string) {
	cfg := e.store.GuildConfig(guildID)
	if cfg == nil {
		return
	}
	rec := e.store.Progress(guildID)[userID]
	attempt := openAttempt(rec)
	if attempt == nil {
		return
	}

	question, ok := cfg.Quest.Questions[attempt.Question]
	if !ok {
		e.sendDeadEnd(cfg, userID, "")
		return
	}
	answer, ok := e.matchAnswer(cfg, question, attempt, userID, content)
	if !ok {
		return
	}
	e.Advance(ctx, guildID, userID, answer, "")
}

// HandleGuildMessage runs the guild-channel dispatch chain: admin builtins,
// custom command aliases, the quest re-entry command, and bot-channel
// answer matching.
func (e *Engine) HandleGuildMessage(ctx context.Context, guildID, userID, channelID, content string) {
	if err := e.store.LoadGuild(ctx, guildID); err != nil {
		e.logger.Error("guild load failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if !e.store.Ready(guildID) {
		return
	}
	trimmed := strings.TrimSpace(content)

	// Admin builtins run outside the document lock: save and exit flush the
	// store, which takes the same lock.
	if e.handleAdminCommand(ctx, guildID, userID, channelID, trimmed) {
		return
	}
	e.store.Sync(func() { e.guildMessage(ctx, guildID, userID, channelID, trimmed) })
}

// guildMessage runs under the store's document lock.
func (e *Engine) guildMessage(ctx context.Context, guildID, userID, channelID, trimmed string) {
	cfg := e.store.GuildConfig(guildID)
	progress := e.store.Progress(guildID)

	words := strings.Fields(trimmed)
	exclaimed := len(words) > 0 && strings.HasPrefix(words[0], e.prefix) && len(words[0]) > len(e.prefix)
	commandUsed := false

	if reply, ok := command.Resolve(e.store.Aliases(guildID), channelID, trimmed); ok {
		e.sendChannel(channelID, reply)
		commandUsed = true
	}

	if trimmed == e.prefix+"quest" {
		commandUsed = true
		e.handleQuestCommand(ctx, guildID, userID, channelID)
	}

	if exclaimed && !commandUsed {
		e.sendChannel(channelID, "Hm... I'm not familiar with that. Try something else.")
	}

	// Answer matching only happens in the configured bot channels, and only
	// while the attempt still sits on its start question; later questions
	// are answered privately.
	if !containsString(cfg.BotChannels, channelID) {
		return
	}
	rec, ok := progress[userID]
	if !ok {
		// Join event was missed somehow; treat this as the join.
		e.memberJoin(ctx, guildID, userID)
		return
	}
	if len(rec.Quests) == 0 {
		e.Start(ctx, guildID, userID)
		rec = progress[userID]
	}
	attempt := openAttempt(rec)
	if attempt == nil {
		return
	}
	if !e.onStartQuestion(cfg, attempt) {
		return
	}
	question, ok := cfg.Quest.Questions[attempt.Question]
	if !ok {
		e.sendDeadEnd(cfg, userID, channelID)
		return
	}
	if answer, ok := e.matchAnswer(cfg, question, attempt, userID, trimmed); ok {
		e.Advance(ctx, guildID, userID, answer, channelID)
	}
}

func (e *Engine) handleAdminCommand(ctx context.Context, guildID, userID, channelID, content string) bool {
	switch content {
	case e.prefix + "save", e.prefix + "reset", e.prefix + "exit":
	default:
		return false
	}
	isAdmin, err := e.msgr.IsAdministrator(guildID, userID)
	if err != nil || !isAdmin {
		return false
	}
	e.audit.Log(audit.Entry{
		GuildID: guildID,
		UserID:  userID,
		Action:  audit.ActionAdminCommand,
		Detail:  map[string]string{"command": content},
	})

	switch content {
	case e.prefix + "save":
		if err := e.store.SaveAll(ctx); err != nil {
			e.logger.Error("forced save failed", zap.Error(err))
			e.sendChannel(channelID, "Save failed.")
			return true
		}
		e.sendChannel(channelID, "Saved.")
	case e.prefix + "reset":
		e.store.DeleteUser(guildID, userID)
		e.sessions.Delete(userID)
	case e.prefix + "exit":
		if err := e.store.SaveAll(ctx); err != nil {
			e.logger.Error("save on exit failed", zap.Error(err))
		}
		e.shutdown()
	}
	return true
}

// handleQuestCommand implements re-entry: discarding a skipped attempt,
// guarding an already-finished quest, and re-displaying an open question.
func (e *Engine) handleQuestCommand(ctx context.Context, guildID, userID, channelID string) {
	cfg := e.store.GuildConfig(guildID)
	progress := e.store.Progress(guildID)
	rec, ok := progress[userID]
	if !ok {
		e.memberJoin(ctx, guildID, userID)
		return
	}

	if discardRetryable(rec, cfg) {
		e.store.MarkDirty(guildID, model.CategoryQuestProgress)
		e.Start(ctx, guildID, userID)
		return
	}

	a := current(rec)
	if a == nil {
		e.Start(ctx, guildID, userID)
		return
	}

	if !a.Open() {
		o, ok := cfg.Outcome(a.Result)
		if ok && o.AssignFaction && a.Faction != "" {
			// Idempotent reconciliation: reassign roles without touching
			// the recorded result.
			add := append([]string(nil), o.GrantRoles...)
			if f, ok := cfg.Factions[a.Faction]; ok {
				add = append(add, f.Role)
			}
			remove := e.terminalRemoveSet(cfg)
			reassigned := e.roles.Apply(guildID, userID, remove, add)
			msg := "You already did the quest."
			if reassigned {
				msg += " Roles reassigned."
			}
			e.sendChannel(channelID, msg)
			return
		}
		e.sendChannel(channelID, "You already did the quest.")
		return
	}

	if e.onStartQuestion(cfg, a) {
		e.Start(ctx, guildID, userID)
		return
	}

	question, ok := cfg.Quest.Questions[a.Question]
	if !ok {
		e.sendDeadEnd(cfg, userID, channelID)
		return
	}
	if err := e.displayQuestion(cfg, question, a, userID); err != nil {
		e.sendDMHint(channelID, userID)
		return
	}
	e.sendChannel(channelID, "You are already in the process of doing the quest. The current question has been whispered to you again.")
}

// Start begins or restarts the user's quest attempt and shows the first
// question in the guild channel. Callers hold the store's document lock.
func (e *Engine) Start(ctx context.Context, guildID, userID string) {
	cfg := e.store.GuildConfig(guildID)
	if cfg == nil {
		return
	}
	progress := e.store.Progress(guildID)
	rec, ok := progress[userID]
	if !ok {
		rec = &model.UserRecord{}
		progress[userID] = rec
	}

	now := e.now().UnixMilli()
	startQuestion, err := cfg.Quest.StartQuestion.ResolveSeeded(attemptSeed(now, userID))
	if err != nil {
		e.logger.Error("start question resolution failed",
			zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	attempt := beginAttempt(rec, startQuestion, now)
	e.store.MarkDirty(guildID, model.CategoryQuestProgress)
	e.sessions.Set(userID, guildID)

	e.logger.Info("quest started",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("attempt_id", attempt.ID),
		zap.Int("attempts", attempt.Attempts))
	e.audit.Log(audit.Entry{
		GuildID: guildID,
		UserID:  userID,
		Action:  audit.ActionQuestStart,
		Detail:  map[string]interface{}{"attempt_id": attempt.ID, "attempts": attempt.Attempts},
	})

	e.roles.Apply(guildID, userID, nil, cfg.QuestingRoles)

	question, ok := cfg.Quest.Questions[startQuestion]
	if !ok {
		e.sendDeadEnd(cfg, userID, "")
		return
	}
	if len(cfg.BotChannels) > 0 {
		e.displayQuestionInChannel(cfg, question, attempt, userID, cfg.BotChannels[0])
	}
}

// onStartQuestion reports whether the attempt still sits on one of the
// possible start questions.
func (e *Engine) onStartQuestion(cfg *questdef.GuildConfig, a *model.Attempt) bool {
	for _, start := range cfg.Quest.StartQuestion.Candidates() {
		if a.Question == start {
			return true
		}
	}
	return false
}

// matchAnswer resolves the question's seeded answers and matches the
// message against their selection tokens.
func (e *Engine) matchAnswer(cfg *questdef.GuildConfig, q questdef.Question, a *model.Attempt, userID, content string) (questdef.Answer, bool) {
	answers, err := q.ResolveAnswers(attemptSeed(a.StartTime, userID))
	if err != nil {
		e.logger.Error("answer resolution failed",
			zap.String("user_id", userID), zap.Error(err))
		return questdef.Answer{}, false
	}
	token := strings.ToLower(strings.TrimSpace(content))
	for i, prefix := range questdef.Prefixes(answers) {
		if prefix == token {
			return answers[i], true
		}
	}
	return questdef.Answer{}, false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
