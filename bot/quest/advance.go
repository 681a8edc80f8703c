package quest

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/factionbot/audit"
	"github.com/kasuganosora/factionbot/bot/faction"
	"github.com/kasuganosora/factionbot/bot/questdef"
	"github.com/kasuganosora/factionbot/bot/rng"
	"github.com/kasuganosora/factionbot/model"
	"go.uber.org/zap"
)

func attemptSeed(startTime int64, userID string) int64 {
	return rng.AttemptSeed(startTime, userID)
}

// Advance applies a selected answer to the user's open attempt: point
// accumulation, the optional reply, and the transition its target names.
// channelID is the originating guild channel, empty for private messages.
// Callers hold the store's document lock.
func (e *Engine) Advance(ctx context.Context, guildID, userID string, answer questdef.Answer, channelID string) {
	cfg := e.store.GuildConfig(guildID)
	if cfg == nil {
		return
	}
	rec := e.store.Progress(guildID)[userID]
	attempt := openAttempt(rec)
	if attempt == nil {
		return
	}

	e.logger.Info("advancing quest",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("question", attempt.Question))

	snapshot := attempt.Clone()

	for key, delta := range answer.Points {
		v, err := delta.Resolve()
		if err != nil {
			e.logger.Error("point delta resolution failed",
				zap.String("guild_id", guildID),
				zap.String("faction", key),
				zap.Error(err))
			return
		}
		attempt.AddPoints(key, v)
	}
	e.store.MarkDirty(guildID, model.CategoryQuestProgress)

	if answer.Reply != nil {
		if reply, err := answer.Reply.Resolve(); err == nil {
			if answer.ReplyInChannel && channelID != "" {
				e.sendChannel(channelID, reply)
			} else if err := e.msgr.SendDirectMessage(userID, reply); err != nil {
				e.logger.Warn("answer reply delivery failed",
					zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	if answer.Target == nil {
		// Reply-only answer: the attempt stays on the current question.
		return
	}
	target, err := answer.Target.Resolve()
	if err != nil {
		e.logger.Error("target resolution failed",
			zap.String("guild_id", guildID), zap.Error(err))
		restoreSnapshot(rec, snapshot)
		return
	}

	switch cfg.ClassifyTarget(target) {
	case questdef.TargetRestartQuest:
		e.Start(ctx, guildID, userID)

	case questdef.TargetTerminal:
		outcome, _ := cfg.Outcome(target)
		e.closeAttempt(ctx, guildID, userID, outcome)

	default:
		question, ok := cfg.Quest.Questions[target]
		if !ok {
			restoreSnapshot(rec, snapshot)
			e.sendDeadEnd(cfg, userID, channelID)
			return
		}
		attempt.Question = target
		if err := e.displayQuestion(cfg, question, attempt, userID); err != nil {
			// The user never saw the next question; undo the transition so
			// the attempt stays answerable after they enable private
			// messages.
			restoreSnapshot(rec, snapshot)
			e.logger.Warn("question delivery failed, rolled back",
				zap.String("guild_id", guildID),
				zap.String("user_id", userID),
				zap.Error(err))
			e.sendDMHint(channelID, userID)
			return
		}
		e.audit.Log(audit.Entry{
			GuildID: guildID,
			UserID:  userID,
			Action:  audit.ActionQuestAdvance,
			Detail:  map[string]string{"question": target},
		})
	}
}

// closeAttempt stamps a terminal outcome and runs its consequences: faction
// selection for faction-assigning outcomes, the role transition, outbound
// messages, and the scoreboard update.
func (e *Engine) closeAttempt(ctx context.Context, guildID, userID string, outcome questdef.Outcome) {
	cfg := e.store.GuildConfig(guildID)
	rec := e.store.Progress(guildID)[userID]
	attempt := openAttempt(rec)
	if attempt == nil {
		return
	}

	attempt.Result = outcome.Tag
	attempt.EndTime = e.now().UnixMilli()
	e.store.MarkDirty(guildID, model.CategoryQuestProgress)
	e.sessions.Delete(userID)

	if outcome.AssignFaction {
		e.finishAttempt(ctx, guildID, userID, cfg, rec, attempt, outcome)
		return
	}

	e.logger.Info("quest skipped",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("result", outcome.Tag))
	e.audit.Log(audit.Entry{
		GuildID: guildID,
		UserID:  userID,
		Action:  audit.ActionQuestSkip,
		Detail:  map[string]string{"attempt_id": attempt.ID, "result": outcome.Tag},
	})

	remove := union(cfg.QuestingRoles, cfg.JoinRoles)
	var add []string
	if !everResolved(rec, cfg) {
		add = outcome.GrantRoles
	}
	e.roles.Apply(guildID, userID, remove, add)
}

func (e *Engine) finishAttempt(ctx context.Context, guildID, userID string, cfg *questdef.GuildConfig, rec *model.UserRecord, attempt *model.Attempt, outcome questdef.Outcome) {
	board := e.store.Scoreboard(guildID)

	// Without accumulated points the previously assigned faction (if any)
	// is kept; an idempotent re-finish must not reassign.
	if len(attempt.Points) > 0 {
		attempt.Faction = faction.Choose(attempt.Points, board)
	}
	faction.Record(board, attempt.Points, attempt.Faction)
	e.store.MarkDirty(guildID, model.CategoryScoreboard)

	e.logger.Info("quest finished",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("result", outcome.Tag),
		zap.String("faction", attempt.Faction))
	e.audit.Log(audit.Entry{
		GuildID: guildID,
		UserID:  userID,
		Action:  audit.ActionQuestFinish,
		Detail: map[string]interface{}{
			"attempt_id": attempt.ID,
			"result":     outcome.Tag,
			"faction":    attempt.Faction,
			"points":     attempt.Points,
		},
	})

	add := append([]string(nil), outcome.GrantRoles...)
	fact, known := cfg.Factions[attempt.Faction]
	if attempt.Faction != "" && known {
		add = append(add, fact.Role)
	}
	// An unknown faction key still grants the outcome roles.
	e.roles.Apply(guildID, userID, e.terminalRemoveSet(cfg), add)

	if known {
		if fact.ConfirmationMessage != nil {
			if msg, err := fact.ConfirmationMessage.Resolve(); err == nil {
				if err := e.msgr.SendDirectMessage(userID, msg); err != nil {
					e.logger.Warn("confirmation delivery failed",
						zap.String("user_id", userID), zap.Error(err))
				}
			}
		}
		if fact.NewcomerMessage != nil && fact.MainChannel != "" {
			if msg, err := fact.NewcomerMessage.Resolve(); err == nil {
				e.sendChannel(fact.MainChannel, msg)
			}
		}
	}
}

// terminalRemoveSet is everything a faction-assigning outcome strips: all
// faction roles plus questing, join, and retryable-outcome roles.
func (e *Engine) terminalRemoveSet(cfg *questdef.GuildConfig) []string {
	remove := union(cfg.FactionRoles(), cfg.QuestingRoles, cfg.JoinRoles)
	for _, o := range cfg.TerminalOutcomes() {
		if o.Retryable {
			remove = union(remove, o.GrantRoles)
		}
	}
	return remove
}

// displayQuestion whispers a question with its resolved answer list. The
// caller handles a delivery error by rolling back the transition.
func (e *Engine) displayQuestion(cfg *questdef.GuildConfig, q questdef.Question, a *model.Attempt, userID string) error {
	text, err := e.renderQuestion(q, a, userID)
	if err != nil {
		return err
	}
	return e.msgr.SendDirectMessage(userID, text)
}

func (e *Engine) displayQuestionInChannel(cfg *questdef.GuildConfig, q questdef.Question, a *model.Attempt, userID, channelID string) {
	text, err := e.renderQuestion(q, a, userID)
	if err != nil {
		e.logger.Error("question rendering failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	e.sendChannel(channelID, fmt.Sprintf("<@%s> %s", userID, text))
}

func (e *Engine) renderQuestion(q questdef.Question, a *model.Attempt, userID string) (string, error) {
	seed := attemptSeed(a.StartTime, userID)
	text, err := q.Text.ResolveSeeded(seed)
	if err != nil {
		return "", err
	}
	answers, err := q.ResolveAnswers(seed)
	if err != nil {
		return "", err
	}
	prefixes := questdef.Prefixes(answers)

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for i, answer := range answers {
		b.WriteString(fmt.Sprintf("\n%s) %s", prefixes[i], answer.Text))
	}
	return b.String(), nil
}

func (e *Engine) sendDeadEnd(cfg *questdef.GuildConfig, userID, channelID string) {
	msg, err := cfg.Quest.DeadEndMessage.Resolve()
	if err != nil {
		msg = "You have reached a dead end."
	}
	if err := e.msgr.SendDirectMessage(userID, msg); err != nil && channelID != "" {
		e.sendChannel(channelID, fmt.Sprintf("<@%s> %s", userID, msg))
	}
}

func (e *Engine) sendDMHint(channelID, userID string) {
	if channelID == "" {
		return
	}
	e.sendChannel(channelID, fmt.Sprintf(
		"<@%s> I couldn't send you a response. Make sure you have whispers enabled from server members! (Settings -> Privacy & Safety -> Allow direct messages)", userID))
}

func (e *Engine) sendChannel(channelID, text string) {
	if channelID == "" {
		return
	}
	if err := e.msgr.SendChannelMessage(channelID, text); err != nil {
		e.logger.Warn("channel message failed",
			zap.String("channel_id", channelID), zap.Error(err))
	}
}

func union(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, v := range set {
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
