package quest

import (
	"github.com/google/uuid"
	"github.com/kasuganosora/factionbot/bot/questdef"
	"github.com/kasuganosora/factionbot/model"
)

// Quest histories are append-only lists with at most one open attempt, always
// the last entry. These helpers keep that invariant in one place.

// current returns the most recent attempt, open or closed.
func current(rec *model.UserRecord) *model.Attempt {
	if rec == nil || len(rec.Quests) == 0 {
		return nil
	}
	return rec.Quests[len(rec.Quests)-1]
}

// openAttempt returns the most recent attempt only if it is still open.
func openAttempt(rec *model.UserRecord) *model.Attempt {
	a := current(rec)
	if a == nil || !a.Open() {
		return nil
	}
	return a
}

// beginAttempt starts a fresh traversal. When no attempt exists or the
// latest is closed a new slot is appended with attempts=1; an open slot is
// reset in place with its restart counter bumped, its points cleared, and a
// fresh start time. Either way there is exactly one open attempt afterwards.
func beginAttempt(rec *model.UserRecord, question string, now int64) *model.Attempt {
	if a := openAttempt(rec); a != nil {
		a.Attempts++
		a.Question = question
		a.StartTime = now
		a.Points = nil
		return a
	}
	a := &model.Attempt{
		ID:        uuid.NewString(),
		Question:  question,
		StartTime: now,
		Attempts:  1,
	}
	rec.Quests = append(rec.Quests, a)
	return a
}

// discardRetryable drops the latest attempt when it closed with a retryable
// outcome (e.g. skip), as if it never happened. Reports whether an attempt
// was dropped.
func discardRetryable(rec *model.UserRecord, cfg *questdef.GuildConfig) bool {
	a := current(rec)
	if a == nil || a.Open() {
		return false
	}
	o, ok := cfg.Outcome(a.Result)
	if !ok || !o.Retryable {
		return false
	}
	rec.Quests = rec.Quests[:len(rec.Quests)-1]
	return true
}

// restoreSnapshot replaces the latest attempt with its pre-mutation copy.
// Used when the outbound message that should accompany a transition fails:
// the attempt must not advance if the user never saw the next question.
func restoreSnapshot(rec *model.UserRecord, snapshot *model.Attempt) {
	if rec == nil || len(rec.Quests) == 0 {
		return
	}
	rec.Quests[len(rec.Quests)-1] = snapshot
}

// everResolved reports whether any historical attempt closed with a
// non-retryable outcome. A user who has ever finished should not regain the
// "still deciding" roles of a retryable outcome.
func everResolved(rec *model.UserRecord, cfg *questdef.GuildConfig) bool {
	for _, a := range rec.Quests {
		if a.Open() || a.Result == "" {
			continue
		}
		o, ok := cfg.Outcome(a.Result)
		if !ok || !o.Retryable {
			return true
		}
	}
	return false
}
