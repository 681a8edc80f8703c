// Package questdef holds the static per-guild quest and faction definitions
// and their load-time validation.
package questdef

import (
	"strconv"
	"strings"
)

// Reserved answer targets. Any other target is either a question ID or a
// terminal outcome tag configured in GuildConfig.Outcomes.
const (
	// TargetRestart restarts the quest from a freshly resolved start question.
	TargetRestart = "start"
)

// Default terminal outcome tags. Guilds may configure alternate
// vocabularies (e.g. good/bad/skip) via GuildConfig.Outcomes.
const (
	OutcomeFinish = "finish"
	OutcomeSkip   = "skip"
)

// Answer is one selectable option of a Question.
type Answer struct {
	// Text is the label shown to the user.
	Text string `json:"text"`
	// Prefix is the token the user types to select this answer. When empty
	// the answer's 1-based position in the resolved list is used.
	Prefix string `json:"prefix,omitempty"`
	// Target is the next question ID, a terminal outcome tag, or "start".
	// Nil means the answer stays on the current question.
	Target *Randomizable[string] `json:"target,omitempty"`
	// Points holds additive per-faction deltas applied on selection.
	Points map[string]Randomizable[float64] `json:"points,omitempty"`
	// Reply is shown to the user after selection.
	Reply *Randomizable[string] `json:"reply,omitempty"`
	// ReplyInChannel directs the reply to the originating guild channel
	// instead of a private message.
	ReplyInChannel bool `json:"replyInChannel,omitempty"`
}

// Question is one node of the quest tree.
type Question struct {
	Text Randomizable[string] `json:"text"`
	// Answers may contain multi-candidate elements from which one answer is
	// chosen per attempt via seeded resolution.
	Answers []Randomizable[Answer] `json:"answers"`
}

// Quest is the immutable per-guild question tree.
type Quest struct {
	StartQuestion  Randomizable[string] `json:"startQuestion"`
	DeadEndMessage Randomizable[string] `json:"deadEndMessage"`
	Questions      map[string]Question  `json:"questions"`
}

// Faction describes one assignable faction.
type Faction struct {
	// Title is the full display name, e.g. "United States of America".
	Title string `json:"title"`
	// Role is granted when a user is assigned to this faction.
	Role string `json:"role"`
	// MainChannel receives the newcomer message, when set.
	MainChannel string `json:"mainChannel,omitempty"`
	// ConfirmationMessage is whispered to the assigned user.
	ConfirmationMessage *Randomizable[string] `json:"confirmationMessage,omitempty"`
	// NewcomerMessage is posted to MainChannel when a user is assigned.
	NewcomerMessage *Randomizable[string] `json:"newcomerMessage,omitempty"`
}

// Outcome describes one terminal quest result. The outcome vocabulary is an
// open configured set rather than a hardcoded pair: the defaults are finish
// and skip, but guilds may define alternates such as good/bad/skip.
type Outcome struct {
	// Tag is recorded as the attempt result and matched against answer targets.
	Tag string `json:"tag"`
	// AssignFaction runs faction selection and the scoreboard update.
	AssignFaction bool `json:"assignFaction,omitempty"`
	// Retryable outcomes are discarded when the user re-enters the quest,
	// restoring the ability to retry.
	Retryable bool `json:"retryable,omitempty"`
	// GrantRoles are granted on this outcome. For retryable outcomes the
	// grant is withheld from users who have ever reached a non-retryable one.
	GrantRoles []string `json:"grantRoles,omitempty"`
}

// GuildConfig is the full static configuration of a guild.
type GuildConfig struct {
	// BotChannels are the guild channels the bot reads for quest answers.
	BotChannels []string `json:"botChannels"`
	// JoinRoles are granted when a member joins; removed on any terminal outcome.
	JoinRoles []string `json:"joinRoles,omitempty"`
	// QuestingRoles are granted while a quest attempt is open.
	QuestingRoles []string `json:"questingRoles,omitempty"`
	// FinishRoles are granted on the default finish outcome.
	FinishRoles []string `json:"finishRoles,omitempty"`
	// SkipRoles are granted on the default skip outcome.
	SkipRoles []string `json:"skipRoles,omitempty"`
	// ShuffleRoles are periodically reordered to obscure role hierarchy.
	ShuffleRoles []string `json:"shuffleRoles,omitempty"`
	// Outcomes overrides the default finish/skip terminal vocabulary.
	Outcomes []Outcome `json:"outcomes,omitempty"`

	Factions map[string]Faction `json:"factions"`
	Quest    Quest              `json:"quest"`
}

// TerminalOutcomes returns the guild's terminal vocabulary, defaulting to
// finish (assigns a faction, grants FinishRoles) and skip (retryable,
// grants SkipRoles) when none is configured.
func (c *GuildConfig) TerminalOutcomes() []Outcome {
	if len(c.Outcomes) > 0 {
		return c.Outcomes
	}
	return []Outcome{
		{Tag: OutcomeFinish, AssignFaction: true, GrantRoles: c.FinishRoles},
		{Tag: OutcomeSkip, Retryable: true, GrantRoles: c.SkipRoles},
	}
}

// Outcome returns the terminal outcome with the given tag, if any.
func (c *GuildConfig) Outcome(tag string) (Outcome, bool) {
	for _, o := range c.TerminalOutcomes() {
		if o.Tag == tag {
			return o, true
		}
	}
	return Outcome{}, false
}

// FactionRoles returns the role of every configured faction.
func (c *GuildConfig) FactionRoles() []string {
	roles := make([]string, 0, len(c.Factions))
	for _, f := range c.Factions {
		roles = append(roles, f.Role)
	}
	return roles
}

// TargetKind classifies a resolved answer target.
type TargetKind int

const (
	TargetQuestion TargetKind = iota
	TargetTerminal
	TargetRestartQuest
)

// ClassifyTarget decides whether a resolved target names a question, the
// restart sentinel, or a configured terminal outcome.
func (c *GuildConfig) ClassifyTarget(target string) TargetKind {
	if target == TargetRestart {
		return TargetRestartQuest
	}
	if _, ok := c.Outcome(target); ok {
		return TargetTerminal
	}
	return TargetQuestion
}

// ResolveAnswers resolves the question's answer list for the given attempt
// seed: multi-candidate elements collapse to one answer each, deterministically.
func (q Question) ResolveAnswers(seed int64) ([]Answer, error) {
	answers := make([]Answer, 0, len(q.Answers))
	for _, candidate := range q.Answers {
		a, err := candidate.ResolveSeeded(seed)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// Prefixes returns the lowercased selection tokens of a resolved answer list.
// Answers without an explicit prefix use their 1-based position.
func Prefixes(answers []Answer) []string {
	prefixes := make([]string, len(answers))
	for i, a := range answers {
		if a.Prefix != "" {
			prefixes[i] = strings.ToLower(a.Prefix)
		} else {
			prefixes[i] = strconv.Itoa(i + 1)
		}
	}
	return prefixes
}
