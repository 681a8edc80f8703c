package model

// FactionStats is the dynamic per-faction aggregate of a guild.
type FactionStats struct {
	// Count is incremented exactly once per user assigned to the faction.
	// Membership loss is not modeled, so it never decreases here.
	Count int `json:"count"`
	// QuestPoints sums every point contribution from finished quests,
	// including contributions toward factions that did not win.
	QuestPoints float64 `json:"questPoints"`
}

// ScoreboardDoc is the factionScoreboard document: faction key → stats.
type ScoreboardDoc map[string]*FactionStats
