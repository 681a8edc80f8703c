// Package faction implements faction selection at quest completion and the
// per-guild faction scoreboard.
package faction

import (
	"math"

	"github.com/kasuganosora/factionbot/model"
)

const (
	// maxRarePoints caps the population-balancing bonus granted to
	// under-represented factions.
	maxRarePoints = 5.0
	// rangePercent widens the tie-break band below the top adjusted score.
	rangePercent = 0.2
)

// RarityBonus computes the population-balancing bonus per faction:
// (1 - min(count/evenSpread, 1)) * maxRarePoints. Factions at or above the
// even share get 0; under-represented factions are rewarded. The bonus is
// asymmetric: it never penalizes.
func RarityBonus(board model.ScoreboardDoc) map[string]float64 {
	bonus := make(map[string]float64, len(board))
	if len(board) == 0 {
		return bonus
	}
	total := 0
	for _, stats := range board {
		total += stats.Count
	}
	evenSpread := float64(total) / float64(len(board))
	for key, stats := range board {
		if evenSpread <= 0 {
			bonus[key] = 0
			continue
		}
		bonus[key] = (1 - math.Min(float64(stats.Count)/evenSpread, 1)) * maxRarePoints
	}
	return bonus
}

// Choose picks the winning faction from accumulated quest points, biased
// toward under-represented factions. Among factions whose adjusted score is
// within rangePercent of the maximum, the smallest adjusted score wins,
// rewarding faction balance over raw score. Returns "" when points is empty.
func Choose(points map[string]float64, board model.ScoreboardDoc) string {
	if len(points) == 0 {
		return ""
	}
	bonus := RarityBonus(board)

	adjusted := make(map[string]float64, len(points))
	maxKey := ""
	maxAdjusted := math.Inf(-1)
	for key, pts := range points {
		adj := pts + bonus[key]
		adjusted[key] = adj
		if adj > maxAdjusted {
			maxAdjusted = adj
			maxKey = key
		}
	}

	winner := maxKey
	minInBand := math.Inf(1)
	for key, adj := range adjusted {
		if 1-adj/maxAdjusted > rangePercent {
			continue
		}
		if adj < minInBand {
			minInBand = adj
			winner = key
		}
	}
	return winner
}

// Record applies a finished attempt to the scoreboard: the winner's member
// count is incremented once, and every faction's contribution is added to
// its cumulative quest points whether or not it won.
func Record(board model.ScoreboardDoc, points map[string]float64, winner string) {
	for key, pts := range points {
		stats := board[key]
		if stats == nil {
			stats = &model.FactionStats{}
			board[key] = stats
		}
		stats.QuestPoints += pts
	}
	if winner == "" {
		return
	}
	stats := board[winner]
	if stats == nil {
		stats = &model.FactionStats{}
		board[winner] = stats
	}
	stats.Count++
}
