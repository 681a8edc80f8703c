package faction

import (
	"testing"

	"github.com/kasuganosora/factionbot/model"
	"github.com/stretchr/testify/assert"
)

func TestRarityBonus(t *testing.T) {
	board := model.ScoreboardDoc{
		"dire":    {Count: 80},
		"radiant": {Count: 20},
	}
	// evenSpread = 100/2 = 50.
	bonus := RarityBonus(board)
	assert.Equal(t, 0.0, bonus["dire"], "at/above the even share gets nothing")
	assert.InDelta(t, (1-20.0/50.0)*maxRarePoints, bonus["radiant"], 1e-9)
}

func TestRarityBonus_EmptyBoard(t *testing.T) {
	assert.Empty(t, RarityBonus(model.ScoreboardDoc{}))
}

func TestRarityBonus_ZeroPopulation(t *testing.T) {
	board := model.ScoreboardDoc{
		"dire":    {Count: 0},
		"radiant": {Count: 0},
	}
	bonus := RarityBonus(board)
	assert.Equal(t, 0.0, bonus["dire"])
	assert.Equal(t, 0.0, bonus["radiant"])
}

func TestChoose_TieBreakFavorsSmallerInBand(t *testing.T) {
	// Equal populations, so no rarity bonus: adjusted = raw points.
	board := model.ScoreboardDoc{
		"dire":    {Count: 10},
		"radiant": {Count: 10},
	}
	points := map[string]float64{"dire": 10, "radiant": 9}
	// 1 - 9/10 = 0.1 <= 0.2: both are in the band; the smaller wins.
	assert.Equal(t, "radiant", Choose(points, board))
}

func TestChoose_OutOfBandLoses(t *testing.T) {
	board := model.ScoreboardDoc{
		"dire":    {Count: 10},
		"radiant": {Count: 10},
	}
	points := map[string]float64{"dire": 10, "radiant": 7}
	// 1 - 7/10 = 0.3 > 0.2: radiant is out of the band.
	assert.Equal(t, "dire", Choose(points, board))
}

func TestChoose_RarityBonusShiftsWinner(t *testing.T) {
	// radiant is heavily under-represented and gets the full bonus,
	// lifting it into (and to the bottom of) the tie-break band.
	board := model.ScoreboardDoc{
		"dire":    {Count: 100},
		"radiant": {Count: 0},
	}
	points := map[string]float64{"dire": 10, "radiant": 4}
	// bonus[radiant] = 5 → adjusted {dire: 10, radiant: 9}.
	assert.Equal(t, "radiant", Choose(points, board))
}

func TestChoose_SingleFaction(t *testing.T) {
	assert.Equal(t, "dire", Choose(map[string]float64{"dire": 1}, model.ScoreboardDoc{}))
}

func TestChoose_NoPoints(t *testing.T) {
	assert.Equal(t, "", Choose(nil, model.ScoreboardDoc{}))
	assert.Equal(t, "", Choose(map[string]float64{}, model.ScoreboardDoc{}))
}

func TestChoose_UnknownFactionGetsNoBonus(t *testing.T) {
	board := model.ScoreboardDoc{"dire": {Count: 5}}
	points := map[string]float64{"mystery": 3}
	assert.Equal(t, "mystery", Choose(points, board))
}

func TestRecord(t *testing.T) {
	board := model.ScoreboardDoc{}
	Record(board, map[string]float64{"dire": 4, "radiant": 2}, "dire")

	assert.Equal(t, 1, board["dire"].Count)
	assert.Equal(t, 4.0, board["dire"].QuestPoints)
	// Contributions toward the losing faction are still recorded.
	assert.Equal(t, 0, board["radiant"].Count)
	assert.Equal(t, 2.0, board["radiant"].QuestPoints)

	Record(board, map[string]float64{"dire": 1}, "dire")
	assert.Equal(t, 2, board["dire"].Count)
	assert.Equal(t, 5.0, board["dire"].QuestPoints)
}

func TestRecord_NoWinner(t *testing.T) {
	board := model.ScoreboardDoc{}
	Record(board, map[string]float64{"dire": 4}, "")
	assert.Equal(t, 0, board["dire"].Count)
	assert.Equal(t, 4.0, board["dire"].QuestPoints)
}
