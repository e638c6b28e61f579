package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	LevelTest  = "test"
	LevelOne   = "level_1"
	LevelTwo   = "level_2"
	LevelThree = "level_3"
	LevelFour  = "level_4"
	LevelFive  = "level_5"
)

var ErrOutsideCorridor = errors.New("amount is outside every level corridor")

// Level is an amount corridor with its yield terms.
type Level struct {
	Name          string
	Min           decimal.Decimal
	Max           decimal.Decimal
	ROIRate       decimal.Decimal
	CapMultiplier decimal.Decimal
}

func (l Level) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(l.Min) && amount.LessThanOrEqual(l.Max)
}

// DefaultLevels lists corridors from lowest to highest.
var DefaultLevels = []Level{
	newLevel(LevelTest, 30, 100),
	newLevel(LevelOne, 100, 500),
	newLevel(LevelTwo, 700, 1200),
	newLevel(LevelThree, 1400, 2200),
	newLevel(LevelFour, 2500, 3500),
	newLevel(LevelFive, 4000, 7000),
}

func newLevel(name string, min, max int64) Level {
	return Level{
		Name:          name,
		Min:           decimal.NewFromInt(min),
		Max:           decimal.NewFromInt(max),
		ROIRate:       decimal.NewFromInt(2),
		CapMultiplier: decimal.NewFromInt(5),
	}
}

// LevelFor picks the highest corridor containing amount.
func LevelFor(levels []Level, amount decimal.Decimal) (Level, error) {
	for i := len(levels) - 1; i >= 0; i-- {
		if levels[i].Contains(amount) {
			return levels[i], nil
		}
	}
	return Level{}, ErrOutsideCorridor
}

// LevelForConsolidated is like LevelFor but lets totals above the top corridor
// keep the top level, since merged principal is not bounded by a single funding.
func LevelForConsolidated(levels []Level, amount decimal.Decimal) (Level, error) {
	if len(levels) > 0 && amount.GreaterThan(levels[len(levels)-1].Max) {
		return levels[len(levels)-1], nil
	}
	level, err := LevelFor(levels, amount)
	if err == nil {
		return level, nil
	}
	for i := len(levels) - 1; i >= 0; i-- {
		if amount.GreaterThanOrEqual(levels[i].Min) {
			return levels[i], nil
		}
	}
	return Level{}, err
}
