package services

import (
	"sort"

	"github.com/rotisserie/eris"
)

type Outcome int

const (
	OutcomeLose Outcome = iota
	OutcomeWin
)

func (o Outcome) String() string {
	if o == OutcomeWin {
		return "WIN"
	}
	return "LOSE"
}

// Opposite returns the outcome of the other player.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeWin {
		return OutcomeLose
	}
	return OutcomeWin
}

// Bracket maps a minimum trophy count to the base change of a win or a loss.
type Bracket struct {
	MinRating int `json:"from_trophy"`
	WinGain   int `json:"win_change"`
	LoseLoss  int `json:"lose_change"`
}

// DefaultBrackets is the production calibration. Losses get harsher up to
// 400 trophies, wins get smaller from 2000 on.
var DefaultBrackets = []Bracket{
	{MinRating: 0, WinGain: 10, LoseLoss: -1},
	{MinRating: 50, WinGain: 10, LoseLoss: -2},
	{MinRating: 100, WinGain: 10, LoseLoss: -3},
	{MinRating: 125, WinGain: 10, LoseLoss: -4},
	{MinRating: 150, WinGain: 10, LoseLoss: -5},
	{MinRating: 200, WinGain: 10, LoseLoss: -6},
	{MinRating: 250, WinGain: 10, LoseLoss: -7},
	{MinRating: 300, WinGain: 10, LoseLoss: -8},
	{MinRating: 350, WinGain: 10, LoseLoss: -9},
	{MinRating: 400, WinGain: 10, LoseLoss: -10},
	{MinRating: 2000, WinGain: 9, LoseLoss: -10},
	{MinRating: 2200, WinGain: 8, LoseLoss: -10},
	{MinRating: 2400, WinGain: 7, LoseLoss: -10},
	{MinRating: 2600, WinGain: 6, LoseLoss: -10},
	{MinRating: 2800, WinGain: 5, LoseLoss: -10},
	{MinRating: 3000, WinGain: 4, LoseLoss: -10},
}

// RatingEngine computes trophy changes. It holds no mutable state and is safe
// for concurrent use.
type RatingEngine struct {
	brackets []Bracket // descending by MinRating
}

func NewRatingEngine(brackets []Bracket) (*RatingEngine, error) {
	if len(brackets) == 0 {
		return nil, eris.Wrap(ErrNoBracket, "rating table is empty")
	}
	sorted := make([]Bracket, len(brackets))
	copy(sorted, brackets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinRating > sorted[j].MinRating
	})
	return &RatingEngine{brackets: sorted}, nil
}

// MustRatingEngine panics on an invalid table. Meant for package-level
// defaults built from literals.
func MustRatingEngine(brackets []Bracket) *RatingEngine {
	e, err := NewRatingEngine(brackets)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *RatingEngine) bracketFor(rating int) (Bracket, bool) {
	for _, b := range e.brackets {
		if b.MinRating <= rating {
			return b, true
		}
	}
	return Bracket{}, false
}

// Change returns the trophy delta of a player with playerRating who met an
// opponent with opponentRating. A win is never worth less than +1 and a loss
// never costs less than 1.
func (e *RatingEngine) Change(playerRating, opponentRating int, outcome Outcome) (int, error) {
	b, ok := e.bracketFor(playerRating)
	if !ok {
		return 0, eris.Wrapf(ErrNoBracket, "rating %d", playerRating)
	}

	adjustment := floorDiv(opponentRating-playerRating, 10)
	if outcome == OutcomeWin {
		return max(1, b.WinGain+adjustment), nil
	}
	return min(-1, b.LoseLoss+adjustment), nil
}

// ApplyDelta returns the rating to persist. Ratings never go below zero.
func ApplyDelta(rating, delta int) int {
	return max(0, rating+delta)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
