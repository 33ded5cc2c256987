// Package rating implements the Elo update applied after a duel.
package rating

import (
	"math"

	"codeduel/internal/duel/model"
)

// K is the Elo K-factor.
const K = 32

// Outcome is the result of a duel from player A's side.
type Outcome int

const (
	AWins Outcome = iota
	BWins
	Draw
)

func (o Outcome) String() string {
	switch o {
	case AWins:
		return "a_wins"
	case BWins:
		return "b_wins"
	default:
		return "draw"
	}
}

// Expected returns the expected score of a player rated a against one rated b.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Compute returns the new ratings. The delta is rounded once and applied with
// opposite signs, so the sum of ratings never changes.
func Compute(ratingA, ratingB int, outcome Outcome) (int, int) {
	var score float64
	switch outcome {
	case AWins:
		score = 1
	case BWins:
		score = 0
	default:
		score = 0.5
	}
	delta := int(math.Round(K * (score - Expected(ratingA, ratingB))))
	return ratingA + delta, ratingB - delta
}

// ForDuel builds the rating updates of a finished two-player duel.
// ratings maps user id to the current rating; missing users start at model.DefaultRating.
func ForDuel(d *model.Duel, ratings map[string]int) []model.RatingUpdate {
	if d == nil || d.Status != model.DuelFinished || len(d.Players) != model.MaxPlayers {
		return nil
	}
	a, b := d.Players[0].UserID, d.Players[1].UserID
	ra, rb := lookup(ratings, a), lookup(ratings, b)
	outcome := Draw
	switch d.WinnerID {
	case a:
		outcome = AWins
	case b:
		outcome = BWins
	}
	na, nb := Compute(ra, rb, outcome)
	return []model.RatingUpdate{
		{UserID: a, OldRating: ra, NewRating: na, DuelID: d.ID},
		{UserID: b, OldRating: rb, NewRating: nb, DuelID: d.ID},
	}
}

func lookup(ratings map[string]int, userID string) int {
	if r, ok := ratings[userID]; ok {
		return r
	}
	return model.DefaultRating
}
