package model

// DefaultRating is assigned to players without a recorded rating.
const DefaultRating = 1500

// RatingUpdate is the rating change of one player after a duel.
type RatingUpdate struct {
	UserID    string `json:"user_id"`
	OldRating int    `json:"old_rating"`
	NewRating int    `json:"new_rating"`
	DuelID    string `json:"duel_id"`
}

// Delta returns the signed change.
func (u RatingUpdate) Delta() int {
	return u.NewRating - u.OldRating
}
