// Package repository caches player ratings and duel statistics in Redis.
package repository

import (
	"context"
	"fmt"
	"strconv"

	"codeduel/internal/common/cache"
	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
)

const (
	ratingKey      = "duel:ratings"
	statsKeyPrefix = "duel:stats:"

	StatWins   = "wins"
	StatLosses = "losses"
	StatDraws  = "draws"
)

// PlayerStats is the cached duel record of one player.
type PlayerStats struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
	Wins   int64  `json:"wins"`
	Losses int64  `json:"losses"`
	Draws  int64  `json:"draws"`
}

// RatingRepository reads and writes the rating cache.
// The durable copy lives with the recorder; this cache is refreshed after each write there.
type RatingRepository struct {
	cache cache.Cache
}

// NewRatingRepository creates a new repository.
func NewRatingRepository(cacheClient cache.Cache) *RatingRepository {
	return &RatingRepository{cache: cacheClient}
}

// Ratings returns the cached ratings of the given users.
// Users without an entry get model.DefaultRating.
func (r *RatingRepository) Ratings(ctx context.Context, userIDs ...string) (map[string]int, error) {
	out := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	if r.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	vals, err := r.cache.HMGet(ctx, ratingKey, userIDs...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load ratings failed")
	}
	for i, id := range userIDs {
		out[id] = model.DefaultRating
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "decode rating of %s failed", id)
		}
		out[id] = v
	}
	return out, nil
}

// Apply stores new ratings and bumps win/loss/draw counters in one transaction.
// winnerID is empty for a draw.
func (r *RatingRepository) Apply(ctx context.Context, updates []model.RatingUpdate, winnerID string) error {
	if len(updates) == 0 {
		return nil
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	err := r.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		for _, u := range updates {
			if err := pipe.HSet(ratingKey, u.UserID, u.NewRating); err != nil {
				return err
			}
			if err := pipe.HSet(statsKeyPrefix+u.UserID, "rating", u.NewRating); err != nil {
				return err
			}
			if err := pipe.HIncrBy(statsKeyPrefix+u.UserID, statField(u.UserID, winnerID), 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "apply rating updates failed")
	}
	return nil
}

// SetRating overwrites one cached rating, used when refreshing from the durable store.
func (r *RatingRepository) SetRating(ctx context.Context, userID string, rating int) error {
	if userID == "" {
		return appErr.ValidationError("user_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if err := r.cache.HMSet(ctx, ratingKey, map[string]interface{}{userID: rating}); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store rating failed")
	}
	return nil
}

// Stats returns the cached statistics of a player.
func (r *RatingRepository) Stats(ctx context.Context, userID string) (PlayerStats, error) {
	if userID == "" {
		return PlayerStats{}, appErr.ValidationError("user_id", "required")
	}
	if r.cache == nil {
		return PlayerStats{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	fields, err := r.cache.HGetAll(ctx, statsKeyPrefix+userID)
	if err != nil {
		return PlayerStats{}, appErr.Wrapf(err, appErr.CacheError, "load stats failed")
	}
	stats := PlayerStats{UserID: userID, Rating: model.DefaultRating}
	if v, ok := fields["rating"]; ok {
		if stats.Rating, err = strconv.Atoi(v); err != nil {
			return PlayerStats{}, fmt.Errorf("decode rating failed: %w", err)
		}
	}
	counters := map[string]*int64{StatWins: &stats.Wins, StatLosses: &stats.Losses, StatDraws: &stats.Draws}
	for name, dst := range counters {
		if v, ok := fields[name]; ok {
			if *dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				return PlayerStats{}, fmt.Errorf("decode %s failed: %w", name, err)
			}
		}
	}
	return stats, nil
}

func statField(userID, winnerID string) string {
	switch winnerID {
	case "":
		return StatDraws
	case userID:
		return StatWins
	default:
		return StatLosses
	}
}
