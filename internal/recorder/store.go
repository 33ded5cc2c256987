package recorder

import (
	"context"
	"encoding/json"
	"time"

	"codeduel/internal/common/db"
	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
)

const (
	insertDuelSQL = `INSERT INTO duel_records
	(duel_id, task_id, status, winner_id, reason, is_private, created_at, start_time, end_time, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertPlayerSQL = `INSERT INTO duel_players
	(duel_id, user_id, submission_id, verdict, submission_time, outcome, old_rating, new_rating)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	upsertRatingSQL = `INSERT INTO player_ratings (user_id, rating, wins, losses, draws, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE rating = VALUES(rating), wins = wins + VALUES(wins),
	losses = losses + VALUES(losses), draws = draws + VALUES(draws), updated_at = VALUES(updated_at)`
	upsertSubmissionSQL = `INSERT INTO submission_records
	(submission_id, duel_id, user_id, language, status, sequence, code, test_results, compile_log, error_message, submitted_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE status = VALUES(status), test_results = VALUES(test_results),
	compile_log = VALUES(compile_log), error_message = VALUES(error_message), finished_at = VALUES(finished_at)`
	selectRatingSQL = `SELECT rating, wins, losses, draws FROM player_ratings WHERE user_id = ?`
)

// MySQLStore persists duel and submission records.
type MySQLStore struct {
	provider db.Provider
	now      func() time.Time
}

// NewMySQLStore creates a store on the provider's current database.
func NewMySQLStore(provider db.Provider) *MySQLStore {
	return &MySQLStore{provider: provider, now: time.Now}
}

// SaveDuel writes the duel, its players and their rating rows in one transaction.
// It reports false when the duel was already recorded, in which case nothing changes.
func (s *MySQLStore) SaveDuel(ctx context.Context, rec model.DuelRecord) (bool, error) {
	database, err := db.CurrentDatabase(s.provider)
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	updates := make(map[string]model.RatingUpdate, len(rec.RatingUpdates))
	for _, u := range rec.RatingUpdates {
		updates[u.UserID] = u
	}
	now := s.now().UTC()

	inserted := true
	err = database.Transaction(ctx, func(tx db.Transaction) error {
		_, err := tx.Exec(ctx, insertDuelSQL,
			rec.DuelID, rec.TaskID, string(rec.Status), nullString(rec.WinnerID), string(rec.Reason),
			rec.IsPrivate, rec.CreatedAt.UTC(), nullTime(rec.StartTime), nullTime(rec.EndTime), now)
		if err != nil {
			if db.IsDuplicate(err) {
				inserted = false
				return nil
			}
			return err
		}
		for _, p := range rec.Players {
			outcome := rec.Outcome(p.UserID)
			var oldRating, newRating interface{}
			if u, ok := updates[p.UserID]; ok {
				oldRating, newRating = u.OldRating, u.NewRating
			}
			if _, err := tx.Exec(ctx, insertPlayerSQL,
				rec.DuelID, p.UserID, nullString(p.SubmissionID), nullString(string(p.Verdict)),
				nullTime(p.SubmissionTime), outcomeOrNone(outcome), oldRating, newRating); err != nil {
				return err
			}
			u, ok := updates[p.UserID]
			if !ok {
				continue
			}
			wins, losses, draws := tally(outcome)
			if _, err := tx.Exec(ctx, upsertRatingSQL, p.UserID, u.NewRating, wins, losses, draws, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "save duel %s failed", rec.DuelID)
	}
	return inserted, nil
}

// SaveSubmission upserts a terminal submission including its code.
func (s *MySQLStore) SaveSubmission(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	database, err := db.CurrentDatabase(s.provider)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	results := sub.TestResults
	if results == nil {
		results = []model.TestResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode test results failed")
	}
	_, err = database.Exec(ctx, upsertSubmissionSQL,
		sub.ID, sub.DuelID, sub.UserID, sub.Language, string(sub.Status), sub.Sequence, sub.Code,
		string(resultsJSON), nullString(sub.CompileLog), nullString(sub.Error), sub.SubmittedAt.UTC(), nullTime(sub.FinishedAt))
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save submission %s failed", sub.ID)
	}
	return nil
}

// PlayerRating loads the durable rating row of a user.
func (s *MySQLStore) PlayerRating(ctx context.Context, userID string) (PlayerRating, error) {
	database, err := db.CurrentDatabase(s.provider)
	if err != nil {
		return PlayerRating{}, appErr.Wrap(err, appErr.DatabaseError)
	}
	out := PlayerRating{UserID: userID}
	err = database.QueryRow(ctx, selectRatingSQL, userID).Scan(&out.Rating, &out.Wins, &out.Losses, &out.Draws)
	if err != nil {
		if db.IsNoRows(err) {
			return PlayerRating{UserID: userID, Rating: model.DefaultRating}, nil
		}
		return PlayerRating{}, appErr.Wrapf(err, appErr.DatabaseError, "load rating of %s failed", userID)
	}
	return out, nil
}

// PlayerRating is a durable rating row.
type PlayerRating struct {
	UserID string
	Rating int
	Wins   int64
	Losses int64
	Draws  int64
}

func tally(outcome string) (wins, losses, draws int) {
	switch outcome {
	case "win":
		return 1, 0, 0
	case "loss":
		return 0, 1, 0
	case "draw":
		return 0, 0, 1
	}
	return 0, 0, 0
}

func outcomeOrNone(outcome string) string {
	if outcome == "" {
		return "none"
	}
	return outcome
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
