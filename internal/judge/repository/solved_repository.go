package repository

import (
	"context"
	"math"

	"codejudge/internal/common/db"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	isSolvedQuery        = "SELECT 1 FROM problem_user WHERE problem_id = ? AND user_id = ? LIMIT 1"
	countUserSolvedQuery = "SELECT COUNT(*) FROM problem_user WHERE user_id = ?"
	markSolvedQuery      = "INSERT INTO problem_user (problem_id, user_id) VALUES (?, ?)"
	addPointsQuery       = "UPDATE users SET points = points + ? WHERE id = ?"
)

// SolvedRepository records which users solved which problems and their points.
type SolvedRepository struct {
	db db.Database
}

// NewSolvedRepository creates a new repository.
func NewSolvedRepository(database db.Database) *SolvedRepository {
	return &SolvedRepository{db: database}
}

// IsSolved reports whether the user already solved the problem.
func (r *SolvedRepository) IsSolved(ctx context.Context, problemID int64, userID string) (bool, error) {
	var one int64
	err := r.db.QueryRow(ctx, isSolvedQuery, problemID, userID).Scan(&one)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "query solved state failed")
	}
	return true, nil
}

// CountUserSolved returns how many problems the user has solved.
func (r *SolvedRepository) CountUserSolved(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, countUserSolvedQuery, userID).Scan(&count); err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "count solved problems failed")
	}
	return count, nil
}

// MarkSolved records the solve. It returns false when the row already existed.
func (r *SolvedRepository) MarkSolved(ctx context.Context, tx db.Transaction, problemID int64, userID string) (bool, error) {
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, markSolvedQuery, problemID, userID)
	if key, dup := db.UniqueViolation(err); dup {
		logger.Debug(ctx, "solve already recorded",
			zap.Int64("problem_id", problemID),
			zap.String("user_id", userID),
			zap.String("key", key),
		)
		return false, nil
	}
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "mark solved failed")
	}
	return true, nil
}

// AddPoints credits points to the user.
func (r *SolvedRepository) AddPoints(ctx context.Context, tx db.Transaction, userID string, points int64) error {
	if _, err := db.GetQuerier(r.db, tx).Exec(ctx, addPointsQuery, points, userID); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "add points failed")
	}
	return nil
}

// RecordAccepted marks the problem solved for the user and, on a first solve,
// awards points scaled by how many problems the user had solved before. It
// returns the points awarded.
func (r *SolvedRepository) RecordAccepted(ctx context.Context, problemID int64, userID string, difficulty int) (int64, error) {
	if userID == "" {
		return 0, appErr.ValidationError("user_id", "required")
	}
	if r.db == nil {
		return 0, appErr.New(appErr.DatabaseError).WithMessage("database is not initialized")
	}
	solved, err := r.IsSolved(ctx, problemID, userID)
	if err != nil || solved {
		return 0, err
	}
	count, err := r.CountUserSolved(ctx, userID)
	if err != nil {
		return 0, err
	}
	points := Points(difficulty, count)

	var awarded int64
	err = r.db.Transaction(ctx, func(tx db.Transaction) error {
		inserted, err := r.MarkSolved(ctx, tx, problemID, userID)
		if err != nil || !inserted {
			return err
		}
		if err := r.AddPoints(ctx, tx, userID, points); err != nil {
			return err
		}
		awarded = points
		return nil
	})
	if err != nil {
		return 0, err
	}
	return awarded, nil
}

// Points scores a first solve: difficulty*100 scaled down by log2 of the
// number of problems the user had already solved, with fewer than two
// counting as two.
func Points(difficulty int, solvedCount int64) int64 {
	if difficulty <= 0 {
		return 0
	}
	n := float64(solvedCount)
	if n < 2 {
		n = 2
	}
	return int64(math.Floor(float64(difficulty) * 100 / math.Log2(n)))
}
