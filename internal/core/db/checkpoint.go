package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/srwatch/internal/core/models"
)

// Untracked is the checkpoint position of a user+role nobody has evaluated yet
const Untracked int64 = -1

// Decide looks at a checkpoint and the outcomes recorded after it and returns the
// checkpoint to store. Returning write=false leaves the stored row untouched.
// It may run more than once if the database is busy, so it must not have side effects.
type Decide func(cp models.Checkpoint, pending []models.Outcome, maxID int64) (next models.Checkpoint, write bool)

// Checkpoint reads the checkpoint for a user+role, creating the default one if absent
func (g *Guild) Checkpoint(ctx context.Context, username string, role models.Role) (models.Checkpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var cp models.Checkpoint
	err := retry(ctx, func() error {
		tx, err := g.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("error starting transaction: %w", err)
		}
		defer tx.Rollback()

		userID, err := resolveUser(ctx, tx, username)
		if err != nil {
			return err
		}

		if cp, err = ensureCheckpoint(ctx, tx, userID, username, role); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return models.Checkpoint{}, &StorageError{Op: "get_checkpoint", Err: err}
	}

	return cp, nil
}

// SetCheckpoint overwrites the checkpoint for a user+role
func (g *Guild) SetCheckpoint(ctx context.Context, username string, role models.Role, lastID int64, sr int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := retry(ctx, func() error {
		tx, err := g.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("error starting transaction: %w", err)
		}
		defer tx.Rollback()

		userID, err := resolveUser(ctx, tx, username)
		if err != nil {
			return err
		}

		if err := writeCheckpoint(ctx, tx, userID, role, lastID, sr); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return &StorageError{Op: "set_checkpoint", Err: err}
	}

	return nil
}

// Evaluate reads a checkpoint and everything recorded after it, lets decide pick
// the next checkpoint and stores it, all in one transaction under the guild's
// write lock. Two evaluations of the same user+role never see the same window.
// It returns the checkpoint as stored afterwards and the pending outcomes that
// were shown to decide.
func (g *Guild) Evaluate(ctx context.Context, username string, role models.Role, decide Decide) (models.Checkpoint, []models.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		result  models.Checkpoint
		pending []models.Outcome
	)
	err := retry(ctx, func() error {
		tx, err := g.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("error starting transaction: %w", err)
		}
		defer tx.Rollback()

		userID, err := resolveUser(ctx, tx, username)
		if err != nil {
			return err
		}

		cp, err := ensureCheckpoint(ctx, tx, userID, username, role)
		if err != nil {
			return err
		}

		pending = []models.Outcome{}
		q := `
		SELECT rating_id, result FROM ratings
		WHERE user_id = ? AND role = ? AND rating_id > ?
		ORDER BY rating_id ASC;
		`
		if err := tx.SelectContext(ctx, &pending, q, userID, string(role), cp.RatingID); err != nil {
			return fmt.Errorf("error reading pending ratings: %w", err)
		}

		var maxID int64
		q = `SELECT COALESCE(MAX(rating_id), -1) FROM ratings WHERE user_id = ? AND role = ?;`
		if err := tx.GetContext(ctx, &maxID, q, userID, string(role)); err != nil {
			return fmt.Errorf("error reading max rating id: %w", err)
		}

		next, write := decide(cp, pending, maxID)
		if !write {
			result = cp
			return tx.Commit()
		}

		if err := writeCheckpoint(ctx, tx, userID, role, next.RatingID, next.SR); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		result = models.Checkpoint{
			Username: username,
			Role:     role,
			RatingID: next.RatingID,
			SR:       next.SR,
		}
		return nil
	})
	if err != nil {
		return models.Checkpoint{}, nil, &StorageError{Op: "evaluate_checkpoint", Err: err}
	}

	return result, pending, nil
}

func ensureCheckpoint(ctx context.Context, tx *sqlx.Tx, userID int64, username string, role models.Role) (models.Checkpoint, error) {
	q := `
	INSERT INTO checkpoints (user_id, role, rating_id, sr) VALUES (?, ?, ?, 0) ON CONFLICT(user_id, role) DO NOTHING;
	`
	if _, err := tx.ExecContext(ctx, q, userID, string(role), Untracked); err != nil {
		return models.Checkpoint{}, fmt.Errorf("error creating checkpoint: %w", err)
	}

	cp := models.Checkpoint{}
	q = `SELECT rating_id, sr FROM checkpoints WHERE user_id = ? AND role = ?;`
	if err := tx.GetContext(ctx, &cp, q, userID, string(role)); err != nil {
		return models.Checkpoint{}, fmt.Errorf("error reading checkpoint: %w", err)
	}
	cp.Username = username
	cp.Role = role

	return cp, nil
}

func writeCheckpoint(ctx context.Context, tx *sqlx.Tx, userID int64, role models.Role, lastID int64, sr int) error {
	q := `
	INSERT INTO checkpoints (user_id, role, rating_id, sr) VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, role) DO UPDATE SET rating_id = excluded.rating_id, sr = excluded.sr;
	`
	if _, err := tx.ExecContext(ctx, q, userID, string(role), lastID, sr); err != nil {
		return fmt.Errorf("error writing checkpoint: %w", err)
	}

	return nil
}
