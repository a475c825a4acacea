package db

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jdholdren/srwatch/internal/core/models"
)

const (
	// MaxReadCount bounds a single last-N read
	MaxReadCount = 100
	// MaxDeleteBatch bounds a single delete
	MaxDeleteBatch = 20
)

// A Guild is the ledger of one guild. Writes are serialized through mu; reads
// go straight to the pool.
type Guild struct {
	id string
	db *sqlx.DB
	l  *zap.SugaredLogger

	mu sync.Mutex
}

const selectRatings = `
	SELECT ratings.rating_id, users.username, ratings.result,
		COALESCE(ratings.role, '') AS role, COALESCE(ratings.subject, '') AS subject,
		ratings.quality, ratings.datetime
	FROM ratings
		INNER JOIN users ON ratings.user_id = users.user_id
`

// Append writes one rating, creating its user if needed, and returns the new id
func (g *Guild) Append(ctx context.Context, r models.Rating) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var id int64
	err := retry(ctx, func() error {
		tx, err := g.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("error starting transaction: %w", err)
		}
		defer tx.Rollback()

		userID, err := resolveUser(ctx, tx, r.Username)
		if err != nil {
			return err
		}

		q := `
		INSERT INTO ratings (user_id, result, role, subject, quality, datetime) VALUES (?, ?, ?, ?, ?, ?);
		`
		res, err := tx.ExecContext(ctx, q,
			userID, string(r.Result), nullable(string(r.Role)), nullable(r.Subject), r.Quality, r.Time)
		if err != nil {
			return fmt.Errorf("error inserting rating: %w", err)
		}

		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("error reading rating id: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}

	g.l.Debugw("appended rating", "rating_id", id, "username", r.Username, "result", r.Result, "role", r.Role)

	return id, nil
}

// ReadLast returns up to count of the most recent ratings, newest first.
// Counts above MaxReadCount are clamped; non-positive counts read nothing.
func (g *Guild) ReadLast(ctx context.Context, count int, f models.Filter) ([]int64, []models.RatingRow, error) {
	if count <= 0 {
		return []int64{}, []models.RatingRow{}, nil
	}
	if count > MaxReadCount {
		count = MaxReadCount
	}

	var (
		where []string
		args  []any
	)
	if f.Username != "" {
		where = append(where, "users.username = ?")
		args = append(args, f.Username)
	}
	if f.Role != "" {
		where = append(where, "ratings.role = ?")
		args = append(args, string(f.Role))
	}

	q := selectRatings
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ratings.rating_id DESC LIMIT ?;"
	args = append(args, count)

	rows := make([]models.RatingRow, 0, count)
	if err := g.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, nil, &StorageError{Op: "read_last", Err: err}
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	return ids, rows, nil
}

// Count is the total number of ratings in the ledger
func (g *Guild) Count(ctx context.Context) (int, error) {
	var n int
	if err := g.db.GetContext(ctx, &n, `SELECT COUNT(rating_id) FROM ratings;`); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}

	return n, nil
}

// Delete removes the ratings with the given ids. Batches larger than
// MaxDeleteBatch are refused whole and nothing is removed.
func (g *Guild) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > MaxDeleteBatch {
		g.l.Warnw("refusing oversized delete", "count", len(ids))
		return nil
	}

	q, args, err := sqlx.In(`DELETE FROM ratings WHERE rating_id IN (?);`, ids)
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	q = g.db.Rebind(q)

	g.mu.Lock()
	defer g.mu.Unlock()

	err = retry(ctx, func() error {
		_, err := g.db.ExecContext(ctx, q, args...)
		return err
	})
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}

	g.l.Infow("deleted ratings", "ids", ids)

	return nil
}

// Export returns every rating with its username resolved, oldest first
func (g *Guild) Export(ctx context.Context) ([]models.ExportRow, error) {
	q := `
	SELECT ratings.rating_id, users.username, ratings.result,
		COALESCE(ratings.role, '') AS role, COALESCE(ratings.subject, '') AS subject,
		ratings.quality, ratings.datetime
	FROM ratings
		INNER JOIN users ON ratings.user_id = users.user_id
	ORDER BY ratings.rating_id ASC;
	`

	rows := []models.ExportRow{}
	if err := g.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, &StorageError{Op: "export", Err: err}
	}

	return rows, nil
}

// Resolves a username to its row id, inserting it if unseen. A concurrent
// insert of the same name loses the conflict and simply re-reads.
func resolveUser(ctx context.Context, tx *sqlx.Tx, username string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (username) VALUES (?) ON CONFLICT(username) DO NOTHING;`, username); err != nil {
		return 0, fmt.Errorf("error inserting user: %w", err)
	}

	var id int64
	if err := tx.GetContext(ctx, &id, `SELECT user_id FROM users WHERE username = ?;`, username); err != nil {
		return 0, fmt.Errorf("error reading user id: %w", err)
	}

	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
