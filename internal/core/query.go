package core

import (
	"context"

	"github.com/jdholdren/srwatch/internal/core/db"
	"github.com/jdholdren/srwatch/internal/core/models"
)

// maxUndoRows is the longest listing that gets a delete button
const maxUndoRows = 4

// A Report is one read of the ledger, shaped for both text and tabular consumers
type Report struct {
	IDs  []int64
	Rows []models.RatingRow
	// CanDelete is set when the reader may undo exactly these rows
	CanDelete bool
}

// Last reads the count most recent ratings matching f, newest first
func (c *Core) Last(ctx context.Context, guildID string, count int, f models.Filter, privileged bool) (Report, error) {
	if count <= 0 {
		return Report{}, invalid("count must be between 1 and %d", db.MaxReadCount)
	}
	if f.Role != "" && !validRole(f.Role) {
		return Report{}, invalid("unknown role '%s'", f.Role)
	}

	g, err := c.db.Guild(ctx, guildID)
	if err != nil {
		return Report{}, storeErr(err)
	}

	ids, rows, err := g.ReadLast(ctx, count, f)
	if err != nil {
		return Report{}, err
	}

	return Report{
		IDs:       ids,
		Rows:      rows,
		CanDelete: privileged && len(rows) > 0 && len(rows) <= maxUndoRows,
	}, nil
}

// Count is the number of ratings a guild has recorded
func (c *Core) Count(ctx context.Context, guildID string) (int, error) {
	g, err := c.db.Guild(ctx, guildID)
	if err != nil {
		return 0, storeErr(err)
	}

	return g.Count(ctx)
}

// Export returns a guild's whole ledger, oldest first
func (c *Core) Export(ctx context.Context, guildID string) ([]models.ExportRow, error) {
	g, err := c.db.Guild(ctx, guildID)
	if err != nil {
		return nil, storeErr(err)
	}

	return g.Export(ctx)
}

// Delete removes previously listed ratings. The whole batch is refused if it's
// too large or the caller isn't allowed to delete.
func (c *Core) Delete(ctx context.Context, guildID string, ids []int64, privileged bool) error {
	if !privileged {
		return invalid("you need the manage messages permission to delete ratings")
	}
	if len(ids) == 0 {
		return invalid("nothing to delete")
	}
	if len(ids) > db.MaxDeleteBatch {
		return invalid("refusing to delete more than %d ratings at once", db.MaxDeleteBatch)
	}

	g, err := c.db.Guild(ctx, guildID)
	if err != nil {
		return storeErr(err)
	}

	if err := g.Delete(ctx, ids); err != nil {
		return err
	}
	c.m.RatingsDeleted(len(ids))

	return nil
}
