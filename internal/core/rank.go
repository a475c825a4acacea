package core

import (
	"context"

	"github.com/jdholdren/srwatch/internal/core/db"
	"github.com/jdholdren/srwatch/internal/core/models"
	"github.com/jdholdren/srwatch/internal/metrics"
)

const (
	MinSR = 0
	MaxSR = 5000
)

// RankEngine decides when enough games have been recorded since the last
// checkpoint to count as a rank update, and rolls the checkpoint forward when
// they have.
type RankEngine struct {
	db  *db.Store
	cfg Config
	m   *metrics.Metrics
}

func NewRankEngine(d *db.Store, c Config, m *metrics.Metrics) *RankEngine {
	return &RankEngine{db: d, cfg: c, m: m}
}

// Evaluate checks the games recorded for username on role since its checkpoint.
// When a threshold is crossed, or force is set, the checkpoint moves to the
// newest of those games and the SR is adjusted. Otherwise nothing is written
// and the returned update only reports progress.
func (e *RankEngine) Evaluate(ctx context.Context, guildID, username string, role models.Role, force bool) (models.RankUpdate, error) {
	if !validRole(role) {
		return models.RankUpdate{}, invalid("unknown role '%s'", role)
	}

	g, err := e.db.Guild(ctx, guildID)
	if err != nil {
		return models.RankUpdate{}, storeErr(err)
	}

	var triggered bool
	cp, pending, err := g.Evaluate(ctx, username, role,
		func(cp models.Checkpoint, pending []models.Outcome, maxID int64) (models.Checkpoint, bool) {
			var next models.Checkpoint
			next, triggered = e.decide(cp, pending, maxID, force)
			return next, triggered
		})
	if err != nil {
		return models.RankUpdate{}, err
	}

	u := models.RankUpdate{
		Role:      role,
		Triggered: triggered,
		Outcomes:  make([]models.Result, len(pending)),
		SR:        cp.SR,
		LastID:    cp.RatingID,
	}
	for i, o := range pending {
		u.Outcomes[i] = o.Result
	}
	u.Wins, u.Draws, u.Losses = tally(pending)
	u.Delta = e.cfg.Step * (u.Wins - u.Losses)
	u.Projected = u.SR
	if !triggered {
		u.Projected = clampSR(u.SR + u.Delta)
	}

	e.m.RankEvaluated(role.String(), triggered)

	return u, nil
}

// decide is the pure part of Evaluate
func (e *RankEngine) decide(cp models.Checkpoint, pending []models.Outcome, maxID int64, force bool) (models.Checkpoint, bool) {
	if len(pending) == 0 {
		if !force {
			return cp, false
		}
		// Nothing to count, just start tracking from the newest game
		if maxID > cp.RatingID {
			cp.RatingID = maxID
		}
		return cp, true
	}

	wins, draws, losses := tally(pending)
	lossCount := losses
	if e.cfg.DrawsAsLosses {
		lossCount += draws
	}
	if !force && lossCount < e.cfg.LossThreshold && wins < e.cfg.WinThreshold {
		return cp, false
	}

	cp.RatingID = pending[len(pending)-1].RatingID
	cp.SR = clampSR(cp.SR + e.cfg.Step*(wins-losses))

	return cp, true
}

func tally(outcomes []models.Outcome) (wins, draws, losses int) {
	for _, o := range outcomes {
		switch o.Result {
		case models.Win:
			wins++
		case models.Draw:
			draws++
		case models.Loss:
			losses++
		}
	}
	return wins, draws, losses
}

func clampSR(sr int) int {
	if sr < MinSR {
		return MinSR
	}
	if sr > MaxSR {
		return MaxSR
	}
	return sr
}

func validRole(r models.Role) bool {
	for _, known := range models.Roles {
		if r == known {
			return true
		}
	}
	return false
}
