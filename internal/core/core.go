package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/jdholdren/srwatch/internal/core/db"
	"github.com/jdholdren/srwatch/internal/core/models"
	"github.com/jdholdren/srwatch/internal/metrics"
)

// Config tunes the rank checkpoint engine
type Config struct {
	LossThreshold int
	WinThreshold  int
	Step          int
	DrawsAsLosses bool
}

// DefaultConfig is 15 losses or 5 wins per update at 25 SR a game
func DefaultConfig() Config {
	return Config{
		LossThreshold: 15,
		WinThreshold:  5,
		Step:          25,
	}
}

// Core ties the ledger, the rank engine and the vote aggregator together and is
// the only thing the transport talks to.
type Core struct {
	db       *db.Store
	rank     *RankEngine
	votes    *Aggregator
	profiles *profiles
	m        *metrics.Metrics
	l        *zap.SugaredLogger
}

func New(d *db.Store, c Config, l *zap.SugaredLogger, m *metrics.Metrics) *Core {
	cr := &Core{
		db:       d,
		rank:     NewRankEngine(d, c, m),
		profiles: newProfiles(),
		m:        m,
		l:        l,
	}
	cr.votes = NewAggregator(cr, cr.rank, l.Named("votes"), m)
	cr.votes.resolve = cr.Username

	return cr
}

// Close tears down every open voting session
func (c *Core) Close() {
	c.votes.Close()
}

// Append writes one rating into a guild's ledger
func (c *Core) Append(ctx context.Context, guildID string, r models.Rating) (int64, error) {
	g, err := c.db.Guild(ctx, guildID)
	if err != nil {
		return 0, storeErr(err)
	}

	return g.Append(ctx, r)
}

// OpenSession starts a shared voting session of the given kind
func (c *Core) OpenSession(ctx context.Context, guildID string, kind Kind, subject string) (*Session, error) {
	if _, err := c.db.Guild(ctx, guildID); err != nil {
		return nil, storeErr(err)
	}

	return c.votes.Open(guildID, kind, subject)
}

// RecordField stores one partial answer for an identity in a session
func (c *Core) RecordField(sessionID string, who Identity, field Field, value string) error {
	return c.votes.RecordField(sessionID, who, field, value)
}

// Submit commits an identity's vote in a session
func (c *Core) Submit(ctx context.Context, sessionID string, who Identity) (SubmitResult, error) {
	return c.votes.Submit(ctx, sessionID, who)
}

// RankUpdate evaluates the rank checkpoint for the caller's role
func (c *Core) RankUpdate(ctx context.Context, guildID string, who Identity, role models.Role, force bool) (models.RankUpdate, error) {
	return c.rank.Evaluate(ctx, guildID, c.Username(guildID, who), role, force)
}

// SR returns the caller's checkpoint for every role
func (c *Core) SR(ctx context.Context, guildID string, who Identity) ([]models.Checkpoint, error) {
	g, err := c.db.Guild(ctx, guildID)
	if err != nil {
		return nil, storeErr(err)
	}

	username := c.Username(guildID, who)
	cps := make([]models.Checkpoint, 0, len(models.Roles))
	for _, role := range models.Roles {
		cp, err := g.Checkpoint(ctx, username, role)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}

	return cps, nil
}

// SetSR overrides the caller's SR for a role without moving the checkpoint
func (c *Core) SetSR(ctx context.Context, guildID string, who Identity, role models.Role, sr int) error {
	if sr < MinSR || sr > MaxSR {
		return invalid("SR must be between %d and %d", MinSR, MaxSR)
	}
	if !validRole(role) {
		return invalid("unknown role '%s'", role)
	}

	g, err := c.db.Guild(ctx, guildID)
	if err != nil {
		return storeErr(err)
	}

	_, _, err = g.Evaluate(ctx, c.Username(guildID, who), role,
		func(cp models.Checkpoint, _ []models.Outcome, _ int64) (models.Checkpoint, bool) {
			cp.SR = sr
			return cp, true
		})

	return err
}

// SetProfile switches the identity the caller records under. An empty profile
// goes back to the default identity.
func (c *Core) SetProfile(guildID string, who Identity, profile string) {
	c.profiles.set(guildID, who.ID, profile)
}

// Username is the ledger identity the caller currently records under
func (c *Core) Username(guildID string, who Identity) string {
	if p := c.profiles.get(guildID, who.ID); p != "" {
		return who.Name + "--" + p
	}
	return who.Name
}
