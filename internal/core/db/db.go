package db

import (
	"context"
	"embed"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// bootstrapTimeout bounds creating and migrating a guild's ledger
const bootstrapTimeout = 30 * time.Second

//go:embed migrate/*.sql
var migrations embed.FS

// Config controls where guild ledgers live and which sqlite driver opens them
type Config struct {
	// Dir holds one database file per guild
	Dir string
	// Driver is the database/sql driver name: "sqlite" for modernc, "sqlite3" for mattn
	Driver string
}

// A Store hands out one isolated ledger per guild. Nothing is shared between
// guilds except the handle cache.
type Store struct {
	cfg Config
	l   *zap.SugaredLogger

	mu     sync.Mutex
	guilds map[string]*Guild
	opens  singleflight.Group
}

// New creates a store rooted at the configured directory. Ledgers are opened lazily.
func New(c Config, l *zap.SugaredLogger) *Store {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}

	return &Store{
		cfg:    c,
		l:      l,
		guilds: map[string]*Guild{},
	}
}

// Guild returns the ready-to-use ledger for a guild, creating its file and schema
// the first time it's asked for. Concurrent first calls share a single bootstrap.
func (s *Store) Guild(ctx context.Context, guildID string) (*Guild, error) {
	if !validGuildID(guildID) {
		return nil, ErrInvalidGuild
	}

	if g := s.cached(guildID); g != nil {
		return g, nil
	}

	v, err, _ := s.opens.Do(guildID, func() (any, error) {
		if g := s.cached(guildID); g != nil {
			return g, nil
		}

		// Other callers wait on this open, so it outlives the request that started it
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bootstrapTimeout)
		defer cancel()

		g, err := s.open(openCtx, guildID)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.guilds[guildID] = g
		s.mu.Unlock()

		return g, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Guild), nil
}

// Close closes every opened ledger
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, g := range s.guilds {
		if err := g.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing ledger for guild %s: %w", id, err)
		}
		delete(s.guilds, id)
	}

	return firstErr
}

func (s *Store) cached(guildID string) *Guild {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.guilds[guildID]
}

// Path is the file backing a guild's ledger
func (s *Store) Path(guildID string) string {
	return filepath.Join(s.cfg.Dir, fmt.Sprintf("%s-sr.db", guildID))
}

func (s *Store) open(ctx context.Context, guildID string) (*Guild, error) {
	u := url.URL{Scheme: "file", Opaque: s.Path(guildID)}
	q := url.Values{}
	// mattn style
	q.Add("_journal", "WAL")
	q.Add("_busy_timeout", "5000")
	q.Add("_foreign_keys", "1")
	// modernc style
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	u.RawQuery = q.Encode()

	sqlDB, err := sqlx.Open(s.cfg.Driver, u.String())
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	if err := migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	s.l.Debugw("opened guild ledger", "guild_id", guildID, "path", s.Path(guildID))

	return &Guild{
		id: guildID,
		db: sqlDB,
		l:  s.l.With("guild_id", guildID),
	}, nil
}

// Runs every embedded migration in one transaction. All statements are
// create-if-absent so running them again, or from another process, is harmless.
func migrate(ctx context.Context, sqlDB *sqlx.DB) error {
	ups, err := migrations.ReadDir("migrate")
	if err != nil {
		return fmt.Errorf("error reading migration dir: %w", err)
	}
	sort.Slice(ups, func(i, j int) bool { return ups[i].Name() < ups[j].Name() })

	return retry(ctx, func() error {
		tx, err := sqlDB.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("error starting migration: %w", err)
		}
		defer tx.Rollback()

		for _, up := range ups {
			if up.IsDir() || !strings.HasSuffix(up.Name(), "sql") {
				continue
			}

			upBytes, err := migrations.ReadFile("migrate/" + up.Name())
			if err != nil {
				return fmt.Errorf("error reading up file: %w", err)
			}

			if _, err := tx.ExecContext(ctx, string(upBytes)); err != nil {
				return fmt.Errorf("error executing up query for file %s: %w", up.Name(), err)
			}
		}

		return tx.Commit()
	})
}

// Guild ids are Discord snowflakes; anything else could escape the data dir
func validGuildID(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
