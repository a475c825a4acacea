package core

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jdholdren/srwatch/internal/core/models"
	"github.com/jdholdren/srwatch/internal/metrics"
)

// Field is one answer of a vote
type Field string

const (
	FieldResult  Field = "result"
	FieldRole    Field = "role"
	FieldQuality Field = "quality"
)

// A Kind describes one flavour of voting session
type Kind struct {
	Name     string
	Required []Field
	TTL      time.Duration
	// TracksRank runs a rank evaluation for the voter's role after each vote
	TracksRank bool
	// NeedsSubject sessions are about one map
	NeedsSubject bool
}

var (
	// MapKind rates a single map: outcome, role played, and how the map felt
	MapKind = Kind{
		Name:         "map",
		Required:     []Field{FieldResult, FieldRole, FieldQuality},
		TTL:          60 * time.Second,
		NeedsSubject: true,
	}
	// RankKind records outcomes towards the next rank update
	RankKind = Kind{
		Name:       "rank",
		Required:   []Field{FieldResult, FieldRole},
		TTL:        20 * time.Minute,
		TracksRank: true,
	}
)

// Kinds indexes every session kind by name
var Kinds = map[string]Kind{
	MapKind.Name:  MapKind,
	RankKind.Name: RankKind,
}

func (k Kind) accepts(f Field) bool {
	for _, r := range k.Required {
		if r == f {
			return true
		}
	}
	return false
}

// Identity is a voter. ID is the stable platform id and is the only thing
// sessions key on; Name is what gets written to the ledger.
type Identity struct {
	ID   string
	Name string
}

// State is where an identity is in a session
type State int

const (
	Collecting State = iota
	Complete
	Submitted
	Expired
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Complete:
		return "complete"
	case Submitted:
		return "submitted"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// PartialVote holds the answers an identity has given so far. Zero values are unanswered.
type PartialVote struct {
	Result  models.Result
	Role    models.Role
	Quality *int
}

func (p PartialVote) has(f Field) bool {
	switch f {
	case FieldResult:
		return p.Result != ""
	case FieldRole:
		return p.Role != ""
	case FieldQuality:
		return p.Quality != nil
	}
	return false
}

// ErrSessionExpired is returned for any input on a session past its lifetime
var ErrSessionExpired = &ValidationError{Msg: "this vote has expired, start a new one"}

// A Session is shared by everyone voting on the same message. Each identity's
// answers are kept apart, and each identity can commit at most once.
type Session struct {
	ID        string
	GuildID   string
	Kind      Kind
	Subject   string
	CreatedAt time.Time
	ExpiresAt time.Time

	mu        sync.Mutex
	partial   map[string]*PartialVote
	inflight  map[string]bool
	submitted map[string]bool
	voters    []string
	timer     *time.Timer
}

// Voters lists the display names that have committed, in order
func (s *Session) Voters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.voters...)
}

func (s *Session) stateOf(id string) State {
	if s.submitted[id] {
		return Submitted
	}
	pv, ok := s.partial[id]
	if !ok {
		return Collecting
	}
	for _, f := range s.Kind.Required {
		if !pv.has(f) {
			return Collecting
		}
	}
	return Complete
}

// SubmitResult is what a successful submit produced
type SubmitResult struct {
	RatingID int64
	Session  *Session
	Voters   []string
	// Rank is set for sessions that track rank, unless the evaluation failed
	Rank *models.RankUpdate
}

// Appender commits a finished vote to a guild's ledger
type Appender interface {
	Append(ctx context.Context, guildID string, r models.Rating) (int64, error)
}

// Evaluator runs a rank checkpoint evaluation
type Evaluator interface {
	Evaluate(ctx context.Context, guildID, username string, role models.Role, force bool) (models.RankUpdate, error)
}

// Aggregator owns every live voting session
type Aggregator struct {
	ledger  Appender
	ranker  Evaluator
	l       *zap.SugaredLogger
	m       *metrics.Metrics
	now     func() time.Time
	resolve func(guildID string, who Identity) string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewAggregator(ledger Appender, ranker Evaluator, l *zap.SugaredLogger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		ledger:   ledger,
		ranker:   ranker,
		l:        l,
		m:        m,
		now:      time.Now,
		resolve:  func(_ string, who Identity) string { return who.Name },
		sessions: map[string]*Session{},
	}
}

// Open starts a session that tears itself down after the kind's TTL
func (a *Aggregator) Open(guildID string, kind Kind, subject string) (*Session, error) {
	if len(kind.Required) == 0 {
		return nil, invalid("unknown vote kind '%s'", kind.Name)
	}
	if kind.NeedsSubject && subject == "" {
		return nil, invalid("a %s vote needs something to vote on", kind.Name)
	}

	created := a.now()
	s := &Session{
		ID:        uuid.New().String(),
		GuildID:   guildID,
		Kind:      kind,
		Subject:   subject,
		CreatedAt: created,
		ExpiresAt: created.Add(kind.TTL),
		partial:   map[string]*PartialVote{},
		inflight:  map[string]bool{},
		submitted: map[string]bool{},
	}

	a.mu.Lock()
	a.sessions[s.ID] = s
	s.timer = time.AfterFunc(kind.TTL, func() { a.expire(s.ID) })
	a.mu.Unlock()

	a.m.SessionOpened(kind.Name)
	a.l.Debugw("opened voting session", "session_id", s.ID, "guild_id", guildID, "kind", kind.Name, "subject", subject)

	return s, nil
}

// Close drops every session without committing anything
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, s := range a.sessions {
		s.timer.Stop()
		delete(a.sessions, id)
	}
}

func (a *Aggregator) expire(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.sessions[id]; ok {
		s.timer.Stop()
		delete(a.sessions, id)
		a.m.SessionExpired()
		a.l.Debugw("voting session expired", "session_id", id)
	}
}

// Finds a live session. Expiry is checked against the clock as well as the
// timer so a late timer never lets an old session accept input.
func (a *Aggregator) session(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, invalid("malformed vote id")
	}

	a.mu.Lock()
	s, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return nil, ErrSessionExpired
	}

	if !a.now().Before(s.ExpiresAt) {
		a.expire(id)
		return nil, ErrSessionExpired
	}

	return s, nil
}

// Session returns a live session by id
func (a *Aggregator) Session(id string) (*Session, error) {
	return a.session(id)
}

// State reports where an identity is in a session
func (a *Aggregator) State(sessionID, identityID string) State {
	s, err := a.session(sessionID)
	if err != nil {
		return Expired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateOf(identityID)
}

// RecordField sets one answer for who, overwriting any earlier answer to the same field
func (a *Aggregator) RecordField(sessionID string, who Identity, field Field, value string) error {
	s, err := a.session(sessionID)
	if err != nil {
		return err
	}
	if !s.Kind.accepts(field) {
		return invalid("a %s vote has no %s", s.Kind.Name, field)
	}

	var pv PartialVote
	switch field {
	case FieldResult:
		if pv.Result, err = models.ParseResult(value); err != nil {
			return invalid("%s", err)
		}
	case FieldRole:
		if pv.Role, err = models.ParseRole(value); err != nil {
			return invalid("%s", err)
		}
	case FieldQuality:
		q, err := strconv.Atoi(value)
		if err != nil || q < 0 || q >= len(models.QualityLabels) {
			return invalid("unknown quality '%s'", value)
		}
		pv.Quality = &q
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitted[who.ID] || s.inflight[who.ID] {
		return &ConflictError{Msg: "you have already voted! to remove a vote, try /last"}
	}

	cur, ok := s.partial[who.ID]
	if !ok {
		cur = &PartialVote{}
		s.partial[who.ID] = cur
	}
	switch field {
	case FieldResult:
		cur.Result = pv.Result
	case FieldRole:
		cur.Role = pv.Role
	case FieldQuality:
		cur.Quality = pv.Quality
	}

	return nil
}

// Submit commits who's vote: exactly one ledger append per identity per session.
// An incomplete vote is refused and left as is. A failed append discards the
// partial vote.
func (a *Aggregator) Submit(ctx context.Context, sessionID string, who Identity) (SubmitResult, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	s.mu.Lock()
	if s.submitted[who.ID] || s.inflight[who.ID] {
		s.mu.Unlock()
		a.m.VoteRejected("duplicate")
		return SubmitResult{}, &ConflictError{Msg: "you have already voted! to remove a vote, try /last"}
	}
	if s.stateOf(who.ID) != Complete {
		s.mu.Unlock()
		a.m.VoteRejected("incomplete")
		return SubmitResult{}, invalid("please fill in all sections!")
	}
	pv := *s.partial[who.ID]
	s.inflight[who.ID] = true
	s.mu.Unlock()

	username := a.resolve(s.GuildID, who)
	r := models.Rating{
		Username: username,
		Result:   pv.Result,
		Role:     pv.Role,
		Subject:  s.Subject,
		Quality:  pv.Quality,
		Time:     a.now().Unix(),
	}
	id, err := a.ledger.Append(ctx, s.GuildID, r)

	s.mu.Lock()
	delete(s.inflight, who.ID)
	delete(s.partial, who.ID)
	if err != nil {
		s.mu.Unlock()
		a.m.VoteRejected("storage")
		return SubmitResult{}, err
	}
	s.submitted[who.ID] = true
	s.voters = append(s.voters, who.Name)
	voters := append([]string(nil), s.voters...)
	s.mu.Unlock()

	a.m.VoteSubmitted(s.Kind.Name)
	a.l.Infow("vote submitted",
		"session_id", s.ID, "guild_id", s.GuildID, "username", username,
		"subject", s.Subject, "result", pv.Result, "role", pv.Role, "rating_id", id)

	res := SubmitResult{RatingID: id, Session: s, Voters: voters}
	if s.Kind.TracksRank {
		u, err := a.ranker.Evaluate(ctx, s.GuildID, username, pv.Role, false)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				a.l.Errorw("error evaluating rank after vote", "err", err, "guild_id", s.GuildID, "username", username)
			}
		} else {
			res.Rank = &u
		}
	}

	return res, nil
}
