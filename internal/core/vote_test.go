package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jdholdren/srwatch/internal/core/models"
)

type fakeLedger struct {
	mu      sync.Mutex
	err     error
	ratings []models.Rating
}

func (f *fakeLedger) Append(_ context.Context, _ string, r models.Rating) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	f.ratings = append(f.ratings, r)
	return int64(len(f.ratings)), nil
}

func (f *fakeLedger) appended() []models.Rating {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]models.Rating(nil), f.ratings...)
}

type evalCall struct {
	username string
	role     models.Role
}

type fakeRanker struct {
	mu    sync.Mutex
	err   error
	calls []evalCall
}

func (f *fakeRanker) Evaluate(_ context.Context, _ string, username string, role models.Role, force bool) (models.RankUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, evalCall{username: username, role: role})
	if f.err != nil {
		return models.RankUpdate{}, f.err
	}
	return models.RankUpdate{Role: role, Outcomes: []models.Result{models.Win}, Wins: 1, Delta: 25}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAggregator(t *testing.T) (*Aggregator, *fakeLedger, *fakeRanker, *fakeClock) {
	t.Helper()

	ledger, ranker := &fakeLedger{}, &fakeRanker{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	a := NewAggregator(ledger, ranker, zap.NewNop().Sugar(), nil)
	a.now = clock.Now
	t.Cleanup(a.Close)

	return a, ledger, ranker, clock
}

func fill(t *testing.T, a *Aggregator, sessionID string, who Identity, answers map[Field]string) {
	t.Helper()

	for f, v := range answers {
		require.NoError(t, a.RecordField(sessionID, who, f, v))
	}
}

var fullMapVote = map[Field]string{FieldResult: "Win", FieldRole: "Tank", FieldQuality: "4"}

func TestSubmitMapVote(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, ranker, _ := newTestAggregator(t)

	s, err := a.Open(guildID, MapKind, "Dorado")
	require.NoError(t, err)
	require.Equal(t, Collecting, a.State(s.ID, alex.ID))

	fill(t, a, s.ID, alex, fullMapVote)
	require.Equal(t, Complete, a.State(s.ID, alex.ID))

	res, err := a.Submit(context.Background(), s.ID, alex)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RatingID)
	require.Equal(t, []string{"alex"}, res.Voters)
	require.Nil(t, res.Rank)
	require.Equal(t, Submitted, a.State(s.ID, alex.ID))

	q := 4
	require.Equal(t, []models.Rating{{
		Username: "alex",
		Result:   models.Win,
		Role:     models.Tank,
		Subject:  "Dorado",
		Quality:  &q,
		Time:     1700000000,
	}}, ledger.appended())
	require.Empty(t, ranker.calls)
}

func TestSubmitWithoutRoleIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, _, _ := newTestAggregator(t)

	s, err := a.Open(guildID, MapKind, "Dorado")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, map[Field]string{FieldResult: "Win", FieldQuality: "4"})

	_, err = a.Submit(context.Background(), s.ID, alex)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "please fill in all sections!", verr.Msg)
	require.Equal(t, Collecting, a.State(s.ID, alex.ID))
	require.Empty(t, ledger.appended())

	// The answers given so far are kept
	require.NoError(t, a.RecordField(s.ID, alex, FieldRole, "Tank"))
	require.Equal(t, Complete, a.State(s.ID, alex.ID))
}

func TestSubmitTwiceIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, _, _ := newTestAggregator(t)

	s, err := a.Open(guildID, MapKind, "Dorado")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, fullMapVote)

	_, err = a.Submit(context.Background(), s.ID, alex)
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), s.ID, alex)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)

	err = a.RecordField(s.ID, alex, FieldResult, "Loss")
	require.ErrorAs(t, err, &cerr)

	require.Len(t, ledger.appended(), 1)
}

func TestConcurrentSubmitsAppendOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, _, _ := newTestAggregator(t)

	s, err := a.Open(guildID, MapKind, "Dorado")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, fullMapVote)

	var (
		mu        sync.Mutex
		succeeded int
		wg        conc.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Go(func() {
			if _, err := a.Submit(context.Background(), s.ID, alex); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Len(t, ledger.appended(), 1)
}

func TestVotersAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, _, _ := newTestAggregator(t)

	s, err := a.Open(guildID, MapKind, "Ilios")
	require.NoError(t, err)

	fill(t, a, s.ID, alex, fullMapVote)
	require.NoError(t, a.RecordField(s.ID, sam, FieldResult, "Loss"))

	require.Equal(t, Complete, a.State(s.ID, alex.ID))
	require.Equal(t, Collecting, a.State(s.ID, sam.ID))

	_, err = a.Submit(context.Background(), s.ID, sam)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "please fill in all sections!", verr.Msg)

	fill(t, a, s.ID, sam, map[Field]string{FieldRole: "Support", FieldQuality: "0"})
	_, err = a.Submit(context.Background(), s.ID, sam)
	require.NoError(t, err)
	res, err := a.Submit(context.Background(), s.ID, alex)
	require.NoError(t, err)

	require.Equal(t, []string{"sam", "alex"}, res.Voters)
	got := ledger.appended()
	require.Len(t, got, 2)
	require.Equal(t, models.Loss, got[0].Result)
	require.Equal(t, models.Support, got[0].Role)
	require.Equal(t, models.Win, got[1].Result)
	require.Equal(t, models.Tank, got[1].Role)
}

func TestRecordFieldOverwrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, _, _ := newTestAggregator(t)

	s, err := a.Open(guildID, MapKind, "Numbani")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, fullMapVote)
	require.NoError(t, a.RecordField(s.ID, alex, FieldResult, "Draw"))

	_, err = a.Submit(context.Background(), s.ID, alex)
	require.NoError(t, err)
	require.Equal(t, models.Draw, ledger.appended()[0].Result)
}

func TestRecordFieldValidation(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _, _, _ := newTestAggregator(t)

	mapSession, err := a.Open(guildID, MapKind, "Numbani")
	require.NoError(t, err)
	rankSession, err := a.Open(guildID, RankKind, "")
	require.NoError(t, err)

	tests := []struct {
		name      string
		sessionID string
		field     Field
		value     string
	}{
		{name: "unknown result", sessionID: mapSession.ID, field: FieldResult, value: "Victory"},
		{name: "unknown role", sessionID: mapSession.ID, field: FieldRole, value: "Healer"},
		{name: "quality too high", sessionID: mapSession.ID, field: FieldQuality, value: "7"},
		{name: "quality not a number", sessionID: mapSession.ID, field: FieldQuality, value: "great"},
		{name: "rank votes have no quality", sessionID: rankSession.ID, field: FieldQuality, value: "3"},
		{name: "malformed session", sessionID: "not-a-session", field: FieldResult, value: "Win"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.RecordField(tt.sessionID, alex, tt.field, tt.value)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestOpenValidation(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _, _, _ := newTestAggregator(t)

	var verr *ValidationError
	_, err := a.Open(guildID, MapKind, "")
	require.ErrorAs(t, err, &verr)

	_, err = a.Open(guildID, Kind{Name: "poll"}, "")
	require.ErrorAs(t, err, &verr)
}

func TestSessionExpires(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, _, clock := newTestAggregator(t)

	s, err := a.Open(guildID, MapKind, "Rialto")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, fullMapVote)

	clock.Advance(MapKind.TTL)

	_, err = a.Submit(context.Background(), s.ID, alex)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.ErrorIs(t, a.RecordField(s.ID, sam, FieldResult, "Win"), ErrSessionExpired)
	require.Equal(t, Expired, a.State(s.ID, alex.ID))
	require.Empty(t, ledger.appended())
}

func TestSessionTimerTearsDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _, _, _ := newTestAggregator(t)
	a.now = time.Now

	short := MapKind
	short.TTL = 10 * time.Millisecond
	s, err := a.Open(guildID, short, "Rialto")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		_, ok := a.sessions[s.ID]
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestFailedAppendDiscardsVote(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, _, _ := newTestAggregator(t)
	ledger.err = errors.New("disk full")

	s, err := a.Open(guildID, MapKind, "Rialto")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, fullMapVote)

	_, err = a.Submit(context.Background(), s.ID, alex)
	require.EqualError(t, err, "disk full")
	require.Equal(t, Collecting, a.State(s.ID, alex.ID))

	// Starting over works once storage is back
	ledger.mu.Lock()
	ledger.err = nil
	ledger.mu.Unlock()

	_, err = a.Submit(context.Background(), s.ID, alex)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	fill(t, a, s.ID, alex, fullMapVote)
	_, err = a.Submit(context.Background(), s.ID, alex)
	require.NoError(t, err)
	require.Len(t, ledger.appended(), 1)
}

func TestRankVoteEvaluatesRank(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, ranker, _ := newTestAggregator(t)
	a.resolve = func(_ string, who Identity) string { return who.Name + "--alt" }

	s, err := a.Open(guildID, RankKind, "")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, map[Field]string{FieldResult: "W", FieldRole: "D"})

	res, err := a.Submit(context.Background(), s.ID, alex)
	require.NoError(t, err)
	require.NotNil(t, res.Rank)
	require.Equal(t, models.Damage, res.Rank.Role)

	require.Equal(t, []evalCall{{username: "alex--alt", role: models.Damage}}, ranker.calls)
	require.Equal(t, "alex--alt", ledger.appended()[0].Username)
	require.Equal(t, []string{"alex"}, res.Voters)
}

func TestRankEvaluationFailureKeepsVote(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, ledger, ranker, _ := newTestAggregator(t)
	ranker.err = errors.New("database is on fire")

	s, err := a.Open(guildID, RankKind, "")
	require.NoError(t, err)
	fill(t, a, s.ID, alex, map[Field]string{FieldResult: "L", FieldRole: "S"})

	res, err := a.Submit(context.Background(), s.ID, alex)
	require.NoError(t, err)
	require.Nil(t, res.Rank)
	require.Len(t, ledger.appended(), 1)
	require.Equal(t, Submitted, a.State(s.ID, alex.ID))
}
