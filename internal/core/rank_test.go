package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sourcegraph/conc"

	coredb "github.com/jdholdren/srwatch/internal/core/db"
	"github.com/jdholdren/srwatch/internal/core/models"
)

func TestDecide(t *testing.T) {
	e := &RankEngine{cfg: DefaultConfig()}
	start := models.Checkpoint{RatingID: coredb.Untracked, SR: 2000}

	outcomes := func(results ...models.Result) []models.Outcome {
		out := make([]models.Outcome, len(results))
		for i, r := range results {
			out[i] = models.Outcome{RatingID: int64(i + 1), Result: r}
		}
		return out
	}

	tests := []struct {
		name      string
		cp        models.Checkpoint
		pending   []models.Outcome
		maxID     int64
		force     bool
		want      models.Checkpoint
		wantWrite bool
	}{
		{
			name:    "below thresholds",
			cp:      start,
			pending: outcomes(models.Win, models.Win, models.Loss, models.Draw),
			maxID:   4,
			want:    start,
		},
		{
			name:      "five wins",
			cp:        start,
			pending:   outcomes(repeat(models.Win, 5)...),
			maxID:     5,
			want:      models.Checkpoint{RatingID: 5, SR: 2125},
			wantWrite: true,
		},
		{
			name:      "fifteen losses",
			cp:        start,
			pending:   outcomes(append(repeat(models.Loss, 15), models.Win)...),
			maxID:     16,
			want:      models.Checkpoint{RatingID: 16, SR: 2000 - 25*14},
			wantWrite: true,
		},
		{
			name:    "draws do not count as losses by default",
			cp:      start,
			pending: outcomes(append(repeat(models.Loss, 10), repeat(models.Draw, 10)...)...),
			maxID:   20,
			want:    start,
		},
		{
			name:      "forced with games",
			cp:        start,
			pending:   outcomes(models.Loss, models.Loss),
			maxID:     2,
			force:     true,
			want:      models.Checkpoint{RatingID: 2, SR: 1950},
			wantWrite: true,
		},
		{
			name:      "forced without games starts tracking from the newest",
			cp:        models.Checkpoint{RatingID: 3, SR: 1500},
			maxID:     9,
			force:     true,
			want:      models.Checkpoint{RatingID: 9, SR: 1500},
			wantWrite: true,
		},
		{
			name:      "forced never moves backwards",
			cp:        models.Checkpoint{RatingID: 12, SR: 1500},
			maxID:     9,
			force:     true,
			want:      models.Checkpoint{RatingID: 12, SR: 1500},
			wantWrite: true,
		},
		{
			name:    "nothing pending",
			cp:      start,
			maxID:   -1,
			want:    start,
		},
		{
			name:      "clamped at the top",
			cp:        models.Checkpoint{RatingID: coredb.Untracked, SR: 4990},
			pending:   outcomes(repeat(models.Win, 7)...),
			maxID:     7,
			want:      models.Checkpoint{RatingID: 7, SR: MaxSR},
			wantWrite: true,
		},
		{
			name:      "clamped at the bottom",
			cp:        models.Checkpoint{RatingID: coredb.Untracked, SR: 100},
			pending:   outcomes(repeat(models.Loss, 20)...),
			maxID:     20,
			want:      models.Checkpoint{RatingID: 20, SR: MinSR},
			wantWrite: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, write := e.decide(tt.cp, tt.pending, tt.maxID, tt.force)
			if write != tt.wantWrite {
				t.Errorf("decide() write = %t, want %t", write, tt.wantWrite)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decide() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecideDrawsAsLosses(t *testing.T) {
	c := DefaultConfig()
	c.DrawsAsLosses = true
	e := &RankEngine{cfg: c}

	pending := make([]models.Outcome, 0, 15)
	for i := 0; i < 15; i++ {
		r := models.Loss
		if i%2 == 0 {
			r = models.Draw
		}
		pending = append(pending, models.Outcome{RatingID: int64(i + 1), Result: r})
	}

	got, write := e.decide(models.Checkpoint{RatingID: coredb.Untracked, SR: 1000}, pending, 15, false)
	if !write {
		t.Fatalf("decide() did not trigger on 15 draws and losses")
	}
	// Draws trigger the update but never move the SR
	if want := (models.Checkpoint{RatingID: 15, SR: 1000 - 25*7}); got != want {
		t.Errorf("decide() = %+v, want %+v", got, want)
	}
}

func TestRankUpdateTriggersOnWins(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, Config{LossThreshold: 15, WinThreshold: 5, Step: 25})

	ids := appendN(t, cr, "alex", models.Tank, repeat(models.Win, 5)...)

	got, err := cr.RankUpdate(ctx, guildID, alex, models.Tank, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	want := models.RankUpdate{
		Role:      models.Tank,
		Triggered: true,
		Outcomes:  repeat(models.Win, 5),
		Wins:      5,
		Delta:     125,
		SR:        125,
		Projected: 125,
		LastID:    ids[4],
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RankUpdate() mismatch (-want +got):\n%s", diff)
	}

	// The window is consumed
	again, err := cr.RankUpdate(ctx, guildID, alex, models.Tank, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if again.Triggered || len(again.Outcomes) != 0 || again.SR != 125 {
		t.Errorf("second RankUpdate() = %+v, want empty untriggered at 125", again)
	}
}

func TestRankUpdateProgressHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, DefaultConfig())

	appendN(t, cr, "alex", models.Support, models.Win, models.Loss, models.Win)

	for i := 0; i < 2; i++ {
		got, err := cr.RankUpdate(ctx, guildID, alex, models.Support, false)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if got.Triggered {
			t.Fatalf("RankUpdate() triggered below thresholds")
		}
		if diff := cmp.Diff([]models.Result{models.Win, models.Loss, models.Win}, got.Outcomes); diff != "" {
			t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
		}
		if got.Delta != 25 || got.LastID != coredb.Untracked {
			t.Errorf("RankUpdate() = %+v, want projected delta 25 and untracked checkpoint", got)
		}
	}
}

func TestRankUpdateProjectionStaysInBounds(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, DefaultConfig())

	if err := cr.SetSR(ctx, guildID, alex, models.Tank, 4990); err != nil {
		t.Fatalf("unexpected error setting SR: %s", err)
	}
	appendN(t, cr, "alex", models.Tank, repeat(models.Win, 3)...)
	appendN(t, cr, "alex", models.Support, repeat(models.Loss, 4)...)

	got, err := cr.RankUpdate(ctx, guildID, alex, models.Tank, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got.Triggered || got.Delta != 75 || got.SR != 4990 || got.Projected != MaxSR {
		t.Errorf("RankUpdate() = %+v, want untriggered delta 75 projected to %d", got, MaxSR)
	}

	got, err = cr.RankUpdate(ctx, guildID, alex, models.Support, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got.Delta != -100 || got.Projected != MinSR {
		t.Errorf("RankUpdate() = %+v, want delta -100 projected to %d", got, MinSR)
	}
}

func TestRankUpdateForceWithoutGames(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, DefaultConfig())

	ids := appendN(t, cr, "alex", models.Damage, models.Win, models.Loss)
	if err := cr.SetSR(ctx, guildID, alex, models.Damage, 2400); err != nil {
		t.Fatalf("unexpected error setting SR: %s", err)
	}
	if _, err := cr.RankUpdate(ctx, guildID, alex, models.Damage, true); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, err := cr.RankUpdate(ctx, guildID, alex, models.Damage, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !got.Triggered || len(got.Outcomes) != 0 {
		t.Errorf("forced RankUpdate() = %+v, want triggered with no outcomes", got)
	}
	if got.LastID != ids[1] {
		t.Errorf("checkpoint = %d, want %d", got.LastID, ids[1])
	}
	if got.SR != 2400 {
		t.Errorf("SR = %d, want unchanged 2400", got.SR)
	}
}

func TestRankUpdateForceOnFreshUser(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, DefaultConfig())

	// Someone else's games don't count
	appendN(t, cr, "sam", models.Tank, models.Win)

	got, err := cr.RankUpdate(ctx, guildID, alex, models.Tank, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got.LastID != coredb.Untracked || got.SR != 0 {
		t.Errorf("RankUpdate() = %+v, want untracked at 0", got)
	}
}

func TestRankUpdateValidation(t *testing.T) {
	cr := newTestCore(t, DefaultConfig())

	var verr *ValidationError
	if _, err := cr.RankUpdate(context.Background(), guildID, alex, "", false); !errors.As(err, &verr) {
		t.Errorf("RankUpdate(no role) error = %v, want ValidationError", err)
	}
}

func TestRankUpdateConcurrentEvaluationsCountOnce(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, DefaultConfig())

	appendN(t, cr, "alex", models.Tank, repeat(models.Win, 5)...)

	var (
		mu        sync.Mutex
		triggered int
		wg        conc.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			u, err := cr.RankUpdate(ctx, guildID, alex, models.Tank, false)
			if err != nil {
				t.Errorf("unexpected error: %s", err)
				return
			}
			if u.Triggered {
				mu.Lock()
				triggered++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if triggered != 1 {
		t.Errorf("%d evaluations triggered, want 1", triggered)
	}
	cps, err := cr.SR(ctx, guildID, alex)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if cps[0].SR != 125 {
		t.Errorf("tank SR = %d, want 125", cps[0].SR)
	}
}

func TestCheckpointNeverPassesNewestRating(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, DefaultConfig())

	ids := appendN(t, cr, "alex", models.Support, repeat(models.Win, 6)...)
	u, err := cr.RankUpdate(ctx, guildID, alex, models.Support, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if u.LastID > ids[len(ids)-1] {
		t.Errorf("checkpoint %d is past the newest rating %d", u.LastID, ids[len(ids)-1])
	}
}

func TestSRAndSetSR(t *testing.T) {
	ctx := context.Background()
	cr := newTestCore(t, DefaultConfig())

	ids := appendN(t, cr, "alex", models.Tank, repeat(models.Win, 5)...)
	if _, err := cr.RankUpdate(ctx, guildID, alex, models.Tank, false); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := cr.SetSR(ctx, guildID, alex, models.Tank, 3100); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got, err := cr.SR(ctx, guildID, alex)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := []models.Checkpoint{
		{Username: "alex", Role: models.Tank, RatingID: ids[4], SR: 3100},
		{Username: "alex", Role: models.Damage, RatingID: coredb.Untracked},
		{Username: "alex", Role: models.Support, RatingID: coredb.Untracked},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SR() mismatch (-want +got):\n%s", diff)
	}

	var verr *ValidationError
	for _, sr := range []int{-1, 5001} {
		if err := cr.SetSR(ctx, guildID, alex, models.Tank, sr); !errors.As(err, &verr) {
			t.Errorf("SetSR(%d) error = %v, want ValidationError", sr, err)
		}
	}
}
