package prizepool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/ts"
)

var epoch = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*state.MemStorage, *Aggregator, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	store := state.NewMemStorage()
	if _, err := state.SeedPayoutTemplates(ctx, store, "standard"); err != nil {
		t.Fatal(err)
	}
	levels, err := model.ParseLevels("20 -- 25/50\n")
	if err != nil {
		t.Fatal(err)
	}
	id := uuid.New()
	err = store.CreateTournament(ctx, &model.Tournament{
		ID:         id,
		Name:       "Friday Deepstack",
		BuyInCents: 10000,
		LiveStatus: model.InProgress,
		Version:    1,
	}, levels, model.NewClock(id, epoch), nil)
	if err != nil {
		t.Fatal(err)
	}
	clock := ts.NewClock(clockwork.NewFakeClockAt(epoch))
	return store, NewAggregator(store, clock), id
}

func addEntries(t *testing.T, store *state.MemStorage, id uuid.UUID, users []uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	err := store.InTournament(ctx, id, func(tx state.TournamentTx) error {
		for _, u := range users {
			e := &model.Entry{ID: uuid.New(), TournamentID: id, UserID: u, Type: model.InitialEntry, AmountCents: amount}
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func recalc(t *testing.T, store *state.MemStorage, a *Aggregator, id uuid.UUID) *Result {
	t.Helper()
	var res *Result
	err := store.InTournament(context.Background(), id, func(tx state.TournamentTx) error {
		var err error
		res, err = a.Recalculate(context.Background(), tx, nil)
		return err
	})
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	return res
}

func users(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func countRecalculated(t *testing.T, store *state.MemStorage, id uuid.UUID) int {
	t.Helper()
	cat := model.CategoryResult
	page, err := store.ListActivity(context.Background(), id, &cat, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	return page.Total
}

func TestRecalculateWritesPayout(t *testing.T) {
	store, a, id := setup(t)
	addEntries(t, store, id, users(11), 2500)

	res := recalc(t, store, a, id)
	if !res.Changed || res.NoTemplate {
		t.Fatalf("result = %+v", res)
	}
	want := []int64{13750, 8250, 5500}
	for i, w := range want {
		if res.Payout.Positions[i].AmountCents != w {
			t.Errorf("position %d = %d, want %d", i+1, res.Payout.Positions[i].AmountCents, w)
		}
	}
	stored, err := store.FetchPayout(context.Background(), id)
	if err != nil || !stored.SameDistribution(res.Payout) {
		t.Errorf("stored payout %+v, %v", stored, err)
	}
	if n := countRecalculated(t, store, id); n != 1 {
		t.Errorf("%d payout_recalculated entries", n)
	}
}

func TestRecalculateUnchangedWritesNothing(t *testing.T) {
	store, a, id := setup(t)
	addEntries(t, store, id, users(6), 2500)
	recalc(t, store, a, id)

	res := recalc(t, store, a, id)
	if res.Changed {
		t.Errorf("second recalculation changed the payout")
	}
	if n := countRecalculated(t, store, id); n != 1 {
		t.Errorf("%d payout_recalculated entries, want 1", n)
	}
}

func TestRecalculateFollowsTemplateBoundary(t *testing.T) {
	store, a, id := setup(t)
	addEntries(t, store, id, users(10), 1000)
	if res := recalc(t, store, a, id); len(res.Payout.Positions) != 2 {
		t.Fatalf("10 players: %d places", len(res.Payout.Positions))
	}
	addEntries(t, store, id, users(1), 1000)
	res := recalc(t, store, a, id)
	if len(res.Payout.Positions) != 3 || res.Payout.PlayerCount != 11 {
		t.Errorf("11 players: %+v", res.Payout)
	}
}

func TestNoTemplateKeepsExistingPayout(t *testing.T) {
	store, a, id := setup(t)
	addEntries(t, store, id, users(3), 1000)
	first := recalc(t, store, a, id)

	// Remove every template; the last good payout stays.
	ctx := context.Background()
	templates, _ := store.FetchPayoutTemplates(ctx)
	for _, tpl := range templates {
		store.DeletePayoutTemplate(ctx, tpl.ID)
	}
	addEntries(t, store, id, users(1), 1000)
	res := recalc(t, store, a, id)
	if !res.NoTemplate || res.Changed {
		t.Fatalf("result = %+v", res)
	}
	stored, _ := store.FetchPayout(ctx, id)
	if !stored.SameDistribution(first.Payout) {
		t.Errorf("payout changed without a template: %+v", stored)
	}
}

func TestNoEntriesNoPayout(t *testing.T) {
	store, a, id := setup(t)
	res := recalc(t, store, a, id)
	if !res.NoTemplate || res.Payout != nil {
		t.Errorf("result = %+v", res)
	}
	if _, err := store.FetchPayout(context.Background(), id); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("FetchPayout: %v", err)
	}
}

type brokenTemplates struct{}

func (brokenTemplates) FetchPayoutTemplates(ctx context.Context) ([]*paytable.Template, error) {
	return nil, errors.New("database is on fire")
}

func TestTemplateErrorRollsBack(t *testing.T) {
	store, _, id := setup(t)
	a := NewAggregator(brokenTemplates{}, ts.NewClock(clockwork.NewFakeClockAt(epoch)))
	addEntries(t, store, id, users(3), 1000)
	err := store.InTournament(context.Background(), id, func(tx state.TournamentTx) error {
		_, err := a.Recalculate(context.Background(), tx, nil)
		return err
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}
