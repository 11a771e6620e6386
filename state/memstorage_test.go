package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/model"
)

var epoch = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func newTestTournament(t *testing.T, s *MemStorage) uuid.UUID {
	t.Helper()
	levels, err := model.ParseLevels("20 -- 25/50\n20 -- 50/100\n10 -- BREAK\n20 -- 100/200/200\n")
	if err != nil {
		t.Fatalf("ParseLevels: %v", err)
	}
	id := uuid.New()
	tm := &model.Tournament{
		ID:              id,
		ClubID:          uuid.New(),
		Name:            "Tuesday NLHE",
		BuyInCents:      2500,
		LiveStatus:      model.NotStarted,
		StatusChangedAt: epoch,
		Version:         1,
		CreatedAt:       epoch,
	}
	if err := s.CreateTournament(context.Background(), tm, levels, model.NewClock(id, epoch), nil); err != nil {
		t.Fatalf("CreateTournament: %v", err)
	}
	return id
}

func TestInTournamentRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	id := newTestTournament(t, s)

	boom := errors.New("boom")
	err := s.InTournament(ctx, id, func(tx TournamentTx) error {
		if err := tx.InsertEntry(ctx, &model.Entry{ID: uuid.New(), TournamentID: id, UserID: uuid.New(), AmountCents: 100}); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, &model.ActivityLogEntry{TournamentID: id, Category: model.CategoryEntry, Action: model.ActionEntryAdded, EventTime: epoch}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTournament = %v, want boom", err)
	}

	stats, _ := s.EntryStats(ctx, id)
	if stats.EntryCount != 0 {
		t.Errorf("rolled back entry is visible: %+v", stats)
	}
	page, _ := s.ListActivity(ctx, id, nil, 0, 10)
	if page.Total != 0 {
		t.Errorf("rolled back activity is visible: %d entries", page.Total)
	}
}

func TestSaveClockVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	id := newTestTournament(t, s)

	stale, _ := s.FetchClock(ctx, id)

	err := s.InTournament(ctx, id, func(tx TournamentTx) error {
		c, err := tx.FetchClock(ctx)
		if err != nil {
			return err
		}
		c.AutoAdvance = false
		return tx.SaveClock(ctx, c)
	})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	err = s.InTournament(ctx, id, func(tx TournamentTx) error {
		return tx.SaveClock(ctx, stale)
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("stale save = %v, want ErrConcurrentModification", err)
	}

	c, _ := s.FetchClock(ctx, id)
	if c.Version != 2 || c.AutoAdvance {
		t.Errorf("clock = version %d auto %v, want version 2 auto false", c.Version, c.AutoAdvance)
	}
}

func TestConcurrentEntriesAllLand(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	id := newTestTournament(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTournament(ctx, id, func(tx TournamentTx) error {
				return tx.InsertEntry(ctx, &model.Entry{ID: uuid.New(), TournamentID: id, UserID: uuid.New(), Type: model.InitialEntry, AmountCents: 2500})
			})
			if err != nil {
				t.Errorf("InsertEntry: %v", err)
			}
		}()
	}
	wg.Wait()

	stats, _ := s.EntryStats(ctx, id)
	if stats.EntryCount != 50 || stats.TotalAmountCents != 50*2500 || stats.UniquePlayers != 50 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEntryStatsCountsDistinctPlayers(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	id := newTestTournament(t, s)
	alice := uuid.New()

	err := s.InTournament(ctx, id, func(tx TournamentTx) error {
		for _, e := range []*model.Entry{
			{ID: uuid.New(), UserID: alice, Type: model.InitialEntry, AmountCents: 2500},
			{ID: uuid.New(), UserID: alice, Type: model.Rebuy, AmountCents: 2500},
			{ID: uuid.New(), UserID: uuid.New(), Type: model.InitialEntry, AmountCents: 2500},
		} {
			e.TournamentID = id
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	stats, _ := s.EntryStats(ctx, id)
	want := model.EntryStats{UniquePlayers: 2, EntryCount: 3, TotalAmountCents: 7500}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}
}

func TestDeleteMissingEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	id := newTestTournament(t, s)
	err := s.InTournament(ctx, id, func(tx TournamentTx) error {
		_, err := tx.DeleteEntry(ctx, uuid.New())
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteEntry = %v, want ErrNotFound", err)
	}
}

func TestDueClocks(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	running := newTestTournament(t, s)
	notDue := newTestTournament(t, s)
	manual := newTestTournament(t, s)
	finished := newTestTournament(t, s)
	newTestTournament(t, s) // stopped

	setClock := func(id uuid.UUID, end time.Time, auto bool) {
		t.Helper()
		err := s.InTournament(ctx, id, func(tx TournamentTx) error {
			c, _ := tx.FetchClock(ctx)
			c.Status = model.ClockRunning
			c.LevelEndTime = &end
			c.AutoAdvance = auto
			return tx.SaveClock(ctx, c)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	now := epoch.Add(time.Hour)
	setClock(running, now, true)
	setClock(notDue, now.Add(time.Second), true)
	setClock(manual, now.Add(-time.Minute), false)
	setClock(finished, now.Add(-time.Minute), true)
	err := s.InTournament(ctx, finished, func(tx TournamentTx) error {
		tm := tx.Tournament()
		tm.LiveStatus = model.Finished
		return tx.SaveTournament(ctx, tm)
	})
	if err != nil {
		t.Fatal(err)
	}

	due, err := s.DueClocks(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].TournamentID != running {
		t.Errorf("DueClocks = %+v, want only %v", due, running)
	}
}

func TestListActivityNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	id := newTestTournament(t, s)

	err := s.InTournament(ctx, id, func(tx TournamentTx) error {
		for i := 0; i < 5; i++ {
			cat := model.CategoryClock
			if i%2 == 1 {
				cat = model.CategoryEntry
			}
			err := tx.AppendActivity(ctx, &model.ActivityLogEntry{
				TournamentID: id,
				Category:     cat,
				Action:       "n",
				EventTime:    epoch.Add(time.Duration(i) * time.Minute),
				Metadata:     map[string]any{"i": i},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	page, _ := s.ListActivity(ctx, id, nil, 1, 2)
	if page.Total != 5 || len(page.Entries) != 2 {
		t.Fatalf("page = total %d, %d entries", page.Total, len(page.Entries))
	}
	if page.Entries[0].Metadata["i"] != 3 || page.Entries[1].Metadata["i"] != 2 {
		t.Errorf("page order = %v, %v", page.Entries[0].Metadata, page.Entries[1].Metadata)
	}

	cat := model.CategoryEntry
	page, _ = s.ListActivity(ctx, id, &cat, 0, 10)
	if page.Total != 2 {
		t.Errorf("entry category total = %d, want 2", page.Total)
	}

	page, _ = s.ListActivity(ctx, id, nil, 10, 10)
	if len(page.Entries) != 0 {
		t.Errorf("past the end returned %d entries", len(page.Entries))
	}
}

func TestStaleAndStartingSoon(t *testing.T) {
	ctx := context.Background()
	s := NewMemStorage()
	stale := newTestTournament(t, s)
	fresh := newTestTournament(t, s)
	soon := newTestTournament(t, s)

	setStatus := func(id uuid.UUID, ls model.LiveStatus, at time.Time) {
		t.Helper()
		err := s.InTournament(ctx, id, func(tx TournamentTx) error {
			tm := tx.Tournament()
			tm.LiveStatus = ls
			tm.StatusChangedAt = at
			return tx.SaveTournament(ctx, tm)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	setStatus(stale, model.InProgress, epoch)
	setStatus(fresh, model.InProgress, epoch.Add(23*time.Hour))

	ids, _ := s.StaleTournaments(ctx, epoch.Add(time.Hour))
	if len(ids) != 1 || ids[0] != stale {
		t.Errorf("StaleTournaments = %v, want [%v]", ids, stale)
	}

	start := epoch.Add(10 * time.Minute)
	err := s.InTournament(ctx, soon, func(tx TournamentTx) error {
		tm := tx.Tournament()
		tm.StartTime = &start
		return tx.SaveTournament(ctx, tm)
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.StartingSoon(ctx, epoch, epoch.Add(15*time.Minute))
	if len(got) != 1 || got[0].ID != soon {
		t.Errorf("StartingSoon = %v, want %v", got, soon)
	}
	got, _ = s.StartingSoon(ctx, epoch, epoch.Add(5*time.Minute))
	if len(got) != 0 {
		t.Errorf("StartingSoon outside window returned %d", len(got))
	}
}

func TestUnknownTournament(t *testing.T) {
	s := NewMemStorage()
	err := s.InTournament(context.Background(), uuid.New(), func(TournamentTx) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("InTournament on unknown id = %v, want ErrNotFound", err)
	}
}
