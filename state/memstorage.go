package state

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
)

// MemStorage keeps everything in memory.  It is used by tests and by
// floormand with sql_connector=memory.
//
// Each tournament has its own transaction lock, so transactions on different
// tournaments run in parallel.  A transaction works on copies, which are
// swapped in on commit.
type MemStorage struct {
	lock        sync.RWMutex
	tournaments map[uuid.UUID]*memTournament
	templates   map[uuid.UUID]*paytable.Template
}

type memTournament struct {
	txLock sync.Mutex

	lock     sync.RWMutex
	t        *model.Tournament
	clock    *model.Clock
	levels   model.Structure
	entries  []*model.Entry
	payout   *model.Payout
	regs     map[uuid.UUID]*model.Registration
	activity []*model.ActivityLogEntry
}

var _ Storage = &MemStorage{}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		tournaments: map[uuid.UUID]*memTournament{},
		templates:   map[uuid.UUID]*paytable.Template{},
	}
}

func (s *MemStorage) Close() {}

func (s *MemStorage) get(id uuid.UUID) (*memTournament, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	mt, ok := s.tournaments[id]
	if !ok {
		return nil, fmt.Errorf("tournament %v: %w", id, ErrNotFound)
	}
	return mt, nil
}

func (s *MemStorage) all() []*memTournament {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return slices.Collect(maps.Values(s.tournaments))
}

func (s *MemStorage) CreateTournament(ctx context.Context, t *model.Tournament, levels model.Structure, c *model.Clock, created *model.ActivityLogEntry) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.tournaments[t.ID]; ok {
		return fmt.Errorf("tournament %v already exists", t.ID)
	}
	mt := &memTournament{
		t:      t.Clone(),
		clock:  c.Clone(),
		levels: levels.Clone(),
		regs:   map[uuid.UUID]*model.Registration{},
	}
	if created != nil {
		e := *created
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		mt.activity = append(mt.activity, &e)
	}
	s.tournaments[t.ID] = mt
	return nil
}

func (s *MemStorage) FetchTournament(ctx context.Context, id uuid.UUID) (*model.Tournament, error) {
	mt, err := s.get(id)
	if err != nil {
		return nil, err
	}
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.t.Clone(), nil
}

func (s *MemStorage) FetchClock(ctx context.Context, id uuid.UUID) (*model.Clock, error) {
	mt, err := s.get(id)
	if err != nil {
		return nil, err
	}
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.clock.Clone(), nil
}

func (s *MemStorage) FetchStructure(ctx context.Context, id uuid.UUID) (model.Structure, error) {
	mt, err := s.get(id)
	if err != nil {
		return nil, err
	}
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.levels.Clone(), nil
}

func (s *MemStorage) FetchPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	mt, err := s.get(id)
	if err != nil {
		return nil, err
	}
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	if mt.payout == nil {
		return nil, fmt.Errorf("payout for tournament %v: %w", id, ErrNotFound)
	}
	return mt.payout.Clone(), nil
}

func (s *MemStorage) EntryStats(ctx context.Context, id uuid.UUID) (*model.EntryStats, error) {
	mt, err := s.get(id)
	if err != nil {
		return nil, err
	}
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return tallyEntries(mt.entries), nil
}

func tallyEntries(entries []*model.Entry) *model.EntryStats {
	users := map[uuid.UUID]bool{}
	stats := &model.EntryStats{}
	for _, e := range entries {
		users[e.UserID] = true
		stats.EntryCount++
		stats.TotalAmountCents += e.AmountCents
	}
	stats.UniquePlayers = len(users)
	return stats
}

func (s *MemStorage) ListActivity(ctx context.Context, id uuid.UUID, category *model.ActivityCategory, offset, limit int) (*model.ActivityPage, error) {
	mt, err := s.get(id)
	if err != nil {
		return nil, err
	}
	mt.lock.RLock()
	matching := []*model.ActivityLogEntry{}
	// Newest first; the log is in insertion order.
	for i := len(mt.activity) - 1; i >= 0; i-- {
		e := mt.activity[i]
		if category != nil && e.Category != *category {
			continue
		}
		matching = append(matching, e)
	}
	mt.lock.RUnlock()

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].EventTime.After(matching[j].EventTime)
	})

	page := &model.ActivityPage{Total: len(matching), Offset: offset, Limit: limit, Entries: []*model.ActivityLogEntry{}}
	if offset >= len(matching) {
		return page, nil
	}
	end := min(offset+limit, len(matching))
	for _, e := range matching[offset:end] {
		c := *e
		c.Metadata = maps.Clone(e.Metadata)
		page.Entries = append(page.Entries, &c)
	}
	return page, nil
}

func (s *MemStorage) DueClocks(ctx context.Context, now time.Time) ([]DueClock, error) {
	due := []DueClock{}
	for _, mt := range s.all() {
		mt.lock.RLock()
		c := mt.clock
		if c.Status == model.ClockRunning && c.AutoAdvance && c.LevelEndTime != nil &&
			!c.LevelEndTime.After(now) && mt.t.LiveStatus != model.Finished {
			due = append(due, DueClock{
				TournamentID: c.TournamentID,
				CurrentLevel: c.CurrentLevel,
				LevelEndTime: *c.LevelEndTime,
			})
		}
		mt.lock.RUnlock()
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].LevelEndTime.Before(due[j].LevelEndTime)
	})
	return due, nil
}

func (s *MemStorage) StaleTournaments(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	for _, mt := range s.all() {
		mt.lock.RLock()
		if mt.t.LiveStatus == model.InProgress && !mt.t.StatusChangedAt.After(before) {
			ids = append(ids, mt.t.ID)
		}
		mt.lock.RUnlock()
	}
	return ids, nil
}

func (s *MemStorage) StartingSoon(ctx context.Context, from, to time.Time) ([]*model.Tournament, error) {
	out := []*model.Tournament{}
	for _, mt := range s.all() {
		mt.lock.RLock()
		t := mt.t
		if (t.LiveStatus == model.NotStarted || t.LiveStatus == model.RegistrationOpen) &&
			!t.StartingSoonSent && t.StartTime != nil &&
			!t.StartTime.Before(from) && !t.StartTime.After(to) {
			out = append(out, t.Clone())
		}
		mt.lock.RUnlock()
	}
	return out, nil
}

func (s *MemStorage) FetchPayoutTemplates(ctx context.Context) ([]*paytable.Template, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]*paytable.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinPlayers != out[j].MinPlayers {
			return out[i].MinPlayers < out[j].MinPlayers
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// CreatePayoutTemplate replaces any template with the same id.
func (s *MemStorage) CreatePayoutTemplate(ctx context.Context, t *paytable.Template) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.templates[t.ID] = t.Clone()
	return nil
}

func (s *MemStorage) DeletePayoutTemplate(ctx context.Context, id uuid.UUID) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("payout template %v: %w", id, ErrNotFound)
	}
	delete(s.templates, id)
	return nil
}

func (s *MemStorage) InTournament(ctx context.Context, id uuid.UUID, fn func(TournamentTx) error) error {
	mt, err := s.get(id)
	if err != nil {
		return err
	}
	mt.txLock.Lock()
	defer mt.txLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	mt.lock.RLock()
	tx := &memTx{
		t:       mt.t.Clone(),
		clock:   mt.clock.Clone(),
		levels:  mt.levels,
		entries: slices.Clone(mt.entries),
		regs:    maps.Clone(mt.regs),
	}
	if mt.payout != nil {
		tx.payout = mt.payout.Clone()
	}
	mt.lock.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	mt.lock.Lock()
	defer mt.lock.Unlock()
	mt.t = tx.t
	mt.clock = tx.clock
	mt.levels = tx.levels
	mt.entries = tx.entries
	mt.payout = tx.payout
	mt.regs = tx.regs
	mt.activity = append(mt.activity, tx.activity...)
	return nil
}

type memTx struct {
	t        *model.Tournament
	clock    *model.Clock
	levels   model.Structure
	entries  []*model.Entry
	payout   *model.Payout
	regs     map[uuid.UUID]*model.Registration
	activity []*model.ActivityLogEntry
}

func (tx *memTx) Tournament() *model.Tournament {
	return tx.t.Clone()
}

func (tx *memTx) SaveTournament(ctx context.Context, t *model.Tournament) error {
	if t.ID != tx.t.ID {
		return fmt.Errorf("can't save tournament %v in a transaction on %v", t.ID, tx.t.ID)
	}
	if t.Version != tx.t.Version {
		return fmt.Errorf("tournament %v version %d, have %d: %w", t.ID, t.Version, tx.t.Version, ErrConcurrentModification)
	}
	t.Version++
	tx.t = t.Clone()
	return nil
}

func (tx *memTx) FetchClock(ctx context.Context) (*model.Clock, error) {
	return tx.clock.Clone(), nil
}

func (tx *memTx) SaveClock(ctx context.Context, c *model.Clock) error {
	if c.Version != tx.clock.Version {
		return fmt.Errorf("clock %v version %d, have %d: %w", c.TournamentID, c.Version, tx.clock.Version, ErrConcurrentModification)
	}
	c.Version++
	tx.clock = c.Clone()
	return nil
}

func (tx *memTx) FetchStructure(ctx context.Context) (model.Structure, error) {
	return tx.levels.Clone(), nil
}

func (tx *memTx) ReplaceStructure(ctx context.Context, levels model.Structure) error {
	tx.levels = levels.Clone()
	return nil
}

func (tx *memTx) InsertEntry(ctx context.Context, e *model.Entry) error {
	for _, have := range tx.entries {
		if have.ID == e.ID {
			return fmt.Errorf("entry %v already exists", e.ID)
		}
	}
	c := *e
	tx.entries = append(tx.entries, &c)
	return nil
}

func (tx *memTx) DeleteEntry(ctx context.Context, entryID uuid.UUID) (*model.Entry, error) {
	for i, e := range tx.entries {
		if e.ID == entryID {
			tx.entries = slices.Delete(tx.entries, i, i+1)
			return e, nil
		}
	}
	return nil, fmt.Errorf("entry %v: %w", entryID, ErrNotFound)
}

func (tx *memTx) EntryStats(ctx context.Context) (*model.EntryStats, error) {
	return tallyEntries(tx.entries), nil
}

func (tx *memTx) FetchPayout(ctx context.Context) (*model.Payout, error) {
	if tx.payout == nil {
		return nil, fmt.Errorf("payout for tournament %v: %w", tx.t.ID, ErrNotFound)
	}
	return tx.payout.Clone(), nil
}

func (tx *memTx) UpsertPayout(ctx context.Context, p *model.Payout) error {
	tx.payout = p.Clone()
	return nil
}

func (tx *memTx) FetchRegistration(ctx context.Context, userID uuid.UUID) (*model.Registration, error) {
	r, ok := tx.regs[userID]
	if !ok {
		return nil, fmt.Errorf("registration for %v: %w", userID, ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (tx *memTx) UpsertRegistration(ctx context.Context, r *model.Registration) error {
	c := *r
	tx.regs[r.UserID] = &c
	return nil
}

func (tx *memTx) AppendActivity(ctx context.Context, e *model.ActivityLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	tx.activity = append(tx.activity, &c)
	return nil
}
