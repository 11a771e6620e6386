package tournament

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/builtins"
	"github.com/ts4z/floorman/dep"
	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/prizepool"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/varz"
)

var (
	retries       = varz.NewInt("retries")
	autoAdvances  = varz.NewInt("autoAdvances")
	autoFinished  = varz.NewInt("autoFinished")
	staleFinished = varz.NewInt("staleFinished")
)

// StructureFetcher reads a tournament's blind structure.  A structure only
// changes before its clock first starts, so this can be a cache.  If it has
// an Invalidate(uuid.UUID) method, the Manager calls it when a structure
// changes.
type StructureFetcher interface {
	FetchStructure(ctx context.Context, id uuid.UUID) (model.Structure, error)
}

type structureInvalidator interface {
	Invalidate(id uuid.UUID)
}

func (m *Manager) invalidateStructure(id uuid.UUID) {
	if inv, ok := m.structures.(structureInvalidator); ok {
		inv.Invalidate(id)
	}
}

type Config struct {
	Storage    state.Storage
	Structures StructureFetcher
	Aggregator *prizepool.Aggregator
	Publisher  gossip.Publisher
	Clock      Clock
}

// Manager runs every operation that changes a tournament.  Each one is a
// single transaction holding the tournament's lock; events go out after
// commit.
type Manager struct {
	storage    state.Storage
	structures StructureFetcher
	aggregator *prizepool.Aggregator
	publisher  gossip.Publisher
	mutator    *Mutator
}

func NewManager(config *Config) *Manager {
	return &Manager{
		storage:    dep.Required(config.Storage),
		structures: dep.Required(config.Structures),
		aggregator: dep.Required(config.Aggregator),
		publisher:  dep.Required(config.Publisher),
		mutator:    NewMutator(dep.Required(config.Clock)),
	}
}

type actorKey struct{}

// WithActor records who is making a change, for the activity log.
func WithActor(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}

func actorFrom(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(actorKey{}).(uuid.UUID); ok {
		return &id
	}
	return nil
}

// outbox collects what to publish once the transaction commits.
type outbox struct {
	t      *model.Tournament
	events []*gossip.Event
}

func (ob *outbox) add(typ string, at time.Time, payload any, extra ...gossip.Topic) {
	topics := append([]gossip.Topic{gossip.TournamentTopic(ob.t.ID), gossip.ClubTopic(ob.t.ClubID)}, extra...)
	ev, err := gossip.NewEvent(typ, ob.t.ID, at, payload, topics...)
	if err != nil {
		log.Error().Err(err).Stringer("tournament_id", ob.t.ID).Msg("dropping event")
		return
	}
	ob.events = append(ob.events, ev)
}

// inTournament runs fn under the tournament's lock, retrying once if it
// loses a race, and publishes what fn queued if it commits.
func (m *Manager) inTournament(ctx context.Context, id uuid.UUID, fn func(tx state.TournamentTx, ob *outbox) error) error {
	var ob *outbox
	attempt := func() error {
		return m.storage.InTournament(ctx, id, func(tx state.TournamentTx) error {
			ob = &outbox{t: tx.Tournament()}
			return fn(tx, ob)
		})
	}
	err := attempt()
	if errors.Is(err, state.ErrConcurrentModification) {
		retries.Add(1)
		log.Info().Err(err).Stringer("tournament_id", id).Msg("retrying after concurrent modification")
		err = attempt()
	}
	if err != nil {
		return err
	}
	m.flush(ctx, ob)
	return nil
}

func (m *Manager) flush(ctx context.Context, ob *outbox) {
	for _, ev := range ob.events {
		if err := m.publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Stringer("tournament_id", ob.t.ID).Str("type", ev.Type).Msg("event not fully published")
		}
	}
}

// record appends an activity entry and queues it for subscribers.
func (m *Manager) record(ctx context.Context, tx state.TournamentTx, ob *outbox, e *model.ActivityLogEntry, extra ...gossip.Topic) error {
	e.TournamentID = ob.t.ID
	if e.EventTime.IsZero() {
		e.EventTime = m.mutator.Now()
	}
	if e.ActorID == nil {
		e.ActorID = actorFrom(ctx)
	}
	if err := tx.AppendActivity(ctx, e); err != nil {
		return err
	}
	ob.add(gossip.EventActivity, e.EventTime, e, extra...)
	return nil
}

func (m *Manager) recordClock(ctx context.Context, tx state.TournamentTx, ob *outbox, action string, c *model.Clock, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["level_number"] = c.CurrentLevel
	return m.record(ctx, tx, ob, &model.ActivityLogEntry{
		Category:  model.CategoryClock,
		Action:    action,
		EventTime: c.UpdatedAt,
		Metadata:  metadata,
	})
}

func (m *Manager) recalculate(ctx context.Context, tx state.TournamentTx, ob *outbox) (*prizepool.Result, error) {
	res, err := m.aggregator.Recalculate(ctx, tx, actorFrom(ctx))
	if err != nil {
		return nil, fmt.Errorf("recalculating payout: %w", err)
	}
	if res.Changed {
		ob.add(gossip.EventPayout, res.Payout.UpdatedAt, res.Payout)
	}
	return res, nil
}

func (m *Manager) GetTournament(ctx context.Context, id uuid.UUID) (*model.Tournament, error) {
	return m.storage.FetchTournament(ctx, id)
}

func (m *Manager) GetClock(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	c, err := m.storage.FetchClock(ctx, id)
	if err != nil {
		return nil, err
	}
	s, err := m.structures.FetchStructure(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.mutator.State(c, s), nil
}

func (m *Manager) GetPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	return m.storage.FetchPayout(ctx, id)
}

func (m *Manager) GetEntryStats(ctx context.Context, id uuid.UUID) (*model.EntryStats, error) {
	return m.storage.EntryStats(ctx, id)
}

func (m *Manager) ListActivity(ctx context.Context, id uuid.UUID, category *model.ActivityCategory, offset, limit int) (*model.ActivityPage, error) {
	if offset < 0 || limit < 1 {
		return nil, fmt.Errorf("%w: offset %d limit %d", ErrInvalidArgument, offset, limit)
	}
	if _, err := m.storage.FetchTournament(ctx, id); err != nil {
		return nil, err
	}
	return m.storage.ListActivity(ctx, id, category, offset, limit)
}

// NewTournament is a request to create a tournament.  Give either Levels or
// the name of a built-in structure.
type NewTournament struct {
	ClubID        uuid.UUID           `json:"club_id"`
	Name          string              `json:"name"`
	BuyInCents    int64               `json:"buy_in_cents"`
	SeatCap       *int                `json:"seat_cap,omitempty"`
	StartTime     *time.Time          `json:"start_time,omitempty"`
	Levels        []*model.BlindLevel `json:"levels,omitempty"`
	StructureName string              `json:"structure,omitempty"`
	AutoAdvance   *bool               `json:"auto_advance,omitempty"`
}

// resolveLevels returns a validated copy of levels, or the built-in
// structure called name.
func resolveLevels(levels []*model.BlindLevel, name string) (model.Structure, error) {
	var s model.Structure
	switch {
	case len(levels) > 0 && name != "":
		return nil, fmt.Errorf("%w: give levels or a structure name, not both", ErrInvalidArgument)
	case len(levels) > 0:
		s = model.Structure(levels).Clone()
	case name != "":
		b, err := builtins.Structure(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		s = b
	default:
		return nil, fmt.Errorf("%w: tournament needs levels", ErrInvalidArgument)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return s, nil
}

// CreateTournament stores a new tournament, its levels and its stopped clock.
func (m *Manager) CreateTournament(ctx context.Context, req *NewTournament) (*model.Tournament, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: tournament needs a name", ErrInvalidArgument)
	}
	if req.BuyInCents < 0 {
		return nil, fmt.Errorf("%w: negative buy-in", ErrInvalidArgument)
	}
	if req.SeatCap != nil && *req.SeatCap < 1 {
		return nil, fmt.Errorf("%w: seat cap %d", ErrInvalidArgument, *req.SeatCap)
	}

	levels, err := resolveLevels(req.Levels, req.StructureName)
	if err != nil {
		return nil, err
	}

	now := m.mutator.Now()
	t := &model.Tournament{
		ID:              uuid.New(),
		ClubID:          req.ClubID,
		Name:            strings.TrimSpace(req.Name),
		BuyInCents:      req.BuyInCents,
		SeatCap:         req.SeatCap,
		LiveStatus:      model.NotStarted,
		StatusChangedAt: now,
		StartTime:       req.StartTime,
		Version:         1,
		CreatedAt:       now,
	}
	c := model.NewClock(t.ID, now)
	if req.AutoAdvance != nil {
		c.AutoAdvance = *req.AutoAdvance
	}
	created := &model.ActivityLogEntry{
		TournamentID: t.ID,
		Category:     model.CategoryTournament,
		Action:       model.ActionTournamentCreated,
		ActorID:      actorFrom(ctx),
		EventTime:    now,
		Metadata:     map[string]any{"name": t.Name, "levels": len(levels)},
	}
	if err := m.storage.CreateTournament(ctx, t, levels, c, created); err != nil {
		return nil, err
	}
	log.Info().Stringer("tournament_id", t.ID).Str("name", t.Name).Int("levels", len(levels)).Msg("tournament created")

	ob := &outbox{t: t}
	ob.add(gossip.EventStatus, now, t)
	m.flush(ctx, ob)
	return t, nil
}

// NewStructure replaces a tournament's levels.  Like NewTournament, give
// either Levels or the name of a built-in structure.
type NewStructure struct {
	Levels        []*model.BlindLevel `json:"levels,omitempty"`
	StructureName string              `json:"structure,omitempty"`
}

// ReplaceStructure swaps in new levels.  That's only allowed while the
// tournament is not_started and its clock is stopped at level 1.
func (m *Manager) ReplaceStructure(ctx context.Context, id uuid.UUID, req *NewStructure) (*model.ClockState, error) {
	levels, err := resolveLevels(req.Levels, req.StructureName)
	if err != nil {
		return nil, err
	}
	var st *model.ClockState
	err = m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		if ob.t.LiveStatus != model.NotStarted {
			return invalidState("can't replace the structure of a %s tournament", ob.t.LiveStatus)
		}
		c, err := tx.FetchClock(ctx)
		if err != nil {
			return err
		}
		if c.Status != model.ClockStopped || c.CurrentLevel != 1 {
			return invalidState("can't replace the structure under a %s clock at level %d", c.Status, c.CurrentLevel)
		}
		old, err := tx.FetchStructure(ctx)
		if err != nil {
			return err
		}
		if err := tx.ReplaceStructure(ctx, levels); err != nil {
			return err
		}
		now := m.mutator.Now()
		err = m.record(ctx, tx, ob, &model.ActivityLogEntry{
			Category:  model.CategoryTournament,
			Action:    model.ActionStructureReplaced,
			EventTime: now,
			Metadata:  map[string]any{"from_levels": len(old), "to_levels": len(levels)},
		})
		if err != nil {
			return err
		}
		st = m.mutator.State(c, levels)
		ob.add(gossip.EventClock, now, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.invalidateStructure(id)
	log.Info().Stringer("tournament_id", id).Int("levels", len(levels)).Msg("structure replaced")
	return st, nil
}

type clockFunc func(c *model.Clock, s model.Structure) error

// applyClock is the common path for operator clock changes.
func (m *Manager) applyClock(ctx context.Context, id uuid.UUID, action string, op clockFunc) (*model.ClockState, error) {
	s, err := m.structures.FetchStructure(ctx, id)
	if err != nil {
		return nil, err
	}
	var st *model.ClockState
	starting := false
	err = m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		if ob.t.LiveStatus == model.Finished {
			return invalidState("tournament is finished")
		}
		c, err := tx.FetchClock(ctx)
		if err != nil {
			return err
		}
		// A stopped clock's structure may have been replaced since it was
		// cached.
		starting = c.Status == model.ClockStopped
		if starting {
			if s, err = tx.FetchStructure(ctx); err != nil {
				return err
			}
		}
		from := c.CurrentLevel
		err = op(c, s)
		if errors.Is(err, ErrStructureExhausted) {
			if err := m.completeFinalLevel(ctx, tx, ob, c, s); err != nil {
				return err
			}
			st = m.mutator.State(c, s)
			return nil
		} else if err != nil {
			return err
		}
		if err := tx.SaveClock(ctx, c); err != nil {
			return err
		}
		var metadata map[string]any
		if from != c.CurrentLevel {
			metadata = map[string]any{"from_level": from}
		}
		if err := m.recordClock(ctx, tx, ob, action, c, metadata); err != nil {
			return err
		}
		st = m.mutator.State(c, s)
		ob.add(gossip.EventClock, c.UpdatedAt, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if starting {
		m.invalidateStructure(id)
	}
	log.Info().Stringer("tournament_id", id).Str("action", action).Int("level", st.CurrentLevel).Msg("clock changed")
	return st, nil
}

// completeFinalLevel handles an advance off the end of the structure: the
// clock (already stopped by the Mutator) is saved, the tournament finishes,
// and exactly one activity entry says why.
func (m *Manager) completeFinalLevel(ctx context.Context, tx state.TournamentTx, ob *outbox, c *model.Clock, s model.Structure) error {
	if err := tx.SaveClock(ctx, c); err != nil {
		return err
	}
	t := tx.Tournament()
	if t.LiveStatus != model.Finished {
		t.LiveStatus = model.Finished
		t.StatusChangedAt = c.UpdatedAt
		if err := tx.SaveTournament(ctx, t); err != nil {
			return err
		}
	}
	err := m.recordClock(ctx, tx, ob, model.ActionFinalLevelComplete, c, map[string]any{
		"reason": model.ReasonNoMoreLevels,
	})
	if err != nil {
		return err
	}
	autoFinished.Add(1)
	log.Info().Stringer("tournament_id", t.ID).Int("level", c.CurrentLevel).Msg("final level complete, tournament finished")
	ob.add(gossip.EventClock, c.UpdatedAt, m.mutator.State(c, s))
	ob.add(gossip.EventStatus, c.UpdatedAt, t)
	return nil
}

func (m *Manager) StartClock(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	return m.applyClock(ctx, id, model.ActionStart, m.mutator.Start)
}

func (m *Manager) PauseClock(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	return m.applyClock(ctx, id, model.ActionPause, func(c *model.Clock, _ model.Structure) error {
		return m.mutator.Pause(c)
	})
}

func (m *Manager) ResumeClock(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	return m.applyClock(ctx, id, model.ActionResume, m.mutator.Resume)
}

// AdvanceLevel is a manual advance.  Advancing off the last level finishes
// the tournament and is not an error.
func (m *Manager) AdvanceLevel(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	return m.applyClock(ctx, id, model.ActionManualAdvance, m.mutator.Advance)
}

func (m *Manager) RevertLevel(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	return m.applyClock(ctx, id, model.ActionManualRevert, m.mutator.Revert)
}

func (m *Manager) StopClock(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	return m.applyClock(ctx, id, model.ActionStop, func(c *model.Clock, _ model.Structure) error {
		return m.mutator.Stop(c)
	})
}

// DueClocks lists clocks whose level has run out.
func (m *Manager) DueClocks(ctx context.Context) ([]state.DueClock, error) {
	return m.storage.DueClocks(ctx, m.mutator.Now())
}

// AdvanceIfDue is the scheduler's advance.  Under the lock it checks again
// that the clock is running, auto-advancing, still on observedLevel and past
// its end time; if anything changed since the due query, it does nothing.
// It reports whether it advanced.
func (m *Manager) AdvanceIfDue(ctx context.Context, id uuid.UUID, observedLevel int) (bool, error) {
	s, err := m.structures.FetchStructure(ctx, id)
	if err != nil {
		return false, err
	}
	advanced := false
	err = m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		advanced = false
		if ob.t.LiveStatus == model.Finished {
			return nil
		}
		c, err := tx.FetchClock(ctx)
		if err != nil {
			return err
		}
		if c.CurrentLevel != observedLevel || !IsDue(c, m.mutator.Now()) {
			return nil
		}
		from := c.CurrentLevel
		err = m.mutator.Advance(c, s)
		if errors.Is(err, ErrStructureExhausted) {
			advanced = true
			return m.completeFinalLevel(ctx, tx, ob, c, s)
		} else if err != nil {
			return err
		}
		if err := tx.SaveClock(ctx, c); err != nil {
			return err
		}
		if err := m.recordClock(ctx, tx, ob, model.ActionLevelAdvance, c, map[string]any{"from_level": from}); err != nil {
			return err
		}
		ob.add(gossip.EventClock, c.UpdatedAt, m.mutator.State(c, s))
		advanced = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if advanced {
		autoAdvances.Add(1)
		log.Debug().Stringer("tournament_id", id).Int("from_level", observedLevel).Msg("clock advanced")
	}
	return advanced, nil
}

// SetLiveStatus moves the tournament through its lifecycle.  Finished is
// terminal.  Finishing stops the clock; entering play from an inactive state
// recomputes the payout.
func (m *Manager) SetLiveStatus(ctx context.Context, id uuid.UUID, to model.LiveStatus) (*model.Tournament, error) {
	if _, err := model.ParseLiveStatus(string(to)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	var out *model.Tournament
	err := m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		t := tx.Tournament()
		from := t.LiveStatus
		if from == model.Finished {
			return invalidState("tournament is finished")
		}
		if from == to {
			out = t
			return nil
		}
		now := m.mutator.Now()
		t.LiveStatus = to
		t.StatusChangedAt = now
		if err := tx.SaveTournament(ctx, t); err != nil {
			return err
		}
		err := m.record(ctx, tx, ob, &model.ActivityLogEntry{
			Category:  model.CategoryTournament,
			Action:    model.ActionStatusChanged,
			EventTime: now,
			Metadata:  map[string]any{"from": string(from), "to": string(to)},
		})
		if err != nil {
			return err
		}

		if to == model.Finished {
			if err := m.stopForFinish(ctx, tx, ob, "tournament finished"); err != nil {
				return err
			}
		}
		// Every move into play recalculates, not just the first; a payout
		// that already matches the ledger is left alone.
		if !from.IsActive() && to.IsActive() {
			if _, err := m.recalculate(ctx, tx, ob); err != nil {
				return err
			}
		}
		ob.add(gossip.EventStatus, now, t)
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// stopForFinish stops a clock that isn't already stopped.
func (m *Manager) stopForFinish(ctx context.Context, tx state.TournamentTx, ob *outbox, reason string) error {
	c, err := tx.FetchClock(ctx)
	if err != nil {
		return err
	}
	if c.Status == model.ClockStopped {
		return nil
	}
	s, err := tx.FetchStructure(ctx)
	if err != nil {
		return err
	}
	if err := m.mutator.Stop(c); err != nil {
		return err
	}
	if err := tx.SaveClock(ctx, c); err != nil {
		return err
	}
	ob.add(gossip.EventClock, c.UpdatedAt, m.mutator.State(c, s))
	return m.recordClock(ctx, tx, ob, model.ActionStop, c, map[string]any{"reason": reason})
}

// FinishStale force-finishes tournaments that have been in_progress for
// longer than threshold, and returns how many it finished.  A failure on one
// tournament is logged and doesn't stop the rest.
func (m *Manager) FinishStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := m.mutator.Now().Add(-threshold)
	ids, err := m.storage.StaleTournaments(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		finished, err := m.finishStale(ctx, id, cutoff, threshold)
		if err != nil {
			log.Warn().Err(err).Stringer("tournament_id", id).Msg("can't finish stale tournament")
			continue
		}
		if finished {
			n++
		}
	}
	return n, nil
}

func (m *Manager) finishStale(ctx context.Context, id uuid.UUID, cutoff time.Time, threshold time.Duration) (bool, error) {
	finished := false
	err := m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		finished = false
		t := tx.Tournament()
		if t.LiveStatus != model.InProgress || t.StatusChangedAt.After(cutoff) {
			return nil
		}
		now := m.mutator.Now()
		since := t.StatusChangedAt
		t.LiveStatus = model.Finished
		t.StatusChangedAt = now
		if err := tx.SaveTournament(ctx, t); err != nil {
			return err
		}

		c, err := tx.FetchClock(ctx)
		if err != nil {
			return err
		}
		clockWas := c.Status
		if c.Status != model.ClockStopped {
			s, err := tx.FetchStructure(ctx)
			if err != nil {
				return err
			}
			if err := m.mutator.Stop(c); err != nil {
				return err
			}
			if err := tx.SaveClock(ctx, c); err != nil {
				return err
			}
			ob.add(gossip.EventClock, now, m.mutator.State(c, s))
		}

		err = m.record(ctx, tx, ob, &model.ActivityLogEntry{
			Category:  model.CategoryTournament,
			Action:    model.ActionAutoFinishedStale,
			EventTime: now,
			Metadata: map[string]any{
				"in_progress_since": since.Format(time.RFC3339),
				"threshold_hours":   threshold.Hours(),
				"clock_status":      string(clockWas),
				"level_number":      c.CurrentLevel,
			},
		})
		if err != nil {
			return err
		}
		ob.add(gossip.EventStatus, now, t)
		finished = true
		return nil
	})
	if finished {
		staleFinished.Add(1)
		log.Warn().Stringer("tournament_id", id).Dur("threshold", threshold).Msg("finished stale tournament")
	}
	return finished, err
}

type startingSoon struct {
	TournamentID uuid.UUID `json:"tournament_id"`
	Name         string    `json:"name"`
	StartTime    time.Time `json:"start_time"`
	MinutesUntil int       `json:"minutes_until"`
}

// NotifyStartingSoon sends one notice for each tournament starting within
// window that hasn't had one.
func (m *Manager) NotifyStartingSoon(ctx context.Context, window time.Duration) (int, error) {
	now := m.mutator.Now()
	soon, err := m.storage.StartingSoon(ctx, now, now.Add(window))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, candidate := range soon {
		sent := false
		err := m.inTournament(ctx, candidate.ID, func(tx state.TournamentTx, ob *outbox) error {
			sent = false
			t := tx.Tournament()
			if t.StartingSoonSent || t.StartTime == nil ||
				(t.LiveStatus != model.NotStarted && t.LiveStatus != model.RegistrationOpen) {
				return nil
			}
			t.StartingSoonSent = true
			if err := tx.SaveTournament(ctx, t); err != nil {
				return err
			}
			ob.add(gossip.EventStartingSoon, now, &startingSoon{
				TournamentID: t.ID,
				Name:         t.Name,
				StartTime:    *t.StartTime,
				MinutesUntil: int(t.StartTime.Sub(now).Round(time.Minute).Minutes()),
			})
			sent = true
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Stringer("tournament_id", candidate.ID).Msg("can't send starting-soon notice")
			continue
		}
		if sent {
			n++
		}
	}
	return n, nil
}

// RecordEntry adds money to the ledger and brings the payout up to date in
// the same transaction.  An amount of zero means the buy-in.
func (m *Manager) RecordEntry(ctx context.Context, id, userID uuid.UUID, typ model.EntryType, amountCents int64) (*model.Entry, *model.Payout, error) {
	if _, err := model.ParseEntryType(string(typ)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if amountCents < 0 {
		return nil, nil, fmt.Errorf("%w: negative amount", ErrInvalidArgument)
	}
	if userID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: entry needs a player", ErrInvalidArgument)
	}
	var entry *model.Entry
	var payout *model.Payout
	err := m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		t := tx.Tournament()
		if t.LiveStatus == model.Finished {
			return invalidState("tournament is finished")
		}
		amount := amountCents
		if amount == 0 {
			amount = t.BuyInCents
		}
		if amount <= 0 {
			return fmt.Errorf("%w: no amount and the tournament has no buy-in", ErrInvalidArgument)
		}
		entry = &model.Entry{
			ID:           uuid.New(),
			TournamentID: t.ID,
			UserID:       userID,
			Type:         typ,
			AmountCents:  amount,
			CreatedAt:    m.mutator.Now(),
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		return m.afterLedgerChange(ctx, tx, ob, model.ActionEntryAdded, entry, &payout)
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, payout, nil
}

func (m *Manager) DeleteEntry(ctx context.Context, id, entryID uuid.UUID) (*model.Payout, error) {
	var payout *model.Payout
	err := m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		if ob.t.LiveStatus == model.Finished {
			return invalidState("tournament is finished")
		}
		entry, err := tx.DeleteEntry(ctx, entryID)
		if err != nil {
			return err
		}
		return m.afterLedgerChange(ctx, tx, ob, model.ActionEntryRemoved, entry, &payout)
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (m *Manager) afterLedgerChange(ctx context.Context, tx state.TournamentTx, ob *outbox, action string, e *model.Entry, payout **model.Payout) error {
	subject := e.UserID
	err := m.record(ctx, tx, ob, &model.ActivityLogEntry{
		Category:  model.CategoryEntry,
		Action:    action,
		SubjectID: &subject,
		Metadata: map[string]any{
			"entry_id":     e.ID.String(),
			"entry_type":   string(e.Type),
			"amount_cents": e.AmountCents,
		},
	}, gossip.UserTopic(e.UserID))
	if err != nil {
		return err
	}
	res, err := m.recalculate(ctx, tx, ob)
	if err != nil {
		return err
	}
	*payout = res.Payout
	stats, err := tx.EntryStats(ctx)
	if err != nil {
		return err
	}
	ob.add(gossip.EventEntryStats, m.mutator.Now(), stats)
	return nil
}

// RecalculatePayout is the manual recompute.  It goes through the same path
// as entry changes.
func (m *Manager) RecalculatePayout(ctx context.Context, id uuid.UUID) (*prizepool.Result, error) {
	var res *prizepool.Result
	err := m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		var err error
		res, err = m.recalculate(ctx, tx, ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Register signs a player up.  Registrations are for seating and
// check-in; they don't affect the payout.
func (m *Manager) Register(ctx context.Context, id, userID uuid.UUID) (*model.Registration, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: registration needs a player", ErrInvalidArgument)
	}
	var reg *model.Registration
	err := m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		if ob.t.LiveStatus == model.Finished {
			return invalidState("tournament is finished")
		}
		now := m.mutator.Now()
		existing, err := tx.FetchRegistration(ctx, userID)
		switch {
		case errors.Is(err, state.ErrNotFound):
			reg = &model.Registration{TournamentID: id, UserID: userID, RegisteredAt: now}
		case err != nil:
			return err
		case existing.Status != model.Cancelled:
			return invalidState("player is already %s", existing.Status)
		default:
			reg = existing
		}
		reg.Status = model.Registered
		reg.UpdatedAt = now
		if err := tx.UpsertRegistration(ctx, reg); err != nil {
			return err
		}
		subject := userID
		err = m.record(ctx, tx, ob, &model.ActivityLogEntry{
			Category:  model.CategoryRegistration,
			Action:    model.ActionPlayerRegistered,
			SubjectID: &subject,
			EventTime: now,
		}, gossip.UserTopic(userID))
		if err != nil {
			return err
		}
		ob.add(gossip.EventRegistration, now, reg, gossip.UserTopic(userID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (m *Manager) SetRegistrationStatus(ctx context.Context, id, userID uuid.UUID, to model.RegistrationStatus) (*model.Registration, error) {
	if _, err := model.ParseRegistrationStatus(string(to)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	var reg *model.Registration
	err := m.inTournament(ctx, id, func(tx state.TournamentTx, ob *outbox) error {
		var err error
		reg, err = tx.FetchRegistration(ctx, userID)
		if err != nil {
			return err
		}
		from := reg.Status
		if from == to {
			return nil
		}
		now := m.mutator.Now()
		reg.Status = to
		reg.UpdatedAt = now
		if err := tx.UpsertRegistration(ctx, reg); err != nil {
			return err
		}
		subject := userID
		err = m.record(ctx, tx, ob, &model.ActivityLogEntry{
			Category:  model.CategoryRegistration,
			Action:    model.ActionRegistrationStatus,
			SubjectID: &subject,
			EventTime: now,
			Metadata:  map[string]any{"from": string(from), "to": string(to)},
		}, gossip.UserTopic(userID))
		if err != nil {
			return err
		}
		ob.add(gossip.EventRegistration, now, reg, gossip.UserTopic(userID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}
