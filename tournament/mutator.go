// package tournament provides the tournament clock and the operations that
// keep a tournament's derived state consistent.
//
// The Mutator is the clock state machine.  It works only on the values
// handed to it and never touches storage; the Manager fetches, locks, calls
// the Mutator, records what happened and commits.
//
// Time is represented two ways.  A running clock knows when its level ends.
// A paused clock knows how much time was left, since we don't know when it
// will resume.  The other one is always nil.

package tournament

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/model"
)

var (
	// ErrInvalidState means the operation doesn't apply in the current
	// clock or lifecycle state.  Retrying won't help.
	ErrInvalidState = errors.New("invalid state")
	// ErrStructureExhausted means there is no level after the current one.
	ErrStructureExhausted = errors.New("no more levels in structure")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// Clock gets the current time.  ts.Clock implements this.
type Clock interface {
	Now() time.Time
}

type Mutator struct {
	clock Clock
}

func NewMutator(clock Clock) *Mutator {
	return &Mutator{clock: clock}
}

func (tm *Mutator) Now() time.Time {
	return tm.clock.Now()
}

func invalidState(f string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(f, args...))
}

// Start runs the clock from the top of level 1.
func (tm *Mutator) Start(c *model.Clock, s model.Structure) error {
	if c.Status != model.ClockStopped {
		return invalidState("can't start a %s clock", c.Status)
	}
	first := s.Level(1)
	if first == nil {
		return fmt.Errorf("%w: structure has no levels", ErrInvalidArgument)
	}
	c.CurrentLevel = 1
	c.TotalPauseMillis = 0
	c.PauseStartedAt = nil
	tm.restartLevel(c, first, tm.clock.Now())
	return nil
}

func (tm *Mutator) Pause(c *model.Clock) error {
	if c.Status != model.ClockRunning {
		return invalidState("can't pause a %s clock", c.Status)
	}
	now := tm.clock.Now()
	remaining := time.Duration(0)
	if c.LevelEndTime != nil {
		remaining = max(c.LevelEndTime.Sub(now), 0)
	} else {
		log.Warn().Stringer("tournament_id", c.TournamentID).Msg("BUG: running clock without an end time")
	}
	ms := remaining.Milliseconds()
	c.Status = model.ClockPaused
	c.RemainingMillis = &ms
	c.LevelEndTime = nil
	c.PauseStartedAt = &now
	c.UpdatedAt = now
	return nil
}

func (tm *Mutator) Resume(c *model.Clock, s model.Structure) error {
	if c.Status != model.ClockPaused {
		return invalidState("can't resume a %s clock", c.Status)
	}
	now := tm.clock.Now()
	var remaining time.Duration
	if c.RemainingMillis != nil {
		remaining = time.Duration(*c.RemainingMillis) * time.Millisecond
	} else if l := s.Level(c.CurrentLevel); l != nil {
		log.Warn().Stringer("tournament_id", c.TournamentID).Msg("BUG: paused clock without remaining time, using full level")
		remaining = l.Duration()
	}
	end := now.Add(remaining)
	tm.endPause(c, now)
	c.Status = model.ClockRunning
	c.LevelEndTime = &end
	c.RemainingMillis = nil
	c.UpdatedAt = now
	return nil
}

// Advance moves to the next level, which starts now.  A paused clock is
// running again afterwards.
//
// On the last level, Advance stops the clock and returns
// ErrStructureExhausted; the caller decides what that means for the
// tournament.
func (tm *Mutator) Advance(c *model.Clock, s model.Structure) error {
	if c.Status != model.ClockRunning && c.Status != model.ClockPaused {
		return invalidState("can't advance a %s clock", c.Status)
	}
	next := s.Level(c.CurrentLevel + 1)
	if next == nil {
		tm.stop(c)
		return fmt.Errorf("%w: level %d is the last of %d", ErrStructureExhausted, c.CurrentLevel, len(s))
	}
	c.CurrentLevel++
	tm.restartLevel(c, next, tm.clock.Now())
	return nil
}

// Revert goes back one level, restarting it.  Like Advance, it leaves the
// clock running.
func (tm *Mutator) Revert(c *model.Clock, s model.Structure) error {
	if c.Status != model.ClockRunning && c.Status != model.ClockPaused {
		return invalidState("can't revert a %s clock", c.Status)
	}
	if c.CurrentLevel <= 1 {
		return invalidState("already at level 1")
	}
	prev := s.Level(c.CurrentLevel - 1)
	if prev == nil {
		return fmt.Errorf("%w: level %d isn't in the structure", ErrInvalidArgument, c.CurrentLevel-1)
	}
	c.CurrentLevel--
	tm.restartLevel(c, prev, tm.clock.Now())
	return nil
}

// Stop resets the clock.  The tournament can be started again later.
func (tm *Mutator) Stop(c *model.Clock) error {
	if c.Status == model.ClockStopped {
		return invalidState("clock is already stopped")
	}
	tm.stop(c)
	return nil
}

func (tm *Mutator) stop(c *model.Clock) {
	c.Status = model.ClockStopped
	c.LevelEndTime = nil
	c.RemainingMillis = nil
	c.PauseStartedAt = nil
	c.UpdatedAt = tm.clock.Now()
}

// restartLevel runs the clock from the top of level l.  Time spent paused
// up to now is added to the pause total.
func (tm *Mutator) restartLevel(c *model.Clock, l *model.BlindLevel, now time.Time) {
	end := now.Add(l.Duration())
	tm.endPause(c, now)
	c.Status = model.ClockRunning
	c.LevelStartedAt = &now
	c.LevelEndTime = &end
	c.RemainingMillis = nil
	c.UpdatedAt = now
}

// endPause closes out an open pause.
func (tm *Mutator) endPause(c *model.Clock, now time.Time) {
	if c.PauseStartedAt != nil {
		c.TotalPauseMillis += max(now.Sub(*c.PauseStartedAt), 0).Milliseconds()
	}
	c.PauseStartedAt = nil
}

// IsDue reports whether the scheduler should advance c at now.
func IsDue(c *model.Clock, now time.Time) bool {
	return c.Status == model.ClockRunning && c.AutoAdvance && c.LevelEndTime != nil && !c.LevelEndTime.After(now)
}

// State is the client's view of the clock.
func (tm *Mutator) State(c *model.Clock, s model.Structure) *model.ClockState {
	st := &model.ClockState{
		TournamentID:     c.TournamentID,
		Status:           c.Status,
		CurrentLevel:     c.CurrentLevel,
		TotalLevels:      len(s),
		LevelStartedAt:   c.LevelStartedAt,
		LevelEndTime:     c.LevelEndTime,
		TotalPauseMillis: c.TotalPauseMillis,
		AutoAdvance:      c.AutoAdvance,
		Level:            s.Level(c.CurrentLevel),
		NextLevel:        s.Level(c.CurrentLevel + 1),
		Version:          c.Version,
	}
	if c.Status == model.ClockPaused && c.PauseStartedAt != nil {
		st.TotalPauseMillis += max(tm.clock.Now().Sub(*c.PauseStartedAt), 0).Milliseconds()
	}
	switch c.Status {
	case model.ClockRunning:
		if c.LevelEndTime != nil {
			st.RemainingMillis = max(c.LevelEndTime.Sub(tm.clock.Now()), 0).Milliseconds()
		}
	case model.ClockPaused:
		if c.RemainingMillis != nil {
			st.RemainingMillis = *c.RemainingMillis
		}
	default:
		if st.Level != nil {
			st.RemainingMillis = st.Level.Duration().Milliseconds()
		}
	}
	return st
}
