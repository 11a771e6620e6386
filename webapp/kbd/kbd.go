// Package kbd maps the floor's keyboard shortcuts to clock operations.
package kbd

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/tournament"
)

// Clocker is the part of the permission facade that the keyboard drives.
type Clocker interface {
	GetClock(ctx context.Context, id uuid.UUID) (*model.ClockState, error)
	Clock(ctx context.Context, id uuid.UUID, op string) (*model.ClockState, error)
}

type KeyboardShortcutDispatcher struct {
	clock   Clocker
	keyToOp map[string]func(*model.ClockState) string
}

func NewKeyboardShortcutDispatcher(clock Clocker) *KeyboardShortcutDispatcher {
	fixed := func(op string) func(*model.ClockState) string {
		return func(*model.ClockState) string { return op }
	}
	return &KeyboardShortcutDispatcher{
		clock: clock,
		keyToOp: map[string]func(*model.ClockState) string{
			"PreviousLevel": fixed("revert"),
			"SkipLevel":     fixed("advance"),
			"StopClock":     fixed("pause"),
			"EndClock":      fixed("stop"),
			// The one key both starts a fresh clock and resumes a paused one.
			"StartClock": func(st *model.ClockState) string {
				if st.Status == model.ClockPaused {
					return "resume"
				}
				return "start"
			},
		},
	}
}

// Keys lists the shortcuts the dispatcher knows, sorted.
func (d *KeyboardShortcutDispatcher) Keys() []string {
	return slices.Sorted(maps.Keys(d.keyToOp))
}

func (d *KeyboardShortcutDispatcher) HandleKeypress(ctx context.Context, id uuid.UUID, event string) (*model.ClockState, error) {
	pick, ok := d.keyToOp[event]
	if !ok {
		return nil, fmt.Errorf("%w: unknown keyboard event %q", tournament.ErrInvalidArgument, event)
	}
	st, err := d.clock.GetClock(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.clock.Clock(ctx, id, pick(st))
}
