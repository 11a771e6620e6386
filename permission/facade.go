package permission

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/dep"
	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
	"github.com/ts4z/floorman/prizepool"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/tournament"
)

// Facade is the Manager as seen by a caller whose identity is in the
// context.  Reads are open; changes need a role.
type Facade struct {
	m         *tournament.Manager
	templates state.TemplateStorage
}

func NewFacade(m *tournament.Manager, templates state.TemplateStorage) *Facade {
	return &Facade{
		m:         dep.Required(m),
		templates: dep.Required(templates),
	}
}

// asActor records the caller as the actor of whatever fn changes.
func asActor(ctx context.Context) context.Context {
	if c := ClaimsFromContext(ctx); c != nil {
		return tournament.WithActor(ctx, c.UserID)
	}
	return ctx
}

// managing runs fn if the caller manages the tournament's club.
func managing[T any](ctx context.Context, f *Facade, id uuid.UUID, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if _, err := requireUser(ctx); err != nil {
		return zero, err
	}
	t, err := f.m.GetTournament(ctx, id)
	if err != nil {
		return zero, err
	}
	return requireClubManagerReturning(ctx, t.ClubID, func() (T, error) {
		return fn(asActor(ctx))
	})
}

func (f *Facade) CreateTournament(ctx context.Context, req *tournament.NewTournament) (*model.Tournament, error) {
	return requireClubManagerReturning(ctx, req.ClubID, func() (*model.Tournament, error) {
		return f.m.CreateTournament(asActor(ctx), req)
	})
}

func (f *Facade) GetTournament(ctx context.Context, id uuid.UUID) (*model.Tournament, error) {
	return f.m.GetTournament(ctx, id)
}

func (f *Facade) SetLiveStatus(ctx context.Context, id uuid.UUID, to model.LiveStatus) (*model.Tournament, error) {
	return managing(ctx, f, id, func(ctx context.Context) (*model.Tournament, error) {
		return f.m.SetLiveStatus(ctx, id, to)
	})
}

func (f *Facade) GetClock(ctx context.Context, id uuid.UUID) (*model.ClockState, error) {
	return f.m.GetClock(ctx, id)
}

// clockOp looks up an operator clock operation by name.
func clockOp(op string) (func(*tournament.Manager, context.Context, uuid.UUID) (*model.ClockState, error), bool) {
	switch op {
	case "start":
		return (*tournament.Manager).StartClock, true
	case "pause":
		return (*tournament.Manager).PauseClock, true
	case "resume":
		return (*tournament.Manager).ResumeClock, true
	case "advance":
		return (*tournament.Manager).AdvanceLevel, true
	case "revert":
		return (*tournament.Manager).RevertLevel, true
	case "stop":
		return (*tournament.Manager).StopClock, true
	}
	return nil, false
}

// Clock runs a named clock operation.
func (f *Facade) Clock(ctx context.Context, id uuid.UUID, op string) (*model.ClockState, error) {
	fn, ok := clockOp(op)
	if !ok {
		return nil, fmt.Errorf("%w: unknown clock operation %q", tournament.ErrInvalidArgument, op)
	}
	return managing(ctx, f, id, func(ctx context.Context) (*model.ClockState, error) {
		return fn(f.m, ctx, id)
	})
}

func (f *Facade) ReplaceStructure(ctx context.Context, id uuid.UUID, req *tournament.NewStructure) (*model.ClockState, error) {
	return managing(ctx, f, id, func(ctx context.Context) (*model.ClockState, error) {
		return f.m.ReplaceStructure(ctx, id, req)
	})
}

func (f *Facade) GetPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	return f.m.GetPayout(ctx, id)
}

func (f *Facade) RecalculatePayout(ctx context.Context, id uuid.UUID) (*prizepool.Result, error) {
	return managing(ctx, f, id, func(ctx context.Context) (*prizepool.Result, error) {
		return f.m.RecalculatePayout(ctx, id)
	})
}

type EntryResult struct {
	Entry  *model.Entry  `json:"entry"`
	Payout *model.Payout `json:"payout,omitempty"`
}

func (f *Facade) RecordEntry(ctx context.Context, id, userID uuid.UUID, typ model.EntryType, amountCents int64) (*EntryResult, error) {
	return managing(ctx, f, id, func(ctx context.Context) (*EntryResult, error) {
		e, p, err := f.m.RecordEntry(ctx, id, userID, typ, amountCents)
		if err != nil {
			return nil, err
		}
		return &EntryResult{Entry: e, Payout: p}, nil
	})
}

func (f *Facade) DeleteEntry(ctx context.Context, id, entryID uuid.UUID) (*model.Payout, error) {
	return managing(ctx, f, id, func(ctx context.Context) (*model.Payout, error) {
		return f.m.DeleteEntry(ctx, id, entryID)
	})
}

func (f *Facade) GetEntryStats(ctx context.Context, id uuid.UUID) (*model.EntryStats, error) {
	return f.m.GetEntryStats(ctx, id)
}

// Register signs up the caller.
func (f *Facade) Register(ctx context.Context, id uuid.UUID) (*model.Registration, error) {
	c, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	return f.m.Register(asActor(ctx), id, c.UserID)
}

func (f *Facade) SetRegistrationStatus(ctx context.Context, id, userID uuid.UUID, to model.RegistrationStatus) (*model.Registration, error) {
	return managing(ctx, f, id, func(ctx context.Context) (*model.Registration, error) {
		return f.m.SetRegistrationStatus(ctx, id, userID, to)
	})
}

func (f *Facade) ListActivity(ctx context.Context, id uuid.UUID, category *model.ActivityCategory, offset, limit int) (*model.ActivityPage, error) {
	return f.m.ListActivity(ctx, id, category, offset, limit)
}

func (f *Facade) ListPayoutTemplates(ctx context.Context) ([]*paytable.Template, error) {
	return f.templates.FetchPayoutTemplates(ctx)
}

func (f *Facade) CreatePayoutTemplate(ctx context.Context, t *paytable.Template) error {
	return requireAdmin(ctx, func() error {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", tournament.ErrInvalidArgument, err)
		}
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		return f.templates.CreatePayoutTemplate(ctx, t)
	})
}

func (f *Facade) DeletePayoutTemplate(ctx context.Context, id uuid.UUID) error {
	return requireAdmin(ctx, func() error {
		return f.templates.DeletePayoutTemplate(ctx, id)
	})
}
