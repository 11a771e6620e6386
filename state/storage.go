package state

// package state manages persistence.

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification means another writer got to the row first.
	// Retrying against fresh state is safe.
	ErrConcurrentModification = errors.New("concurrent modification")
)

type Closer interface {
	Close()
}

// DueClock is a row from the due-clock query.  CurrentLevel is what the
// scheduler saw, so a racing advance can be detected under the lock.
type DueClock struct {
	TournamentID uuid.UUID
	CurrentLevel int
	LevelEndTime time.Time
}

// TournamentTx is a transaction holding the lock on one tournament.  Nothing
// else can write that tournament's clock, entries, payout or activity until it
// ends.  Reads through it see its own writes.
//
// A blind structure only changes before its clock first starts, so once the
// clock is running it can be read (and cached) outside the lock.
type TournamentTx interface {
	Tournament() *model.Tournament
	SaveTournament(ctx context.Context, t *model.Tournament) error

	FetchStructure(ctx context.Context) (model.Structure, error)
	ReplaceStructure(ctx context.Context, levels model.Structure) error

	FetchClock(ctx context.Context) (*model.Clock, error)
	// SaveClock writes c if the stored version still equals c.Version, and
	// bumps c.Version.
	SaveClock(ctx context.Context, c *model.Clock) error

	InsertEntry(ctx context.Context, e *model.Entry) error
	DeleteEntry(ctx context.Context, entryID uuid.UUID) (*model.Entry, error)
	EntryStats(ctx context.Context) (*model.EntryStats, error)

	FetchPayout(ctx context.Context) (*model.Payout, error)
	UpsertPayout(ctx context.Context, p *model.Payout) error

	FetchRegistration(ctx context.Context, userID uuid.UUID) (*model.Registration, error)
	UpsertRegistration(ctx context.Context, r *model.Registration) error

	AppendActivity(ctx context.Context, e *model.ActivityLogEntry) error
}

// TemplateStorage holds the global payout templates.
type TemplateStorage interface {
	FetchPayoutTemplates(ctx context.Context) ([]*paytable.Template, error)
	CreatePayoutTemplate(ctx context.Context, t *paytable.Template) error
	DeletePayoutTemplate(ctx context.Context, id uuid.UUID) error
}

// Storage describes the core's view of state management.
type Storage interface {
	Closer
	TemplateStorage

	// InTournament runs fn with the tournament locked.  The transaction
	// commits if fn returns nil and rolls back otherwise.
	InTournament(ctx context.Context, id uuid.UUID, fn func(TournamentTx) error) error

	CreateTournament(ctx context.Context, t *model.Tournament, levels model.Structure, c *model.Clock, created *model.ActivityLogEntry) error
	FetchTournament(ctx context.Context, id uuid.UUID) (*model.Tournament, error)
	FetchClock(ctx context.Context, id uuid.UUID) (*model.Clock, error)
	FetchStructure(ctx context.Context, id uuid.UUID) (model.Structure, error)
	FetchPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error)
	EntryStats(ctx context.Context, id uuid.UUID) (*model.EntryStats, error)
	ListActivity(ctx context.Context, id uuid.UUID, category *model.ActivityCategory, offset, limit int) (*model.ActivityPage, error)

	// DueClocks returns running auto-advance clocks whose level has ended
	// at or before now, skipping finished tournaments.
	DueClocks(ctx context.Context, now time.Time) ([]DueClock, error)
	// StaleTournaments returns ids of tournaments that have been in_progress
	// since before the cutoff.
	StaleTournaments(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	// StartingSoon returns tournaments that haven't started, start in
	// [from, to], and haven't been announced.
	StartingSoon(ctx context.Context, from, to time.Time) ([]*model.Tournament, error)
}
