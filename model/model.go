// Package model holds the plain data types shared by storage, the clock,
// and the payout engine.  Nothing in here touches a database or a clock.
package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	dashDashRE = regexp.MustCompile(`\s*--\s*`)
	blindsRE   = regexp.MustCompile(`^(\d+)\s*/\s*(\d+)(?:\s*/\s*(\d+))?$`)
)

// LiveStatus is the lifecycle of a tournament, independent of the clock.
type LiveStatus string

const (
	NotStarted       LiveStatus = "not_started"
	RegistrationOpen LiveStatus = "registration_open"
	LateRegistration LiveStatus = "late_registration"
	InProgress       LiveStatus = "in_progress"
	OnBreak          LiveStatus = "break"
	FinalTable       LiveStatus = "final_table"
	Finished         LiveStatus = "finished"
)

var liveStatuses = []LiveStatus{
	NotStarted, RegistrationOpen, LateRegistration, InProgress, OnBreak, FinalTable, Finished,
}

func ParseLiveStatus(s string) (LiveStatus, error) {
	for _, ls := range liveStatuses {
		if string(ls) == s {
			return ls, nil
		}
	}
	return "", fmt.Errorf("unknown live status %q", s)
}

// IsActive reports whether play is underway.  Entering an active state from
// an inactive one is what first produces a payout.
func (s LiveStatus) IsActive() bool {
	switch s {
	case LateRegistration, InProgress, OnBreak, FinalTable:
		return true
	}
	return false
}

// Tournaments are the things that we're running.
type Tournament struct {
	ID              uuid.UUID  `json:"id"`
	ClubID          uuid.UUID  `json:"club_id"`
	Name            string     `json:"name"`
	BuyInCents      int64      `json:"buy_in_cents"`
	SeatCap         *int       `json:"seat_cap,omitempty"`
	LiveStatus      LiveStatus `json:"live_status"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	// StartingSoonSent is set once the pre-start notice has gone out.
	StartingSoonSent bool      `json:"-"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
}

func (t *Tournament) Clone() *Tournament {
	c := *t
	if t.SeatCap != nil {
		v := *t.SeatCap
		c.SeatCap = &v
	}
	if t.StartTime != nil {
		v := *t.StartTime
		c.StartTime = &v
	}
	return &c
}

// BlindLevel is one row of a blind structure.  Level numbers start at 1.
type BlindLevel struct {
	LevelNumber          int   `json:"level_number"`
	SmallBlind           int64 `json:"small_blind"`
	BigBlind             int64 `json:"big_blind"`
	Ante                 int64 `json:"ante"`
	DurationMinutes      int   `json:"duration_minutes"`
	IsBreak              bool  `json:"is_break"`
	BreakDurationMinutes *int  `json:"break_duration_minutes,omitempty"`
}

// Duration is how long the level runs.  Breaks use their break duration if
// they have one.
func (l *BlindLevel) Duration() time.Duration {
	if l.IsBreak && l.BreakDurationMinutes != nil {
		return time.Duration(*l.BreakDurationMinutes) * time.Minute
	}
	return time.Duration(l.DurationMinutes) * time.Minute
}

// Structure is the ordered blind structure of one tournament.
type Structure []*BlindLevel

// Level returns level n (1-based), or nil.
func (s Structure) Level(n int) *BlindLevel {
	if n < 1 || n > len(s) {
		return nil
	}
	return s[n-1]
}

func (s Structure) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("structure has no levels")
	}
	for i, l := range s {
		if l.LevelNumber != i+1 {
			return fmt.Errorf("level %d at position %d: level numbers must be contiguous from 1", l.LevelNumber, i+1)
		}
		if l.Duration() <= 0 {
			return fmt.Errorf("level %d has no duration", l.LevelNumber)
		}
		if !l.IsBreak && (l.SmallBlind < 0 || l.BigBlind < l.SmallBlind || l.Ante < 0) {
			return fmt.Errorf("level %d has bad blinds %d/%d/%d", l.LevelNumber, l.SmallBlind, l.BigBlind, l.Ante)
		}
	}
	return nil
}

func (s Structure) Clone() Structure {
	c := make(Structure, len(s))
	for i, l := range s {
		cl := *l
		if l.BreakDurationMinutes != nil {
			v := *l.BreakDurationMinutes
			cl.BreakDurationMinutes = &v
		}
		c[i] = &cl
	}
	return c
}

// ParseLevels reads a structure written one level per line:
//
//	20 -- 100/200/25
//	15 -- BREAK
//
// Blank lines and lines starting with # are skipped.
func ParseLevels(input string) (Structure, error) {
	levels := Structure{}
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := dashDashRE.Split(line, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line unparsable: %q", line)
		}
		durationMins, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("can't parse duration in line %q: %w", line, err)
		}
		lvl := &BlindLevel{
			LevelNumber:     len(levels) + 1,
			DurationMinutes: durationMins,
		}
		if strings.EqualFold(parts[1], "BREAK") {
			lvl.IsBreak = true
			lvl.BreakDurationMinutes = &durationMins
		} else {
			m := blindsRE.FindStringSubmatch(parts[1])
			if m == nil {
				return nil, fmt.Errorf("can't parse blinds in line %q", line)
			}
			lvl.SmallBlind, _ = strconv.ParseInt(m[1], 10, 64)
			lvl.BigBlind, _ = strconv.ParseInt(m[2], 10, 64)
			if m[3] != "" {
				lvl.Ante, _ = strconv.ParseInt(m[3], 10, 64)
			}
		}
		levels = append(levels, lvl)
	}
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	return levels, nil
}

type RegistrationStatus string

const (
	Registered RegistrationStatus = "registered"
	CheckedIn  RegistrationStatus = "checked_in"
	Seated     RegistrationStatus = "seated"
	Waitlisted RegistrationStatus = "waitlisted"
	Cancelled  RegistrationStatus = "cancelled"
	NoShow     RegistrationStatus = "no_show"
	Busted     RegistrationStatus = "busted"
)

func ParseRegistrationStatus(s string) (RegistrationStatus, error) {
	switch rs := RegistrationStatus(s); rs {
	case Registered, CheckedIn, Seated, Waitlisted, Cancelled, NoShow, Busted:
		return rs, nil
	}
	return "", fmt.Errorf("unknown registration status %q", s)
}

// IsConfirmed is the old player-count rule.  Payouts don't use it; entries
// are the only source of truth there.
func (s RegistrationStatus) IsConfirmed() bool {
	switch s {
	case Registered, CheckedIn, Seated, Busted:
		return true
	}
	return false
}

type Registration struct {
	TournamentID uuid.UUID          `json:"tournament_id"`
	UserID       uuid.UUID          `json:"user_id"`
	Status       RegistrationStatus `json:"status"`
	RegisteredAt time.Time          `json:"registered_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type EntryType string

const (
	InitialEntry EntryType = "initial"
	Rebuy        EntryType = "rebuy"
	ReEntry      EntryType = "re_entry"
	AddOn        EntryType = "addon"
)

func ParseEntryType(s string) (EntryType, error) {
	switch et := EntryType(s); et {
	case InitialEntry, Rebuy, ReEntry, AddOn:
		return et, nil
	}
	return "", fmt.Errorf("unknown entry type %q", s)
}

// Entry is one money-in event.  Entries are the source of truth for the
// prize pool.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	TournamentID uuid.UUID `json:"tournament_id"`
	UserID       uuid.UUID `json:"user_id"`
	Type         EntryType `json:"entry_type"`
	AmountCents  int64     `json:"amount_cents"`
	CreatedAt    time.Time `json:"created_at"`
}

type EntryStats struct {
	UniquePlayers    int   `json:"unique_players"`
	EntryCount       int   `json:"entry_count"`
	TotalAmountCents int64 `json:"total_amount_cents"`
}

// PayoutPosition is one paid place.  Percentage is for display; the amount
// was computed from basis points.
type PayoutPosition struct {
	Position    int     `json:"position"`
	AmountCents int64   `json:"amount_cents"`
	Percentage  float64 `json:"percentage"`
}

// Payout is the single derived payout row for a tournament.
type Payout struct {
	TournamentID        uuid.UUID        `json:"tournament_id"`
	TemplateID          uuid.UUID        `json:"template_id"`
	PlayerCount         int              `json:"player_count"`
	TotalPrizePoolCents int64            `json:"total_prize_pool_cents"`
	Positions           []PayoutPosition `json:"positions"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// SameDistribution reports whether two payouts would pay the same people the
// same amounts from the same template.
func (p *Payout) SameDistribution(o *Payout) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.TemplateID != o.TemplateID || p.PlayerCount != o.PlayerCount || p.TotalPrizePoolCents != o.TotalPrizePoolCents {
		return false
	}
	if len(p.Positions) != len(o.Positions) {
		return false
	}
	for i := range p.Positions {
		if p.Positions[i] != o.Positions[i] {
			return false
		}
	}
	return true
}

func (p *Payout) Clone() *Payout {
	c := *p
	c.Positions = append([]PayoutPosition(nil), p.Positions...)
	return &c
}
