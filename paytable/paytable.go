package paytable

// Package paytable provides data models and stateless functions for payout
// templates: picking the template for a field size, and splitting a prize
// pool by it.

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/model"
)

var ErrNoMatchingTemplate = errors.New("no payout template matches player count")

// Position is one paid place.  BasisPoints are hundredths of a percent
// (10000 = 100%).
type Position struct {
	Position    int `json:"position"`
	BasisPoints int `json:"basis_points"`
}

// Template is a payout table for a range of player counts.  A nil MaxPlayers
// is open-ended.
//
// Percentages don't have to add up to 100%; real tables drift.
type Template struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	MinPlayers int        `json:"min_players"`
	MaxPlayers *int       `json:"max_players,omitempty"`
	Positions  []Position `json:"positions"`
}

// Matches reports whether the template covers n players.
func (t *Template) Matches(n int) bool {
	if n < t.MinPlayers {
		return false
	}
	return t.MaxPlayers == nil || *t.MaxPlayers >= n
}

func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("template needs a name")
	}
	if t.MinPlayers < 0 {
		return fmt.Errorf("template %q: min players %d is negative", t.Name, t.MinPlayers)
	}
	if t.MaxPlayers != nil && *t.MaxPlayers < t.MinPlayers {
		return fmt.Errorf("template %q: max players %d below min %d", t.Name, *t.MaxPlayers, t.MinPlayers)
	}
	if len(t.Positions) == 0 {
		return fmt.Errorf("template %q has no positions", t.Name)
	}
	seen := map[int]bool{}
	for _, p := range t.Positions {
		if p.Position < 1 {
			return fmt.Errorf("template %q: position %d must be at least 1", t.Name, p.Position)
		}
		if seen[p.Position] {
			return fmt.Errorf("template %q: duplicate position %d", t.Name, p.Position)
		}
		seen[p.Position] = true
		if p.BasisPoints < 0 || p.BasisPoints > 10000 {
			return fmt.Errorf("template %q: position %d has %d basis points", t.Name, p.Position, p.BasisPoints)
		}
	}
	return nil
}

func (t *Template) Clone() *Template {
	c := *t
	if t.MaxPlayers != nil {
		v := *t.MaxPlayers
		c.MaxPlayers = &v
	}
	c.Positions = slices.Clone(t.Positions)
	return &c
}

// PercentToBasisPoints converts a display percentage (70.0) to basis points.
func PercentToBasisPoints(pct float64) int {
	return int(math.Round(pct * 100))
}

// Resolve picks the template for n players: of the templates whose range
// covers n, the one with the greatest MinPlayers.  Equal MinPlayers fall back
// to name and then id, so the answer never depends on input order.
func Resolve(templates []*Template, n int) (*Template, error) {
	var best *Template
	for _, t := range templates {
		if !t.Matches(n) {
			continue
		}
		if best == nil || better(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %d players", ErrNoMatchingTemplate, n)
	}
	return best, nil
}

func better(a, b *Template) bool {
	if a.MinPlayers != b.MinPlayers {
		return a.MinPlayers > b.MinPlayers
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID.String() < b.ID.String()
}

// Compute splits totalPrizePool by positions.  Each amount is floored, so the
// amounts never add up to more than the pool; any remainder stays unallocated.
// The result is ordered by position whatever the input order.
func Compute(positions []Position, totalPrizePool int64) []model.PayoutPosition {
	sorted := slices.Clone(positions)
	slices.SortStableFunc(sorted, func(a, b Position) int {
		return a.Position - b.Position
	})

	out := make([]model.PayoutPosition, 0, len(sorted))
	for _, p := range sorted {
		amount := int64(0)
		if totalPrizePool > 0 {
			amount = totalPrizePool * int64(p.BasisPoints) / 10000
		}
		out = append(out, model.PayoutPosition{
			Position:    p.Position,
			AmountCents: amount,
			Percentage:  float64(p.BasisPoints) / 100,
		})
	}
	return out
}
