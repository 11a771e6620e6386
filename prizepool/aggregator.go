// Package prizepool keeps a tournament's payout in step with its entries.
package prizepool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/varz"
)

var (
	recalculations = varz.NewInt("recalculations")
	unchanged      = varz.NewInt("unchanged")
	noTemplate     = varz.NewInt("noTemplate")
)

// TemplateFetcher supplies the payout templates.  dbcache.TemplateStorage and
// state.Storage implement this.
type TemplateFetcher interface {
	FetchPayoutTemplates(ctx context.Context) ([]*paytable.Template, error)
}

type Clock interface {
	Now() time.Time
}

type Aggregator struct {
	templates TemplateFetcher
	clock     Clock
}

func NewAggregator(templates TemplateFetcher, clock Clock) *Aggregator {
	return &Aggregator{templates: templates, clock: clock}
}

// Result says what Recalculate did.  Payout is the payout now in force, which
// may be nil if no template has ever matched.
type Result struct {
	Payout *model.Payout
	// Changed is set if the stored payout was written.
	Changed bool
	// NoTemplate is set if no template matched; the stored payout, if
	// any, was left alone.
	NoTemplate bool
}

// Recalculate derives the payout from the entry ledger inside tx, so the
// payout commits or rolls back with the write that triggered it.
//
// Player count is the number of distinct players with an entry.  Nothing
// is written if the distribution is unchanged.
func (a *Aggregator) Recalculate(ctx context.Context, tx state.TournamentTx, actor *uuid.UUID) (*Result, error) {
	tournamentID := tx.Tournament().ID
	stats, err := tx.EntryStats(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := tx.FetchPayout(ctx)
	if errors.Is(err, state.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return nil, err
	}

	templates, err := a.templates.FetchPayoutTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching payout templates: %w", err)
	}
	tpl, err := paytable.Resolve(templates, stats.UniquePlayers)
	if errors.Is(err, paytable.ErrNoMatchingTemplate) {
		noTemplate.Add(1)
		log.Warn().Stringer("tournament_id", tournamentID).Int("players", stats.UniquePlayers).
			Int64("pool", stats.TotalAmountCents).Msg("no payout template matches, payout left as is")
		return &Result{Payout: existing, NoTemplate: true}, nil
	} else if err != nil {
		return nil, err
	}

	payout := &model.Payout{
		TournamentID:        tournamentID,
		TemplateID:          tpl.ID,
		PlayerCount:         stats.UniquePlayers,
		TotalPrizePoolCents: stats.TotalAmountCents,
		Positions:           paytable.Compute(tpl.Positions, stats.TotalAmountCents),
		UpdatedAt:           a.clock.Now(),
	}

	if existing.SameDistribution(payout) {
		unchanged.Add(1)
		return &Result{Payout: existing}, nil
	}

	if err := tx.UpsertPayout(ctx, payout); err != nil {
		return nil, err
	}
	err = tx.AppendActivity(ctx, &model.ActivityLogEntry{
		TournamentID: tournamentID,
		Category:     model.CategoryResult,
		Action:       model.ActionPayoutRecalculated,
		ActorID:      actor,
		EventTime:    payout.UpdatedAt,
		Metadata: map[string]any{
			"template_id":            tpl.ID.String(),
			"template_name":          tpl.Name,
			"player_count":           payout.PlayerCount,
			"total_prize_pool_cents": payout.TotalPrizePoolCents,
			"paid_positions":         len(payout.Positions),
		},
	})
	if err != nil {
		return nil, err
	}
	recalculations.Add(1)
	log.Info().Stringer("tournament_id", tournamentID).Str("template", tpl.Name).
		Int("players", payout.PlayerCount).Int64("pool", payout.TotalPrizePoolCents).Msg("payout recalculated")
	return &Result{Payout: payout, Changed: true}, nil
}
