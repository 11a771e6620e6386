package state

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/builtins"
)

// SeedPayoutTemplates stores a built-in template set.  Built-in ids are
// derived from names, so seeding again overwrites rather than duplicates.
func SeedPayoutTemplates(ctx context.Context, ts TemplateStorage, set string) (int, error) {
	templates, err := builtins.PayoutTemplates(set)
	if err != nil {
		return 0, err
	}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return 0, fmt.Errorf("built-in set %q: %w", set, err)
		}
		if err := ts.CreatePayoutTemplate(ctx, t); err != nil {
			return 0, err
		}
		log.Debug().Str("template", t.Name).Stringer("id", t.ID).Msg("seeded payout template")
	}
	return len(templates), nil
}
