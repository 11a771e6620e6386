/*
package gossip provides an interface between our clients and notifications from
our database as well as our local writes.

Events are published to topics keyed by tournament, user or club.  A Registry
is the in-process side: websocket connections subscribe to it and it never
blocks a publisher.  Other Publishers carry events to other processes.

The name is imperfect, but see the section "Promotion" on https://en.wikipedia.org/wiki/Hadacol.
*/

package gossip

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Fanout publishes to every publisher in turn.  One failing doesn't stop the
// others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev *Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("type", ev.Type).Msg("publish failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
