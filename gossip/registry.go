package gossip

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/varz"
)

var (
	published   = varz.NewInt("published")
	delivered   = varz.NewInt("delivered")
	dropped     = varz.NewInt("dropped")
	subscribers = varz.NewInt("subscribers")
	stalled     = varz.NewInt("stalled")
)

// Registry is the in-process publish/subscribe table.  It is owned by
// whoever builds it and handed to the things that need it; there is no
// package-level registry.
type Registry struct {
	clock      clockwork.Clock
	bufferSize int

	lock   sync.Mutex
	topics map[Topic]map[*Subscription]struct{}
}

var _ Publisher = (*Registry)(nil)

func NewRegistry(clock clockwork.Clock, bufferSize int) *Registry {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Registry{
		clock:      clock,
		bufferSize: bufferSize,
		topics:     map[Topic]map[*Subscription]struct{}{},
	}
}

// Subscription receives events for its topics until it is closed.  The
// channel is closed when the subscription is, either by the subscriber or by
// the registry giving up on a stalled reader.
type Subscription struct {
	r      *Registry
	topics []Topic
	ch     chan *Event

	// guarded by r.lock
	closed    bool
	fullSince time.Time
}

func (s *Subscription) C() <-chan *Event {
	return s.ch
}

func (s *Subscription) Topics() []Topic {
	return s.topics
}

// Close unsubscribes.  It is safe to call more than once.
func (s *Subscription) Close() {
	s.r.lock.Lock()
	defer s.r.lock.Unlock()
	s.r.removeLocked(s)
}

func (r *Registry) Subscribe(topics ...Topic) *Subscription {
	s := &Subscription{
		r:      r,
		topics: topics,
		ch:     make(chan *Event, r.bufferSize),
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, t := range topics {
		subs, ok := r.topics[t]
		if !ok {
			subs = map[*Subscription]struct{}{}
			r.topics[t] = subs
		}
		subs[s] = struct{}{}
	}
	subscribers.Add(1)
	log.Debug().Int("topics", len(topics)).Msg("gossip: subscribed")
	return s
}

func (r *Registry) removeLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.topics {
		if subs, ok := r.topics[t]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(r.topics, t)
			}
		}
	}
	close(s.ch)
	subscribers.Add(-1)
}

// Publish delivers ev to each subscriber of any of its topics, once per
// subscriber.  A subscriber whose buffer is full misses the event; the
// janitor closes it if it stays full.
func (r *Registry) Publish(ctx context.Context, ev *Event) error {
	published.Add(1)
	r.lock.Lock()
	defer r.lock.Unlock()

	seen := map[*Subscription]bool{}
	for _, t := range ev.Topics {
		for s := range r.topics[t] {
			if seen[s] {
				continue
			}
			seen[s] = true
			select {
			case s.ch <- ev:
				delivered.Add(1)
				s.fullSince = time.Time{}
			default:
				dropped.Add(1)
				if s.fullSince.IsZero() {
					s.fullSince = r.clock.Now()
				}
			}
		}
	}
	return nil
}

// CleanupStalled closes subscriptions that have been dropping events for
// longer than stallTimeout, and returns how many it closed.
func (r *Registry) CleanupStalled(stallTimeout time.Duration) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.clock.Now()
	victims := map[*Subscription]bool{}
	for _, subs := range r.topics {
		for s := range subs {
			if !s.fullSince.IsZero() && now.Sub(s.fullSince) >= stallTimeout {
				victims[s] = true
			}
		}
	}
	for s := range victims {
		r.removeLocked(s)
		stalled.Add(1)
	}
	if len(victims) > 0 {
		log.Info().Int("closed", len(victims)).Msg("gossip: closed stalled subscribers")
	}
	return len(victims)
}

// Len is the number of open subscriptions.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	all := map[*Subscription]bool{}
	for _, subs := range r.topics {
		for s := range subs {
			all[s] = true
		}
	}
	return len(all)
}
