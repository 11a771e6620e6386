// Package dbcache puts caches in front of the read paths that don't need
// the tournament lock.
package dbcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ts4z/floorman/paytable"
	"github.com/ts4z/floorman/state"
	"github.com/ts4z/floorman/varz"
)

type Nower interface {
	Now() time.Time
}

var (
	templateCacheHits   = varz.NewInt("templateCacheHits")
	templateCacheMisses = varz.NewInt("templateCacheMisses")
)

// TemplateStorage caches the payout template list for a fixed TTL.  Writes
// through this cache invalidate it; writes by another process are seen when
// the TTL runs out.
type TemplateStorage struct {
	clock Nower
	ttl   time.Duration
	next  state.TemplateStorage

	lock      sync.Mutex
	cached    []*paytable.Template
	fetchedAt time.Time
}

var _ state.TemplateStorage = (*TemplateStorage)(nil)

func NewTemplateStorage(next state.TemplateStorage, clock Nower, ttl time.Duration) *TemplateStorage {
	return &TemplateStorage{
		next:  next,
		clock: clock,
		ttl:   ttl,
	}
}

func cloneAll(ts []*paytable.Template) []*paytable.Template {
	out := make([]*paytable.Template, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

func (s *TemplateStorage) FetchPayoutTemplates(ctx context.Context) ([]*paytable.Template, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cached != nil && s.fetchedAt.Add(s.ttl).After(s.clock.Now()) {
		templateCacheHits.Add(1)
		return cloneAll(s.cached), nil
	}
	templateCacheMisses.Add(1)
	ts, err := s.next.FetchPayoutTemplates(ctx)
	if err != nil {
		return nil, err
	}
	s.cached = cloneAll(ts)
	s.fetchedAt = s.clock.Now()
	return ts, nil
}

func (s *TemplateStorage) CreatePayoutTemplate(ctx context.Context, t *paytable.Template) error {
	defer s.Invalidate()
	return s.next.CreatePayoutTemplate(ctx, t)
}

func (s *TemplateStorage) DeletePayoutTemplate(ctx context.Context, id uuid.UUID) error {
	defer s.Invalidate()
	return s.next.DeletePayoutTemplate(ctx, id)
}

// Invalidate drops the cached list so the next read goes to storage.
func (s *TemplateStorage) Invalidate() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cached = nil
}
