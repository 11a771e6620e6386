package dbcache

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/varz"
)

var (
	structureCacheHits   = varz.NewInt("structureCacheHits")
	structureCacheMisses = varz.NewInt("structureCacheMisses")
)

type StructureFetcher interface {
	FetchStructure(ctx context.Context, id uuid.UUID) (model.Structure, error)
}

// StructureStorage is an LRU cache of blind structures.  A structure can be
// replaced before its clock first starts; whoever replaces it calls
// Invalidate.
type StructureStorage struct {
	cache *lru.Cache[uuid.UUID, model.Structure]
	next  StructureFetcher
}

func NewStructureStorage(size int, next StructureFetcher) *StructureStorage {
	cache, err := lru.New[uuid.UUID, model.Structure](size)
	if err != nil {
		log.Fatal().Err(err).Msg("can't create structure cache")
	}
	return &StructureStorage{
		cache: cache,
		next:  next,
	}
}

func (s *StructureStorage) FetchStructure(ctx context.Context, id uuid.UUID) (model.Structure, error) {
	if st, ok := s.cache.Get(id); ok {
		structureCacheHits.Add(1)
		return st.Clone(), nil
	}
	structureCacheMisses.Add(1)
	st, err := s.next.FetchStructure(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, st.Clone())
	return st, nil
}

// Invalidate drops id's structure, so the next fetch reads through.
func (s *StructureStorage) Invalidate(id uuid.UUID) {
	s.cache.Remove(id)
}

// Publish drops the structure of a tournament whose clock changed in
// another process, which is how a replacement made there is seen here.
func (s *StructureStorage) Publish(ctx context.Context, ev *gossip.Event) error {
	if ev.Type == gossip.EventClock {
		s.cache.Remove(ev.TournamentID)
	}
	return nil
}

func (s *StructureStorage) Len() int {
	return s.cache.Len()
}
