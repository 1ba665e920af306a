// Package memstore is the in-memory catalog implementation, used in tests
// and in deployments without a database.
package memstore

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/voxleaf/voxleaf/pkg/catalog"
)

// Store keeps the catalog in a map. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]*catalog.Content
}

var _ catalog.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{nextID: 1, items: make(map[int64]*catalog.Content)}
}

// Add inserts a copy of c and returns its assigned id.
func (s *Store) Add(c catalog.Content) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID
	s.nextID++
	s.items[c.ID] = &c
	return c.ID
}

// snapshotLocked copies matching live entries. Callers hold at least the
// read lock.
func (s *Store) snapshotLocked(match func(*catalog.Content) bool) []*catalog.Content {
	var out []*catalog.Content
	for _, c := range s.items {
		if c.Deleted || !match(c) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (s *Store) GetRandomByType(ctx context.Context, typ catalog.Type, category string) (*catalog.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool := s.snapshotLocked(func(c *catalog.Content) bool {
		return c.Type == typ && c.URL != "" && (category == "" || c.Category == category)
	})
	if len(pool) == 0 {
		return nil, catalog.ErrNotFound
	}
	return pool[rand.IntN(len(pool))], nil
}

func (s *Store) GetContentByName(ctx context.Context, typ catalog.Type, name string) (*catalog.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.items {
		if !c.Deleted && c.Type == typ && c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (s *Store) GetContentByID(ctx context.Context, id int64) (*catalog.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SearchByArtist(ctx context.Context, artist string, typ catalog.Type) ([]*catalog.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(func(c *catalog.Content) bool {
		return c.Type == typ && strings.Contains(c.Artist, artist)
	}), nil
}

func (s *Store) SearchByArtistAndTitle(ctx context.Context, artist, title string) (*catalog.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := s.snapshotLocked(func(c *catalog.Content) bool {
		return strings.Contains(c.Artist, artist)
	})
	ranked := catalog.Rank(title, candidates, 1)
	if len(ranked) == 0 {
		return nil, catalog.ErrNotFound
	}
	return ranked[0], nil
}

func (s *Store) GetContentList(ctx context.Context, typ catalog.Type, category string, limit int, shuffle bool) ([]*catalog.Content, error) {
	s.mu.RLock()
	pool := s.snapshotLocked(func(c *catalog.Content) bool {
		return c.Type == typ && (category == "" || c.Category == category)
	})
	s.mu.RUnlock()

	if shuffle {
		rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	}
	if limit > 0 && len(pool) > limit {
		pool = pool[:limit]
	}
	return pool, nil
}

func (s *Store) SmartSearch(ctx context.Context, keyword string, limit int) ([]*catalog.Content, error) {
	s.mu.RLock()
	all := s.snapshotLocked(func(*catalog.Content) bool { return true })
	s.mu.RUnlock()
	return catalog.Rank(keyword, all, limit), nil
}

func (s *Store) IncrementPlayCount(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || c.Deleted {
		return catalog.ErrNotFound
	}
	c.PlayCount++
	return nil
}

func (s *Store) DeleteContent(ctx context.Context, id int64, hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if hard {
		delete(s.items, id)
		return nil
	}
	c.Deleted = true
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
