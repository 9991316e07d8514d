package report

import (
	"container/list"
	"fmt"
	"sync"
)

// LRUStore keeps the most recently used runs in memory and delegates to a
// backing Store for persistence and on misses. A nil backing store makes it
// a bounded in-memory store.
type LRUStore struct {
	mu    sync.Mutex
	cap   int
	back  Store
	order *list.List // front is most recent; values are *RunResult
	items map[string]*list.Element
}

// NewLRUStore creates an LRU cache holding at most capacity runs.
// Capacity below 1 is treated as 1.
func NewLRUStore(capacity int, back Store) *LRUStore {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUStore{
		cap:   capacity,
		back:  back,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Save caches result, then writes it through to the backing store.
func (s *LRUStore) Save(result *RunResult) error {
	s.put(result)
	if s.back == nil {
		return nil
	}
	return s.back.Save(result)
}

// Load serves from the cache, falling back to the backing store and
// promoting what it finds.
func (s *LRUStore) Load(runID string) (*RunResult, error) {
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		s.order.MoveToFront(e)
		r := e.Value.(*RunResult)
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	if s.back == nil {
		return nil, notFound(runID)
	}
	result, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}
	s.put(result)
	return result, nil
}

// Len reports how many runs are cached.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *LRUStore) put(result *RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[result.ID]; ok {
		e.Value = result
		s.order.MoveToFront(e)
		return
	}
	s.items[result.ID] = s.order.PushFront(result)
	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*RunResult).ID)
	}
}

// Recent delegates to the backing store when it can list runs.
func (s *LRUStore) Recent(limit int) ([]Summary, error) {
	if l, ok := s.back.(Lister); ok {
		return l.Recent(limit)
	}
	return nil, fmt.Errorf("run history cannot be listed")
}
