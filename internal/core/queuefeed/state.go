package queuefeed

import (
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// State is the client-side view of doc_queue rebuilt from change events.
// Realtime events and full reloads go through the same Apply so neither can
// overwrite newer data from the other.
type State struct {
	mu         sync.RWMutex
	items      map[string]domain.QueueItem
	tombstones map[string]time.Time
}

func NewState() *State {
	return &State{
		items:      make(map[string]domain.QueueItem),
		tombstones: make(map[string]time.Time),
	}
}

// Apply folds one event into the state and reports whether anything changed.
func (s *State) Apply(event domain.QueueEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Kind {
	case domain.EventInsert, domain.EventUpdate:
		if event.Item == nil {
			return false
		}
		return s.upsert(*event.Item)
	case domain.EventDelete:
		if event.Item == nil {
			return false
		}
		return s.remove(event.Item.ID, deletedAt(event))
	case domain.EventSnapshot:
		return s.merge(event.Items, event.At)
	default:
		return false
	}
}

func deletedAt(event domain.QueueEvent) time.Time {
	at := event.At
	if event.Item.UpdatedAt.After(at) {
		at = event.Item.UpdatedAt
	}
	return at
}

func (s *State) upsert(item domain.QueueItem) bool {
	if gone, ok := s.tombstones[item.ID]; ok && !item.UpdatedAt.After(gone) {
		return false
	}
	if current, ok := s.items[item.ID]; ok && current.UpdatedAt.After(item.UpdatedAt) {
		return false
	}
	delete(s.tombstones, item.ID)
	s.items[item.ID] = item
	return true
}

func (s *State) remove(id string, at time.Time) bool {
	if gone, ok := s.tombstones[id]; !ok || at.After(gone) {
		s.tombstones[id] = at
	}
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// merge applies a full listing taken at time at. Rows missing from the
// listing are dropped unless they changed after it was taken.
func (s *State) merge(items []domain.QueueItem, at time.Time) bool {
	changed := false
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item.ID] = struct{}{}
		if s.upsert(item) {
			changed = true
		}
	}
	for id, item := range s.items {
		if _, ok := seen[id]; ok {
			continue
		}
		if item.UpdatedAt.After(at) {
			continue
		}
		if s.remove(id, at) {
			changed = true
		}
	}
	return changed
}

func (s *State) Get(id string) (domain.QueueItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Items returns the rows newest first.
func (s *State) Items() []domain.QueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
