// Package history holds a conversation's message list and its persisted
// snapshot. The in-memory store is ordered and deduplicated by the
// client-generated message id; persistence is a best-effort JSON snapshot
// keyed by conversation key.
package history

import (
	"sort"
	"sync"

	"github.com/haemilhq/haemilchat/pkg/models"
)

// Store is the ordered, deduplicated message collection for one
// conversation. Reads may run concurrently with mutation; every mutation
// is applied as a whole under the store lock.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	index    map[string]int
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Append adds m at the tail unless its id is already present; duplicate
// pushes and echoes are idempotent no-ops. Reports whether the message
// was added.
func (s *Store) Append(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[m.ID]; ok {
		return false
	}
	s.index[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
	return true
}

// UpdateStatus transitions the delivery status of a self-sent message.
// No-op when id is unknown or the message did not originate locally.
func (s *Store) UpdateStatus(id string, status models.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok || s.messages[i].Sender != models.SenderSelf {
		return false
	}
	s.messages[i].Status = status
	return true
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[i], true
}

// Len reports the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns the full list ordered ascending by CreatedAt, ties
// broken by insertion order. This is the shape that gets persisted.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

// Restore replaces the in-memory state with a previously persisted list.
// Entries with an unusable shape are discarded; duplicates keep the first
// occurrence. The kept messages are ordered ascending by CreatedAt.
// Returns the number of messages kept.
func (s *Store) Restore(list []models.Message) int {
	kept := make([]models.Message, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, m := range list {
		if !m.Valid() {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		kept = append(kept, m)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].CreatedAt < kept[j].CreatedAt
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = kept
	s.index = make(map[string]int, len(kept))
	for i, m := range kept {
		s.index[m.ID] = i
	}
	return len(kept)
}

// Reset drops all messages. Used on sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.index = make(map[string]int)
}
