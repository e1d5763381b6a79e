package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haemilhq/haemilchat/pkg/models"
)

// SnapshotStore persists conversation snapshots by conversation key.
// Saves are best-effort: the chat layer logs and swallows failures so
// local state never blocks on durability.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]models.Message, error)
	Save(ctx context.Context, key string, messages []models.Message) error
	Delete(ctx context.Context, key string) error
}

// EncodeSnapshot serializes a snapshot as a JSON array of messages,
// which is the persistence contract regardless of storage medium.
func EncodeSnapshot(messages []models.Message) ([]byte, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	return json.Marshal(messages)
}

// DecodeSnapshot parses a persisted snapshot, discarding entries that
// fail to decode or have an unusable shape. Partial recovery beats
// losing the whole history to one bad entry.
func DecodeSnapshot(data []byte) ([]models.Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	out := make([]models.Message, 0, len(raw))
	for _, entry := range raw {
		var m models.Message
		if err := json.Unmarshal(entry, &m); err != nil {
			continue
		}
		if !m.Valid() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// MemoryStore is an in-memory SnapshotStore for tests and ephemeral
// sessions. It round-trips through the JSON contract so codec bugs do
// not hide behind shared pointers.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]models.Message, error) {
	s.mu.Lock()
	payload, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return DecodeSnapshot(payload)
}

func (s *MemoryStore) Save(_ context.Context, key string, messages []models.Message) error {
	payload, err := EncodeSnapshot(messages)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}
