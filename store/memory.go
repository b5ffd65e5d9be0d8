package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore хранит строки в памяти процесса. Используется для локального запуска и в тестах.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[Key]*Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[Key]*Row)}
}

func (s *MemoryStore) GetRow(_ context.Context, key Key) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	// Возвращаем копию, чтобы избежать гонок данных
	return row.Clone(), nil
}

func (s *MemoryStore) UpsertRow(_ context.Context, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[row.Key()] = row.Clone()
	return nil
}

// ListRows возвращает строки в стабильном порядке: канал, затем ID
func (s *MemoryStore) ListRows(_ context.Context) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Row, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// Len — число строк
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
