package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"folderSync/backend/internal/revision"
)

// MemoryStore 进程内实现，测试和单机模式用
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]revision.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]revision.Record)}
}

func (s *MemoryStore) Append(_ context.Context, objectID string, rec revision.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[objectID]
	if n := len(log); n > 0 && log[n-1].RevID >= rec.RevID {
		return fmt.Errorf("%w: %s@%d already stored", revision.ErrOutOfOrder, objectID, rec.RevID)
	}
	s.logs[objectID] = append(log, rec)
	return nil
}

func (s *MemoryStore) Read(_ context.Context, objectID string, rng revision.Range) ([]revision.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[objectID]
	i := sort.Search(len(log), func(i int) bool { return log[i].RevID >= rng.Start })
	var out []revision.Record
	for ; i < len(log) && log[i].RevID <= rng.End; i++ {
		out = append(out, log[i])
	}
	return out, nil
}

func (s *MemoryStore) Latest(_ context.Context, objectID string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[objectID]
	if len(log) == 0 {
		return 0, false, nil
	}
	return log[len(log)-1].RevID, true, nil
}

func (s *MemoryStore) Ack(_ context.Context, objectID string, revID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[objectID]
	for i := range log {
		if log[i].RevID == revID {
			log[i].State = revision.StateAcked
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ReplaceTail(_ context.Context, objectID string, from uint64, recs []revision.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[objectID]
	i := sort.Search(len(log), func(i int) bool { return log[i].RevID >= from })
	out := make([]revision.Record, 0, i+len(recs))
	out = append(out, log[:i]...)
	out = append(out, recs...)
	s.logs[objectID] = out
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, objectID)
	return nil
}
