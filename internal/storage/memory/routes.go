package memory

import (
	"context"
	"sync"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type RouteStore struct {
	mu      sync.Mutex
	nextSeq int64
	pending map[int][]storage.PendingEntry
}

func NewRouteStore() *RouteStore {
	return &RouteStore{pending: make(map[int][]storage.PendingEntry)}
}

func (s *RouteStore) Append(ctx context.Context, bucket int, seed *model.RoutedSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.pending[bucket] = append(s.pending[bucket], storage.PendingEntry{Seq: s.nextSeq, Seed: seed})
	return nil
}

func (s *RouteStore) ReadBatch(ctx context.Context, bucket int, limit int) ([]storage.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[bucket]
	if limit > 0 && len(queue) > limit {
		queue = queue[:limit]
	}
	out := make([]storage.PendingEntry, len(queue))
	copy(out, queue)
	return out, nil
}

func (s *RouteStore) Remove(ctx context.Context, bucket int, seqs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[int64]bool, len(seqs))
	for _, seq := range seqs {
		drop[seq] = true
	}

	kept := s.pending[bucket][:0]
	for _, e := range s.pending[bucket] {
		if !drop[e.Seq] {
			kept = append(kept, e)
		}
	}
	s.pending[bucket] = kept
	return nil
}
