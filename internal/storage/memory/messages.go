// Package memory implements the storage contracts on process-local maps.
// It backs unit tests and single-node development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type contributorRow struct {
	ts        int64
	expiresAt time.Time
}

type MessageStore struct {
	mu sync.RWMutex
	// messages: boxID -> created -> row
	messages map[string]map[int64]*model.Message
	// threadIndex: boxID -> threadKey -> created
	threadIndex map[string]map[string]int64
	// deletedIndex: boxID -> created -> true
	deletedIndex map[string]map[int64]bool
	// contributors: boxID -> principalID -> row
	contributors map[string]map[string]contributorRow

	now func() time.Time
}

func NewMessageStore() *MessageStore {
	return NewMessageStoreWithClock(time.Now)
}

func NewMessageStoreWithClock(now func() time.Time) *MessageStore {
	return &MessageStore{
		messages:     make(map[string]map[int64]*model.Message),
		threadIndex:  make(map[string]map[string]int64),
		deletedIndex: make(map[string]map[int64]bool),
		contributors: make(map[string]map[string]contributorRow),
		now:          now,
	}
}

func (s *MessageStore) PutMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.messages[msg.MessageBoxID]
	if !ok {
		box = make(map[int64]*model.Message)
		s.messages[msg.MessageBoxID] = box
	}
	cp := *msg
	box[msg.Created] = &cp
	return nil
}

func (s *MessageStore) GetMessage(ctx context.Context, boxID string, created int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if msg, ok := s.messages[boxID][created]; ok {
		cp := *msg
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (s *MessageStore) UpdateBody(ctx context.Context, boxID string, created int64, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[boxID][created]
	if !ok {
		return storage.ErrNotFound
	}
	msg.Body = body
	return nil
}

func (s *MessageStore) MarkDeleted(ctx context.Context, boxID string, created int64, deletedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[boxID][created]
	if !ok {
		return storage.ErrNotFound
	}
	msg.Deleted = deletedAt
	return nil
}

func (s *MessageStore) PutThreadIndex(ctx context.Context, boxID, threadKey string, created int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.threadIndex[boxID]
	if !ok {
		idx = make(map[string]int64)
		s.threadIndex[boxID] = idx
	}
	idx[threadKey] = created
	return nil
}

func (s *MessageStore) DeleteThreadIndex(ctx context.Context, boxID, threadKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threadIndex[boxID], threadKey)
	return nil
}

func (s *MessageStore) ListThreadKeys(ctx context.Context, boxID, start string, limit int) ([]storage.ThreadIndexEntry, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.threadIndex[boxID]))
	for k := range s.threadIndex[boxID] {
		keys = append(keys, k)
	}
	// Reads are always reversed: descending key order.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	entries := make([]storage.ThreadIndexEntry, 0, limit)
	for _, k := range keys {
		if start != "" && k >= start {
			continue
		}
		entries = append(entries, storage.ThreadIndexEntry{ThreadKey: k, Created: s.threadIndex[boxID][k]})
		if limit > 0 && len(entries) == limit {
			break
		}
	}

	next := ""
	if limit > 0 && len(entries) == limit {
		last := entries[len(entries)-1].ThreadKey
		for _, k := range keys {
			if k < last {
				next = last
				break
			}
		}
	}
	return entries, next, nil
}

func (s *MessageStore) PutDeletedIndex(ctx context.Context, boxID string, created int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.deletedIndex[boxID]
	if !ok {
		idx = make(map[int64]bool)
		s.deletedIndex[boxID] = idx
	}
	idx[created] = true
	return nil
}

func (s *MessageStore) TouchContributor(ctx context.Context, boxID, principalID string, ts int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.contributors[boxID]
	if !ok {
		rows = make(map[string]contributorRow)
		s.contributors[boxID] = rows
	}
	rows[principalID] = contributorRow{ts: ts, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MessageStore) RecentContributors(ctx context.Context, boxID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	type pair struct {
		id string
		ts int64
	}
	var live []pair
	for id, row := range s.contributors[boxID] {
		if now.After(row.expiresAt) {
			continue // lapsed naturally; never purged on member removal
		}
		live = append(live, pair{id, row.ts})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ts > live[j].ts })

	ids := make([]string, 0, len(live))
	for _, p := range live {
		ids = append(ids, p.id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}
