package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type streamRow struct {
	entry     *model.StreamEntry
	expiresAt time.Time
}

type StreamStore struct {
	mu   sync.RWMutex
	rows map[string]streamRow // key: recipient#stream#format#activityId
	now  func() time.Time
}

func NewStreamStore() *StreamStore {
	return NewStreamStoreWithClock(time.Now)
}

func NewStreamStoreWithClock(now func() time.Time) *StreamStore {
	return &StreamStore{rows: make(map[string]streamRow), now: now}
}

func streamKey(recipientID string, stream model.StreamType, format model.Format, activityID string) string {
	return fmt.Sprintf("%s#%s#%s#%s", recipientID, stream, format, activityID)
}

func streamPrefix(recipientID string, stream model.StreamType, format model.Format) string {
	return fmt.Sprintf("%s#%s#%s#", recipientID, stream, format)
}

func (s *StreamStore) PutEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, entry *model.StreamEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.rows[streamKey(recipientID, stream, format, entry.ActivityID)] = streamRow{
		entry:     &cp,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *StreamStore) GetEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, activityID string) (*model.StreamEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[streamKey(recipientID, stream, format, activityID)]
	if !ok || s.now().After(row.expiresAt) {
		return nil, storage.ErrNotFound
	}
	cp := *row.entry
	return &cp, nil
}

func (s *StreamStore) ListEntries(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, limit int) ([]*model.StreamEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := streamPrefix(recipientID, stream, format)
	now := s.now()
	var entries []*model.StreamEntry
	for key, row := range s.rows {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix || now.After(row.expiresAt) {
			continue
		}
		cp := *row.entry
		entries = append(entries, &cp)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Published > entries[j].Published })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *StreamStore) DeleteEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, activityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, streamKey(recipientID, stream, format, activityID))
	return nil
}
