package cassandra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type StreamStore struct {
	session *gocql.Session
}

func NewStreamStore(session *gocql.Session) *StreamStore {
	return &StreamStore{session: session}
}

func (s *StreamStore) PutEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, entry *model.StreamEntry, ttl time.Duration) error {
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cassandra: marshal stream entry: %w", err)
	}
	return s.session.Query(
		`INSERT INTO "ActivityStreams" ("recipientId", "streamType", "format", "activityId", "published", "entry")
		 VALUES (?, ?, ?, ?, ?, ?) USING TTL ?`,
		recipientID, string(stream), string(format), entry.ActivityID, entry.Published, string(blob), int(ttl.Seconds()),
	).WithContext(ctx).Exec()
}

func (s *StreamStore) GetEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, activityID string) (*model.StreamEntry, error) {
	var blob string
	err := s.session.Query(
		`SELECT "entry" FROM "ActivityStreams"
		 WHERE "recipientId" = ? AND "streamType" = ? AND "format" = ? AND "activityId" = ?`,
		recipientID, string(stream), string(format), activityID,
	).WithContext(ctx).Scan(&blob)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cassandra: get stream entry: %w", err)
	}

	entry := new(model.StreamEntry)
	if err := json.Unmarshal([]byte(blob), entry); err != nil {
		return nil, fmt.Errorf("cassandra: decode stream entry: %w", err)
	}
	return entry, nil
}

func (s *StreamStore) ListEntries(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, limit int) ([]*model.StreamEntry, error) {
	iter := s.session.Query(
		`SELECT "entry" FROM "ActivityStreams"
		 WHERE "recipientId" = ? AND "streamType" = ? AND "format" = ?`,
		recipientID, string(stream), string(format),
	).WithContext(ctx).Iter()

	var (
		entries []*model.StreamEntry
		blob    string
	)
	for iter.Scan(&blob) {
		entry := new(model.StreamEntry)
		if err := json.Unmarshal([]byte(blob), entry); err != nil {
			return nil, fmt.Errorf("cassandra: decode stream entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: list stream entries: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Published > entries[j].Published })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *StreamStore) DeleteEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, activityID string) error {
	return s.session.Query(
		`DELETE FROM "ActivityStreams"
		 WHERE "recipientId" = ? AND "streamType" = ? AND "format" = ? AND "activityId" = ?`,
		recipientID, string(stream), string(format), activityID,
	).WithContext(ctx).Exec()
}
