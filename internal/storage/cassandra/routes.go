package cassandra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type RouteStore struct {
	session *gocql.Session
	// counter breaks same-nanosecond ties in the sequence column.
	counter atomic.Int64
}

func NewRouteStore(session *gocql.Session) *RouteStore {
	return &RouteStore{session: session}
}

func (s *RouteStore) Append(ctx context.Context, bucket int, seed *model.RoutedSeed) error {
	blob, err := json.Marshal(seed)
	if err != nil {
		return fmt.Errorf("cassandra: marshal routed seed: %w", err)
	}
	seq := time.Now().UnixNano() + s.counter.Add(1)%1000
	return s.session.Query(
		`INSERT INTO "ActivityRoutePending" ("bucket", "seq", "seed") VALUES (?, ?, ?)`,
		bucket, seq, string(blob),
	).WithContext(ctx).Exec()
}

func (s *RouteStore) ReadBatch(ctx context.Context, bucket int, limit int) ([]storage.PendingEntry, error) {
	iter := s.session.Query(
		`SELECT "seq", "seed" FROM "ActivityRoutePending" WHERE "bucket" = ? ORDER BY "seq" ASC LIMIT ?`,
		bucket, limit,
	).WithContext(ctx).Iter()

	var (
		entries []storage.PendingEntry
		seq     int64
		blob    string
	)
	for iter.Scan(&seq, &blob) {
		seed := new(model.RoutedSeed)
		if err := json.Unmarshal([]byte(blob), seed); err != nil {
			return nil, fmt.Errorf("cassandra: decode routed seed: %w", err)
		}
		entries = append(entries, storage.PendingEntry{Seq: seq, Seed: seed})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: read pending bucket %d: %w", bucket, err)
	}
	return entries, nil
}

func (s *RouteStore) Remove(ctx context.Context, bucket int, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, seq := range seqs {
		batch.Query(`DELETE FROM "ActivityRoutePending" WHERE "bucket" = ? AND "seq" = ?`, bucket, seq)
	}
	return s.session.ExecuteBatch(batch)
}
