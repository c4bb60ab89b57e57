package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type MessageStore struct {
	session *gocql.Session
}

func NewMessageStore(session *gocql.Session) *MessageStore {
	return &MessageStore{session: session}
}

func (s *MessageStore) PutMessage(ctx context.Context, msg *model.Message) error {
	return s.session.Query(
		`INSERT INTO "Messages" ("messageBoxId", "created", "threadKey", "createdBy", "body", "level", "replyTo", "deleted")
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageBoxID, msg.Created, msg.ThreadKey, msg.CreatedBy, msg.Body, msg.Level, msg.ReplyTo, msg.Deleted,
	).WithContext(ctx).Exec()
}

func (s *MessageStore) GetMessage(ctx context.Context, boxID string, created int64) (*model.Message, error) {
	msg := &model.Message{MessageBoxID: boxID, Created: created}
	err := s.session.Query(
		`SELECT "threadKey", "createdBy", "body", "level", "replyTo", "deleted"
		 FROM "Messages" WHERE "messageBoxId" = ? AND "created" = ?`,
		boxID, created,
	).WithContext(ctx).Scan(&msg.ThreadKey, &msg.CreatedBy, &msg.Body, &msg.Level, &msg.ReplyTo, &msg.Deleted)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cassandra: get message %s/%d: %w", boxID, created, err)
	}
	msg.ID = model.MessageID(boxID, created)
	return msg, nil
}

func (s *MessageStore) UpdateBody(ctx context.Context, boxID string, created int64, body string) error {
	return s.session.Query(
		`UPDATE "Messages" SET "body" = ? WHERE "messageBoxId" = ? AND "created" = ?`,
		body, boxID, created,
	).WithContext(ctx).Exec()
}

func (s *MessageStore) MarkDeleted(ctx context.Context, boxID string, created int64, deletedAt int64) error {
	return s.session.Query(
		`UPDATE "Messages" SET "deleted" = ? WHERE "messageBoxId" = ? AND "created" = ?`,
		deletedAt, boxID, created,
	).WithContext(ctx).Exec()
}

func (s *MessageStore) PutThreadIndex(ctx context.Context, boxID, threadKey string, created int64) error {
	return s.session.Query(
		`INSERT INTO "MessageBoxMessages" ("messageBoxId", "threadKey", "value") VALUES (?, ?, ?)`,
		boxID, threadKey, created,
	).WithContext(ctx).Exec()
}

func (s *MessageStore) DeleteThreadIndex(ctx context.Context, boxID, threadKey string) error {
	return s.session.Query(
		`DELETE FROM "MessageBoxMessages" WHERE "messageBoxId" = ? AND "threadKey" = ?`,
		boxID, threadKey,
	).WithContext(ctx).Exec()
}

func (s *MessageStore) ListThreadKeys(ctx context.Context, boxID, start string, limit int) ([]storage.ThreadIndexEntry, string, error) {
	var (
		iter *gocql.Iter
		stmt string
	)
	// The index clusters ascending; reads are always reversed.
	if start == "" {
		stmt = `SELECT "threadKey", "value" FROM "MessageBoxMessages"
			WHERE "messageBoxId" = ? ORDER BY "threadKey" DESC LIMIT ?`
		iter = s.session.Query(stmt, boxID, limit).WithContext(ctx).Iter()
	} else {
		stmt = `SELECT "threadKey", "value" FROM "MessageBoxMessages"
			WHERE "messageBoxId" = ? AND "threadKey" < ? ORDER BY "threadKey" DESC LIMIT ?`
		iter = s.session.Query(stmt, boxID, start, limit).WithContext(ctx).Iter()
	}

	var (
		entries []storage.ThreadIndexEntry
		key     string
		created int64
	)
	for iter.Scan(&key, &created) {
		entries = append(entries, storage.ThreadIndexEntry{ThreadKey: key, Created: created})
	}
	if err := iter.Close(); err != nil {
		return nil, "", fmt.Errorf("cassandra: list thread keys %s: %w", boxID, err)
	}

	next := ""
	if limit > 0 && len(entries) == limit {
		next = entries[len(entries)-1].ThreadKey
	}
	return entries, next, nil
}

func (s *MessageStore) PutDeletedIndex(ctx context.Context, boxID string, created int64) error {
	return s.session.Query(
		`INSERT INTO "MessageBoxMessagesDeleted" ("messageBoxId", "createdTimestamp", "value") VALUES (?, ?, ?)`,
		boxID, created, model.MessageID(boxID, created),
	).WithContext(ctx).Exec()
}

func (s *MessageStore) TouchContributor(ctx context.Context, boxID, principalID string, ts int64, ttl time.Duration) error {
	return s.session.Query(
		`INSERT INTO "MessageBoxRecentContributions" ("messageBoxId", "contributorId", "value") VALUES (?, ?, ?) USING TTL ?`,
		boxID, principalID, ts, int(ttl.Seconds()),
	).WithContext(ctx).Exec()
}

func (s *MessageStore) RecentContributors(ctx context.Context, boxID string, limit int) ([]string, error) {
	iter := s.session.Query(
		`SELECT "contributorId", "value" FROM "MessageBoxRecentContributions" WHERE "messageBoxId" = ?`,
		boxID,
	).WithContext(ctx).Iter()

	type pair struct {
		id string
		ts int64
	}
	var (
		rows []pair
		id   string
		ts   int64
	)
	for iter.Scan(&id, &ts) {
		rows = append(rows, pair{id, ts})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: recent contributors %s: %w", boxID, err)
	}

	// Most recent contribution first.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].ts > rows[j-1].ts; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}
