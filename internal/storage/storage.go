// Package storage defines the persistence contracts of the service. The
// cassandra subpackage implements them on the column-family datastore; the
// memory subpackage backs unit tests and single-node development.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/openacad/activity-service/internal/domain/model"
)

// ErrNotFound is returned when a referenced row is absent.
var ErrNotFound = errors.New("storage: not found")

// ThreadIndexEntry is one row of the MessageBoxMessages index.
type ThreadIndexEntry struct {
	ThreadKey string
	Created   int64
}

// MessageStore persists messages, their thread-key index, the deleted-message
// tombstones and the recent-contributor index.
type MessageStore interface {
	PutMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, boxID string, created int64) (*model.Message, error)
	UpdateBody(ctx context.Context, boxID string, created int64, body string) error
	// MarkDeleted sets the soft-delete timestamp on the message row.
	MarkDeleted(ctx context.Context, boxID string, created int64, deletedAt int64) error

	PutThreadIndex(ctx context.Context, boxID, threadKey string, created int64) error
	DeleteThreadIndex(ctx context.Context, boxID, threadKey string) error
	// ListThreadKeys pages the thread index in reverse lexicographic order.
	// start is exclusive ("" starts at the top); next is the token for the
	// following page ("" when exhausted).
	ListThreadKeys(ctx context.Context, boxID, start string, limit int) (entries []ThreadIndexEntry, next string, err error)

	// PutDeletedIndex records a hard-delete tombstone.
	PutDeletedIndex(ctx context.Context, boxID string, created int64) error

	// TouchContributor upserts the recent-contributor row with a sliding TTL.
	TouchContributor(ctx context.Context, boxID, principalID string, ts int64, ttl time.Duration) error
	// RecentContributors lists contributor ids, most recent first.
	RecentContributors(ctx context.Context, boxID string, limit int) ([]string, error)
}

// StreamStore persists aggregated stream entries keyed by
// (recipientId, streamType, format, activityId) with a TTL.
type StreamStore interface {
	PutEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, entry *model.StreamEntry, ttl time.Duration) error
	GetEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, activityID string) (*model.StreamEntry, error)
	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, limit int) ([]*model.StreamEntry, error)
	DeleteEntry(ctx context.Context, recipientID string, stream model.StreamType, format model.Format, activityID string) error
}

// InvitationStore persists pending invitations keyed (email, resourceId) with
// a token secondary index.
type InvitationStore interface {
	// Put upserts the invitation and its token index row.
	Put(ctx context.Context, inv *model.Invitation) error
	Get(ctx context.Context, email, resourceID string) (*model.Invitation, error)
	// GetByToken resolves every invitation sharing the token.
	GetByToken(ctx context.Context, token string) ([]*model.Invitation, error)
	// DeleteBatch removes the invitations and their token index rows together.
	DeleteBatch(ctx context.Context, invs []*model.Invitation) error
}

// PendingEntry is one queued routed seed awaiting collection.
type PendingEntry struct {
	Seq  int64
	Seed *model.RoutedSeed
}

// RouteStore holds the per-bucket pending queues drained by collection cycles.
type RouteStore interface {
	Append(ctx context.Context, bucket int, seed *model.RoutedSeed) error
	// ReadBatch returns up to limit entries in append order.
	ReadBatch(ctx context.Context, bucket int, limit int) ([]PendingEntry, error)
	// Remove acknowledges drained entries by sequence.
	Remove(ctx context.Context, bucket int, seqs []int64) error
}
