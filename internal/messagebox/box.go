// Package messagebox implements threaded message storage: ordered thread
// keys, the soft/hard/leaf delete pipeline, URL rewriting and the
// recent-contributor index. A message box is attached to any resource
// (content, discussion, meeting, folder) by a stable string id.
package messagebox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/emitter"
	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/infra/locking"
	"github.com/openacad/activity-service/internal/storage"
)

const (
	// contributorTTL is the sliding window of the recent-contributor index.
	// Per-row, reset on each contribution; entries lapse naturally and are
	// never purged when a principal leaves the resource.
	contributorTTL = 30 * 24 * time.Hour

	// createdLockTTL bounds how long a claimed timestamp slot stays reserved.
	createdLockTTL = 5 * time.Second

	defaultPageSize = 25
)

// CreateOpts carries the optional arguments of CreateMessage.
type CreateOpts struct {
	// ReplyToCreated is the parent message's created timestamp, 0 for a root.
	ReplyToCreated int64
}

// GetOpts carries the optional arguments of GetMessagesFromMessageBox.
type GetOpts struct {
	// ScrubDeleted strips deleted messages down to their skeleton fields.
	// Listings scrub by default.
	ScrubDeleted *bool
}

// Service is the message box. All mutations flow through it; the store is
// never written directly by other packages.
type Service struct {
	store    storage.MessageStore
	locks    *locking.Service
	rewriter *URLRewriter
	emitter  *emitter.Emitter
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store storage.MessageStore, locks *locking.Service, rewriter *URLRewriter, em *emitter.Emitter, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		locks:    locks,
		rewriter: rewriter,
		emitter:  em,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock swaps the clock; tests pin timestamps with it.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateMessage persists a new message. The created timestamp is made unique
// within the parent thread key (or the box, for roots) by a sequence lock:
// on contention the candidate increments by one millisecond and retries.
func (s *Service) CreateMessage(ctx context.Context, boxID, userID, body string, opts CreateOpts) (*model.Message, error) {
	if boxID == "" {
		return nil, errs.Validation("a message box id must be provided")
	}
	if userID == "" {
		return nil, errs.Validation("a principal id must be provided")
	}
	if body == "" {
		return nil, errs.Validation("a message body must be provided")
	}

	nowMillis := s.now().UnixMilli()

	var parentKey string
	if opts.ReplyToCreated != 0 {
		if opts.ReplyToCreated > nowMillis {
			return nil, errs.Validation("the replyTo timestamp cannot be in the future")
		}
		parent, err := s.store.GetMessage(ctx, boxID, opts.ReplyToCreated)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.NotFound("the message to reply to does not exist")
		}
		if err != nil {
			return nil, errs.Internal("could not read the parent message", err)
		}
		parentKey = parent.ThreadKey
	}

	// Timestamp uniqueness is box-wide: the row id is "<boxId>#<created>", so
	// a root and a reply must never share a slot. The claimed slot lock is
	// deliberately left to lapse by TTL; releasing it on return would let the
	// next same-millisecond create reclaim the slot and overwrite this row.
	created, _, err := s.locks.AcquireSequence(ctx, "mbox:"+boxID, nowMillis, createdLockTTL)
	if err != nil {
		return nil, err
	}

	threadKey := RootThreadKey(created)
	if parentKey != "" {
		threadKey = ReplyThreadKey(parentKey, created)
	}

	msg := &model.Message{
		ID:           model.MessageID(boxID, created),
		MessageBoxID: boxID,
		ThreadKey:    threadKey,
		Body:         s.rewriter.Rewrite(body),
		CreatedBy:    userID,
		Created:      created,
		Level:        Level(threadKey),
		ReplyTo:      ReplyTo(threadKey),
	}

	// Row first, then the index: a dangling index row would resolve to nothing.
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return nil, errs.Internal("could not persist the message", err)
	}
	if err := s.store.PutThreadIndex(ctx, boxID, threadKey, created); err != nil {
		return nil, errs.Internal("could not index the message", err)
	}

	// Contributor upkeep is best effort and off the request path.
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.TouchContributor(bg, boxID, userID, created, contributorTTL); err != nil {
			s.logger.Warn("contributor touch failed", "box_id", boxID, "principal_id", userID, "err", err)
		}
	}()

	s.emitter.Emit(ctx, emitter.EventMessageCreated, msg)
	return msg, nil
}

// UpdateMessageBody rewrites URLs and updates the body only; threadKey and
// created are immutable.
func (s *Service) UpdateMessageBody(ctx context.Context, boxID string, created int64, newBody string) error {
	if newBody == "" {
		return errs.Validation("a message body must be provided")
	}
	msg, err := s.store.GetMessage(ctx, boxID, created)
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound("the message does not exist")
	}
	if err != nil {
		return errs.Internal("could not read the message", err)
	}

	rewritten := s.rewriter.Rewrite(newBody)
	if err := s.store.UpdateBody(ctx, boxID, created, rewritten); err != nil {
		return errs.Internal("could not update the message body", err)
	}

	// Listeners see exactly what was persisted.
	msg.Body = rewritten
	s.emitter.Emit(ctx, emitter.EventMessageUpdated, msg)
	return nil
}

// GetMessagesFromMessageBox pages the thread index in reverse lexicographic
// order and resolves each entry to its message row.
func (s *Service) GetMessagesFromMessageBox(ctx context.Context, boxID, start string, limit int, opts GetOpts) ([]*model.Message, string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	scrub := true
	if opts.ScrubDeleted != nil {
		scrub = *opts.ScrubDeleted
	}

	entries, next, err := s.store.ListThreadKeys(ctx, boxID, start, limit)
	if err != nil {
		return nil, "", errs.Internal("could not page the thread index", err)
	}

	msgs := make([]*model.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := s.store.GetMessage(ctx, boxID, e.Created)
		if errors.Is(err, storage.ErrNotFound) {
			// Index row outlived its message; skip rather than stall the page.
			continue
		}
		if err != nil {
			return nil, "", errs.Internal("could not resolve an indexed message", err)
		}
		if msg.IsDeleted() && scrub {
			msg = msg.Scrub()
		}
		msgs = append(msgs, msg)
	}
	return msgs, next, nil
}

// DeleteMessage applies the requested delete type and returns the type that
// actually occurred. Leaf resolves to hard when the message has no
// descendants and soft otherwise.
func (s *Service) DeleteMessage(ctx context.Context, boxID string, created int64, deleteType model.DeleteType) (model.DeleteType, *model.Message, error) {
	msg, err := s.store.GetMessage(ctx, boxID, created)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil, errs.NotFound("the message does not exist")
	}
	if err != nil {
		return "", nil, errs.Internal("could not read the message", err)
	}

	actual := deleteType
	if deleteType == model.DeleteLeaf {
		// Read one row past this message's thread key: in reversed order a
		// descendant, if any exists, sorts immediately after its parent.
		after, _, err := s.store.ListThreadKeys(ctx, boxID, msg.ThreadKey, 1)
		if err != nil {
			return "", nil, errs.Internal("could not inspect the thread", err)
		}
		if len(after) > 0 && IsDescendant(msg.ThreadKey, after[0].ThreadKey) {
			actual = model.DeleteSoft
		} else {
			actual = model.DeleteHard
		}
	}

	switch actual {
	case model.DeleteSoft:
		if err := s.softDelete(ctx, msg); err != nil {
			return "", nil, err
		}
		out, err := s.store.GetMessage(ctx, boxID, created)
		if err != nil {
			return "", nil, errs.Internal("could not re-read the message", err)
		}
		s.emitter.Emit(ctx, emitter.EventMessageDeleted, boxID, created, actual)
		return actual, out.Scrub(), nil

	case model.DeleteHard:
		// Tombstone first, then drop the index, then scrub the row. The body
		// is retained for recovery but no longer reachable through listings.
		if err := s.store.PutDeletedIndex(ctx, boxID, created); err != nil {
			return "", nil, errs.Internal("could not tombstone the message", err)
		}
		if err := s.store.DeleteThreadIndex(ctx, boxID, msg.ThreadKey); err != nil {
			return "", nil, errs.Internal("could not unlink the message", err)
		}
		if err := s.softDelete(ctx, msg); err != nil {
			return "", nil, err
		}
		s.emitter.Emit(ctx, emitter.EventMessageDeleted, boxID, created, actual)
		return actual, nil, nil

	default:
		return "", nil, errs.Validation("unknown delete type %q", deleteType)
	}
}

func (s *Service) softDelete(ctx context.Context, msg *model.Message) error {
	deletedAt := msg.Deleted
	if deletedAt == 0 {
		deletedAt = s.now().UnixMilli()
	}
	if err := s.store.MarkDeleted(ctx, msg.MessageBoxID, msg.Created, deletedAt); err != nil {
		return errs.Internal("could not mark the message deleted", err)
	}
	return nil
}

// GetRecentContributions lists principals that contributed to the box within
// the sliding contributor window, most recent first.
func (s *Service) GetRecentContributions(ctx context.Context, boxID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	ids, err := s.store.RecentContributors(ctx, boxID, limit)
	if err != nil {
		return nil, errs.Internal("could not read recent contributors", err)
	}
	return ids, nil
}
