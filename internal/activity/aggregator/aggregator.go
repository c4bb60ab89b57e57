// Package aggregator merges routed activities into per-recipient stream
// entries. Repeated semantically-equivalent activities within the idle
// window collapse into one entry whose role entities grow into ordered,
// de-duplicated collections.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/infra/kv"
	"github.com/openacad/activity-service/internal/storage"
)

type Config struct {
	// IdleExpiry bounds how long an aggregate accepts merges after its last one.
	IdleExpiry time.Duration
	// MaxExpiry bounds the total lifetime of an aggregate.
	MaxExpiry time.Duration
	// EntryTTL is the retention of materialized stream entries.
	EntryTTL time.Duration
}

// Delivery is one materialized entry bound for a recipient's stream, handed
// to push and to the notification/email producers after a batch.
type Delivery struct {
	Route model.Route
	Entry *model.StreamEntry
	// NumNew is the recipient's unacknowledged-aggregate count for the
	// stream at materialization time.
	NumNew int
}

// pointer is the aggregate head stored in the KV store per
// (recipient, stream, generation, grouping key).
type pointer struct {
	ActivityID  string `json:"activityId"`
	FirstSeen   int64  `json:"firstSeen"`
	LastUpdated int64  `json:"lastUpdated"`
}

type Aggregator struct {
	streams  storage.StreamStore
	kv       kv.Store
	registry *registry.Registry
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(streams storage.StreamStore, store kv.Store, reg *registry.Registry, cfg Config, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		streams:  streams,
		kv:       store,
		registry: reg,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// batchItem is a routed seed collapsed across its delivery formats, so one
// activity mutates one aggregate regardless of how many formats persist it.
type batchItem struct {
	recipientID string
	streamType  model.StreamType
	transient   bool
	formats     []model.Format
	seed        *model.ActivitySeed
	entities    map[model.Role]*model.PersistentActivityEntity
}

// Process applies a drained bucket batch. A single bad entry is logged and
// skipped; it must not stall the rest of the batch.
func (a *Aggregator) Process(ctx context.Context, seeds []*model.RoutedSeed) []Delivery {
	var deliveries []Delivery
	for _, item := range collapseFormats(seeds) {
		out, err := a.processItem(ctx, item)
		if err != nil {
			a.logger.Error("aggregation failed for one entry",
				"recipient_id", item.recipientID,
				"stream", item.streamType,
				"activity_type", item.seed.ActivityType,
				"err", err)
			continue
		}
		deliveries = append(deliveries, out...)
	}
	return deliveries
}

func collapseFormats(seeds []*model.RoutedSeed) []*batchItem {
	var order []string
	items := make(map[string]*batchItem)

	for _, rs := range seeds {
		if rs == nil || rs.Seed == nil {
			continue
		}
		sig := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s",
			rs.Route.RecipientID, rs.Route.StreamType,
			rs.Seed.ActivityType, rs.Seed.Published,
			rs.EntityID(model.RoleActor), rs.EntityID(model.RoleObject), rs.EntityID(model.RoleTarget))

		item, ok := items[sig]
		if !ok {
			item = &batchItem{
				recipientID: rs.Route.RecipientID,
				streamType:  rs.Route.StreamType,
				transient:   rs.Route.Transient,
				seed:        rs.Seed,
				entities:    rs.Entities,
			}
			items[sig] = item
			order = append(order, sig)
		}
		item.formats = append(item.formats, rs.Route.Format)
	}

	out := make([]*batchItem, 0, len(order))
	for _, sig := range order {
		out = append(out, items[sig])
	}
	return out
}

func (a *Aggregator) processItem(ctx context.Context, item *batchItem) ([]Delivery, error) {
	var deliveries []Delivery

	nowMillis := a.now().UnixMilli()
	tuples := a.registry.GroupByTuples(item.seed.ActivityType)

	// Each tuple independently mutates its own aggregate; each freshly
	// created aggregate is its own deliverable unit for the new-counter.
	for _, tuple := range tuples {
		key := model.GroupingKey(item.seed.ActivityType, tuple,
			entityID(item.entities, model.RoleActor),
			entityID(item.entities, model.RoleObject),
			entityID(item.entities, model.RoleTarget))

		gen, err := a.generation(ctx, item.recipientID, item.streamType)
		if err != nil {
			return nil, err
		}
		ptrKey := a.pointerKey(item.recipientID, item.streamType, gen, key)

		ptr, found, err := a.loadPointer(ctx, ptrKey)
		if err != nil {
			return nil, err
		}

		fresh := found &&
			nowMillis-ptr.LastUpdated <= a.cfg.IdleExpiry.Milliseconds() &&
			nowMillis-ptr.FirstSeen <= a.cfg.MaxExpiry.Milliseconds()

		var entry *model.StreamEntry
		if fresh {
			entry, err = a.merge(ctx, item, tuple, ptr)
			if err != nil {
				return nil, err
			}
		}
		if entry == nil {
			// Expired or absent: a new aggregate starts at one.
			entry = a.fresh(item)
			ptr = &pointer{ActivityID: entry.ActivityID, FirstSeen: nowMillis}
			if err := a.bumpNewCounter(ctx, item.recipientID, item.streamType); err != nil {
				return nil, err
			}
		}

		if !item.transient {
			for _, format := range item.formats {
				if err := a.streams.PutEntry(ctx, item.recipientID, item.streamType, format, entry, a.cfg.EntryTTL); err != nil {
					return nil, err
				}
			}
		}

		ptr.LastUpdated = nowMillis
		if err := a.savePointer(ctx, ptrKey, ptr); err != nil {
			return nil, err
		}

		numNew, err := a.NewActivityCount(ctx, item.recipientID, item.streamType)
		if err != nil {
			return nil, err
		}
		for _, format := range item.formats {
			deliveries = append(deliveries, Delivery{
				Route: model.Route{
					RecipientID: item.recipientID,
					StreamType:  item.streamType,
					Format:      format,
					Transient:   item.transient,
				},
				Entry:  entry,
				NumNew: numNew,
			})
		}
	}
	return deliveries, nil
}

// merge folds the item into the existing aggregate's entry. Returns nil when
// the stored entry already lapsed (TTL beat the pointer).
func (a *Aggregator) merge(ctx context.Context, item *batchItem, tuple model.GroupByTuple, ptr *pointer) (*model.StreamEntry, error) {
	format := item.formats[0]
	entry, err := a.streams.GetEntry(ctx, item.recipientID, item.streamType, format, ptr.ActivityID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Non-keyed roles union into the collection; keyed roles are identical
	// by construction of the grouping key. The already-stored entity wins
	// on a published tie, which Union guarantees by insertion order.
	if !tuple.Actor {
		unionRole(&entry.Actor, item.entities[model.RoleActor])
	}
	if !tuple.Object {
		unionRole(&entry.Object, item.entities[model.RoleObject])
	}
	if !tuple.Target {
		unionRole(&entry.Target, item.entities[model.RoleTarget])
	}
	if item.seed.Published > entry.Published {
		entry.Published = item.seed.Published
	}
	// The activity collapsed: NumNewActivities does not increment.
	return entry, nil
}

func (a *Aggregator) fresh(item *batchItem) *model.StreamEntry {
	return &model.StreamEntry{
		ActivityID:       uuid.NewString(),
		ActivityType:     item.seed.ActivityType,
		Verb:             item.seed.Verb,
		Published:        item.seed.Published,
		Actor:            model.NewEntityBundle(item.entities[model.RoleActor]),
		Object:           model.NewEntityBundle(item.entities[model.RoleObject]),
		Target:           model.NewEntityBundle(item.entities[model.RoleTarget]),
		NumNewActivities: 1,
	}
}

// ResetAggregation handles a recipient's acknowledgment: the generation bump
// orphans every live pointer (they lapse by TTL) so the next matching
// activity starts a new aggregate, and the new-counter restarts at zero.
func (a *Aggregator) ResetAggregation(ctx context.Context, recipientID string, stream model.StreamType) error {
	gen, err := a.generation(ctx, recipientID, stream)
	if err != nil {
		return err
	}
	if err := a.kv.Set(ctx, a.genKey(recipientID, stream), strconv.FormatInt(gen+1, 10), 0); err != nil {
		return err
	}
	return a.kv.Set(ctx, a.newKey(recipientID, stream), "0", 0)
}

// NewActivityCount is the number of distinct aggregates created since the
// recipient last acknowledged the stream.
func (a *Aggregator) NewActivityCount(ctx context.Context, recipientID string, stream model.StreamType) (int, error) {
	val, err := a.kv.Get(ctx, a.newKey(recipientID, stream))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("aggregator: corrupt new-counter for %s/%s: %w", recipientID, stream, err)
	}
	return n, nil
}

// bumpNewCounter is safe without CAS: a recipient always hashes to the same
// bucket, and bucket cycles are serialized by the collection lock.
func (a *Aggregator) bumpNewCounter(ctx context.Context, recipientID string, stream model.StreamType) error {
	n, err := a.NewActivityCount(ctx, recipientID, stream)
	if err != nil {
		return err
	}
	return a.kv.Set(ctx, a.newKey(recipientID, stream), strconv.Itoa(n+1), 0)
}

func (a *Aggregator) generation(ctx context.Context, recipientID string, stream model.StreamType) (int64, error) {
	val, err := a.kv.Get(ctx, a.genKey(recipientID, stream))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("aggregator: corrupt generation for %s/%s: %w", recipientID, stream, err)
	}
	return gen, nil
}

func (a *Aggregator) loadPointer(ctx context.Context, key string) (*pointer, bool, error) {
	val, err := a.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ptr := new(pointer)
	if err := json.Unmarshal([]byte(val), ptr); err != nil {
		return nil, false, fmt.Errorf("aggregator: corrupt pointer %s: %w", key, err)
	}
	return ptr, true, nil
}

func (a *Aggregator) savePointer(ctx context.Context, key string, ptr *pointer) error {
	blob, err := json.Marshal(ptr)
	if err != nil {
		return err
	}
	return a.kv.Set(ctx, key, string(blob), a.cfg.MaxExpiry)
}

func (a *Aggregator) genKey(recipientID string, stream model.StreamType) string {
	return fmt.Sprintf("oa:agg:gen:%s:%s", recipientID, stream)
}

func (a *Aggregator) newKey(recipientID string, stream model.StreamType) string {
	return fmt.Sprintf("oa:agg:new:%s:%s", recipientID, stream)
}

func (a *Aggregator) pointerKey(recipientID string, stream model.StreamType, gen int64, groupKey string) string {
	return fmt.Sprintf("oa:agg:ptr:%s:%s:%d:%s", recipientID, stream, gen, groupKey)
}

func unionRole(bundle **model.EntityBundle, entity *model.PersistentActivityEntity) {
	if entity == nil {
		return
	}
	if *bundle == nil {
		*bundle = model.NewEntityBundle(entity)
		return
	}
	(*bundle).Union(entity)
}

func entityID(entities map[model.Role]*model.PersistentActivityEntity, role model.Role) string {
	if e, ok := entities[role]; ok && e != nil {
		return e.ID
	}
	return ""
}
