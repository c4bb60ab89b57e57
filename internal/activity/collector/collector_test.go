package collector

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openacad/activity-service/internal/activity/aggregator"
	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/infra/kv"
	"github.com/openacad/activity-service/internal/infra/locking"
	"github.com/openacad/activity-service/internal/storage/memory"
)

type collectorFixture struct {
	collector *Collector
	routes    *memory.RouteStore
	locks     *locking.Service
	delivered []aggregator.Delivery
	mu        sync.Mutex
}

func newCollectorFixture(t *testing.T) *collectorFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New()
	reg.RegisterActivityType("discussion:created", registry.ActivityTypeSpec{
		GroupBy: []model.GroupByTuple{{Object: true}},
		Streams: map[model.StreamType]registry.StreamSpec{
			model.StreamActivity: {Roles: []model.Role{model.RoleActor}},
		},
	})
	agg := aggregator.New(memory.NewStreamStore(), kv.NewMemory(), reg, aggregator.Config{
		IdleExpiry: time.Hour,
		MaxExpiry:  24 * time.Hour,
		EntryTTL:   time.Hour,
	}, logger)

	f := &collectorFixture{
		routes: memory.NewRouteStore(),
		locks:  locking.NewService(kv.NewMemory()),
	}
	f.collector = New(f.routes, agg, f.locks, DelivererFunc(func(_ context.Context, ds []aggregator.Delivery) {
		f.mu.Lock()
		f.delivered = append(f.delivered, ds...)
		f.mu.Unlock()
	}), Config{
		Buckets:         2,
		BatchSize:       2,
		MaxConcurrent:   2,
		PollingInterval: -1,
		LockTTL:         time.Minute,
	}, logger)
	return f
}

func pendingSeed(recipient, objectID string, bucket int) *model.RoutedSeed {
	return &model.RoutedSeed{
		Route: model.Route{RecipientID: recipient, StreamType: model.StreamActivity, Format: model.FormatInternal},
		Seed: &model.ActivitySeed{
			ActivityType: "discussion:created",
			Verb:         "post",
			Published:    1000,
			Actor:        &model.ActivitySeedResource{ResourceType: "user", ResourceID: "u:alice"},
			Object:       &model.ActivitySeedResource{ResourceType: "discussion", ResourceID: objectID},
		},
		Entities: map[model.Role]*model.PersistentActivityEntity{
			model.RoleActor:  {ObjectType: "user", ID: "u:alice"},
			model.RoleObject: {ObjectType: "discussion", ID: objectID},
		},
		Bucket: bucket,
	}
}

func TestCollectBucketDrainsAndAcks(t *testing.T) {
	f := newCollectorFixture(t)
	ctx := context.Background()

	// Five entries against a batch size of two forces multiple drain passes.
	for i := 0; i < 5; i++ {
		require.NoError(t, f.routes.Append(ctx, 0, pendingSeed("u:mira", "d:42", 0)))
	}

	require.NoError(t, f.collector.CollectBucket(ctx, 0))

	left, err := f.routes.ReadBatch(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, left)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.delivered, 5)
}

func TestCollectBucketSkipsWhenLockHeld(t *testing.T) {
	f := newCollectorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.routes.Append(ctx, 0, pendingSeed("u:mira", "d:42", 0)))

	_, ok, err := f.locks.TryAcquire(ctx, "activity:bucket:0", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.collector.CollectBucket(ctx, 0))

	// Another node holds the cycle; nothing is drained here.
	left, err := f.routes.ReadBatch(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestCollectAllSweepsEveryBucket(t *testing.T) {
	f := newCollectorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.routes.Append(ctx, 0, pendingSeed("u:mira", "d:1", 0)))
	require.NoError(t, f.routes.Append(ctx, 1, pendingSeed("u:noor", "d:2", 1)))

	f.collector.CollectAll(ctx)

	for bucket := 0; bucket < 2; bucket++ {
		left, err := f.routes.ReadBatch(ctx, bucket, 100)
		require.NoError(t, err)
		assert.Empty(t, left, "bucket %d", bucket)
	}
}

func TestRunDisabledByNegativeInterval(t *testing.T) {
	f := newCollectorFixture(t)
	assert.NoError(t, f.collector.Run(context.Background()))
}

func TestCorruptEntryDoesNotBlockAck(t *testing.T) {
	f := newCollectorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.routes.Append(ctx, 0, &model.RoutedSeed{
		Route: model.Route{RecipientID: "u:mira", StreamType: model.StreamActivity, Format: model.FormatInternal},
	}))
	require.NoError(t, f.routes.Append(ctx, 0, pendingSeed("u:mira", "d:42", 0)))

	require.NoError(t, f.collector.CollectBucket(ctx, 0))

	left, err := f.routes.ReadBatch(ctx, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, left)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.delivered, 1)
}
