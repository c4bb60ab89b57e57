package activity

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openacad/activity-service/internal/activity/aggregator"
	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/activity/router"
	"github.com/openacad/activity-service/internal/adapter/pubsub"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/emitter"
	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/infra/kv"
	"github.com/openacad/activity-service/internal/storage/memory"
)

type staticResolver struct{}

func (staticResolver) TenantOf(context.Context, string) (string, error)        { return "acme", nil }
func (staticResolver) TenantsInteract(context.Context, string, string) (bool, error) {
	return true, nil
}
func (staticResolver) IsMember(context.Context, string, string) (bool, error) { return true, nil }

type serviceFixture struct {
	svc    *Service
	em     *emitter.Emitter
	routes *memory.RouteStore
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New()
	reg.RegisterObjectType("user", registry.ObjectTypeSpec{
		Producer: func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ObjectType: "user", ID: res.ResourceID}, nil
		},
	})
	reg.RegisterObjectType("message", registry.ObjectTypeSpec{
		Producer: func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ObjectType: "message", ID: res.ResourceID}, nil
		},
		Associations: map[string]registry.Association{
			"self": func(_ context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
				return []string{entity.ID}, nil
			},
		},
	})
	reg.RegisterObjectType("group", registry.ObjectTypeSpec{
		Producer: func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ObjectType: "group", ID: res.ResourceID}, nil
		},
		Associations: map[string]registry.Association{
			"self": func(_ context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
				return []string{entity.ID}, nil
			},
		},
	})
	reg.RegisterActivityType("message:created", registry.ActivityTypeSpec{
		Streams: map[model.StreamType]registry.StreamSpec{
			model.StreamActivity: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"self"},
			},
		},
	})
	reg.RegisterActivityType("invitation:accept", registry.ActivityTypeSpec{
		Streams: map[model.StreamType]registry.StreamSpec{
			model.StreamActivity: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"self"},
			},
		},
	})

	routeStore := memory.NewRouteStore()
	provider := pubsub.NewProvider("", 1, logger)
	publisher, err := provider.BuildPublisher()
	require.NoError(t, err)
	dispatcher := pubsub.NewDispatcher(publisher, routeStore)

	rt := router.New(reg, staticResolver{}, dispatcher, 5, logger)
	agg := aggregator.New(memory.NewStreamStore(), kv.NewMemory(), reg, aggregator.Config{
		IdleExpiry: time.Hour,
		MaxExpiry:  24 * time.Hour,
		EntryTTL:   time.Hour,
	}, logger)

	em := emitter.New()
	svc := NewService(rt, agg, em, logger)
	RegisterEventBridges(em, svc, dispatcher, logger)

	return &serviceFixture{svc: svc, em: em, routes: routeStore}
}

func TestMessageCreatedBridgePostsActivity(t *testing.T) {
	f := newServiceFixture(t)

	f.em.Emit(context.Background(), emitter.EventMessageCreated, &model.Message{
		ID:           "b#1000",
		MessageBoxID: "b",
		CreatedBy:    "u:alice",
		Created:      1000,
		Body:         "hello",
	})

	bucket := router.Bucket("b#1000", 5)
	pending, err := f.routes.ReadBatch(context.Background(), bucket, 100)
	require.NoError(t, err)
	require.Len(t, pending, 2) // one route per delivery format
	assert.Equal(t, "b#1000", pending[0].Seed.Route.RecipientID)
	assert.Equal(t, "message:created", pending[0].Seed.Seed.ActivityType)
}

func TestAcceptReplayPostsJoinActivity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.em.Emit(ctx, emitter.EventInvitationAcceptedRemote,
		[]string{"tok"},
		map[string]*model.MemberChangeInfo{
			"g:staff": {
				ResourceID:   "g:staff",
				ResourceType: "group",
				Changes:      map[string]string{"u:mira": "member"},
			},
			"g:old": {
				ResourceID:   "g:old",
				ResourceType: "group",
				Changes:      map[string]string{"u:mira": "false"},
			},
		},
		map[string]string{"u:admin": "u:admin"})

	pending, err := f.routes.ReadBatch(ctx, router.Bucket("g:staff", 5), 100)
	require.NoError(t, err)
	require.Len(t, pending, 2) // one route per delivery format
	assert.Equal(t, "invitation:accept", pending[0].Seed.Seed.ActivityType)
	assert.Equal(t, "u:mira", pending[0].Seed.Seed.Actor.ResourceID)
	assert.Equal(t, "g:staff", pending[0].Seed.Route.RecipientID)

	// A revoke never announces a join.
	for bucket := 0; bucket < 5; bucket++ {
		routes, err := f.routes.ReadBatch(ctx, bucket, 100)
		require.NoError(t, err)
		for _, r := range routes {
			assert.NotEqual(t, "g:old", r.Seed.Route.RecipientID)
		}
	}
}

func TestAcknowledgeResetsAndEmits(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var acked []any
	f.em.On(emitter.EventStreamAcknowledged, func(_ context.Context, args ...any) {
		acked = args
	})

	require.NoError(t, f.svc.Acknowledge(ctx, "u:mira", model.StreamActivity))
	require.Len(t, acked, 2)
	assert.Equal(t, "u:mira", acked[0])
	assert.Equal(t, model.StreamActivity, acked[1])

	n, err := f.svc.NewActivityCount(ctx, "u:mira", model.StreamActivity)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAcknowledgeValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	err := f.svc.Acknowledge(ctx, "", model.StreamActivity)
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	err = f.svc.Acknowledge(ctx, "u:mira", "bogus")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestCoreAssociations(t *testing.T) {
	dir := staticDirectory{members: []string{"u:a", "u:b"}, managers: []string{"u:m"}}
	assocs := CoreAssociations(dir, nil)
	entity := &model.PersistentActivityEntity{ObjectType: "group", ID: "g:staff"}
	ctx := context.Background()

	self, err := assocs["self"](ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, []string{"g:staff"}, self)

	members, err := assocs["members"](ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, []string{"u:a", "u:b"}, members)

	managers, err := assocs["managers"](ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, []string{"u:m"}, managers)

	tas, err := MembersByRole(dir, "ta")(ctx, entity)
	require.NoError(t, err)
	assert.Equal(t, []string{"ta:g:staff"}, tas)
}

type staticDirectory struct {
	members  []string
	managers []string
}

func (d staticDirectory) Members(context.Context, string) ([]string, error)  { return d.members, nil }
func (d staticDirectory) Managers(context.Context, string) ([]string, error) { return d.managers, nil }
func (d staticDirectory) MembersByRole(_ context.Context, resourceID, role string) ([]string, error) {
	return []string{role + ":" + resourceID}, nil
}
