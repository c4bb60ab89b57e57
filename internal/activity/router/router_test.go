package router

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/errs"
)

type fakeResolver struct {
	tenants  map[string]string
	interact map[[2]string]bool
	members  map[string]map[string]bool
}

func (r *fakeResolver) TenantOf(_ context.Context, principalID string) (string, error) {
	return r.tenants[principalID], nil
}

func (r *fakeResolver) TenantsInteract(_ context.Context, a, b string) (bool, error) {
	return r.interact[[2]string{a, b}] || r.interact[[2]string{b, a}], nil
}

func (r *fakeResolver) IsMember(_ context.Context, principalID, resourceID string) (bool, error) {
	return r.members[resourceID][principalID], nil
}

type captureSink struct {
	mu     sync.Mutex
	routed []*model.RoutedSeed
}

func (s *captureSink) Submit(_ context.Context, seed *model.RoutedSeed) error {
	s.mu.Lock()
	s.routed = append(s.routed, seed)
	s.mu.Unlock()
	return nil
}

type routerFixture struct {
	reg      *registry.Registry
	resolver *fakeResolver
	sink     *captureSink
	router   *Router

	produceCalls map[string]int
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		reg: registry.New(),
		resolver: &fakeResolver{
			tenants:  map[string]string{},
			interact: map[[2]string]bool{},
			members:  map[string]map[string]bool{},
		},
		sink:         &captureSink{},
		produceCalls: map[string]int{},
	}

	f.reg.RegisterObjectType("user", registry.ObjectTypeSpec{
		Producer: f.producer("user"),
	})
	f.reg.RegisterObjectType("discussion", registry.ObjectTypeSpec{
		Producer: f.producer("discussion"),
		Associations: map[string]registry.Association{
			"members": func(_ context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
				var out []string
				for id := range f.resolver.members[entity.ID] {
					out = append(out, id)
				}
				return out, nil
			},
		},
	})
	f.reg.RegisterActivityType("discussion:created", registry.ActivityTypeSpec{
		Streams: map[model.StreamType]registry.StreamSpec{
			model.StreamActivity: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"members"},
			},
		},
	})

	f.router = New(f.reg, f.resolver, f.sink, 5, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *routerFixture) producer(objectType string) registry.Producer {
	return func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
		f.produceCalls[res.ResourceType+":"+res.ResourceID]++
		entity := &model.PersistentActivityEntity{ObjectType: objectType, ID: res.ResourceID}
		if data, ok := res.ResourceData.(*model.PersistentActivityEntity); ok {
			entity = data
		}
		return entity, nil
	}
}

func discussionSeed() *model.ActivitySeed {
	return &model.ActivitySeed{
		ActivityType: "discussion:created",
		Verb:         "post",
		Published:    1000,
		Actor:        &model.ActivitySeedResource{ResourceType: "user", ResourceID: "u:alice"},
		Object:       &model.ActivitySeedResource{ResourceType: "discussion", ResourceID: "d:42"},
	}
}

func TestRouteFansOutToMembersInBothFormats(t *testing.T) {
	f := newRouterFixture(t)
	f.resolver.members["d:42"] = map[string]bool{"u:mira": true, "u:noor": true}

	n, err := f.router.Route(context.Background(), discussionSeed())
	require.NoError(t, err)
	assert.Equal(t, 4, n) // two recipients, two formats each

	byRecipient := map[string][]model.Format{}
	for _, rs := range f.sink.routed {
		byRecipient[rs.Route.RecipientID] = append(byRecipient[rs.Route.RecipientID], rs.Route.Format)
		assert.Equal(t, model.StreamActivity, rs.Route.StreamType)
		assert.Equal(t, Bucket(rs.Route.RecipientID, 5), rs.Bucket)
	}
	assert.Len(t, byRecipient["u:mira"], 2)
	assert.Len(t, byRecipient["u:noor"], 2)
}

func TestRouteValidation(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	_, err := f.router.Route(ctx, nil)
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = f.router.Route(ctx, &model.ActivitySeed{ActivityType: "discussion:created"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	seed := discussionSeed()
	seed.ActivityType = "bogus"
	_, err = f.router.Route(ctx, seed)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestPrivateVisibilityGatesNonMembers(t *testing.T) {
	f := newRouterFixture(t)
	f.resolver.members["d:42"] = map[string]bool{"u:mira": true, "u:stranger": false}

	// The discussion entity is private; u:stranger shows up in the
	// association scan but fails the member gate.
	f.reg.RegisterObjectType("discussion", registry.ObjectTypeSpec{
		Producer: func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{
				ObjectType: "discussion",
				ID:         res.ResourceID,
				Visibility: model.VisibilityPrivate,
			}, nil
		},
		Associations: map[string]registry.Association{
			"members": func(_ context.Context, _ *model.PersistentActivityEntity) ([]string, error) {
				return []string{"u:mira", "u:stranger"}, nil
			},
		},
	})

	_, err := f.router.Route(context.Background(), discussionSeed())
	require.NoError(t, err)

	recipients := map[string]bool{}
	for _, rs := range f.sink.routed {
		recipients[rs.Route.RecipientID] = true
	}
	assert.True(t, recipients["u:mira"])
	assert.False(t, recipients["u:stranger"])
}

func TestTenantGateBlocksForeignTenant(t *testing.T) {
	f := newRouterFixture(t)
	f.resolver.tenants["u:mira"] = "acme"
	f.resolver.tenants["u:ext"] = "other"
	f.resolver.members["d:42"] = map[string]bool{"u:mira": true, "u:ext": true}

	f.reg.RegisterObjectType("discussion", registry.ObjectTypeSpec{
		Producer: func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ObjectType: "discussion", ID: res.ResourceID, TenantAlias: "acme"}, nil
		},
		Propagation: func(_ context.Context, _ *model.PersistentActivityEntity) ([]registry.PropagationRule, error) {
			return []registry.PropagationRule{{Kind: registry.PropagationTenant}}, nil
		},
		Associations: map[string]registry.Association{
			"members": func(_ context.Context, _ *model.PersistentActivityEntity) ([]string, error) {
				return []string{"u:mira", "u:ext"}, nil
			},
		},
	})

	_, err := f.router.Route(context.Background(), discussionSeed())
	require.NoError(t, err)

	recipients := map[string]bool{}
	for _, rs := range f.sink.routed {
		recipients[rs.Route.RecipientID] = true
	}
	assert.True(t, recipients["u:mira"])
	assert.False(t, recipients["u:ext"])
}

func TestInteractingTenantsGate(t *testing.T) {
	f := newRouterFixture(t)
	f.resolver.tenants["u:partner"] = "partner"
	f.resolver.tenants["u:ext"] = "other"
	f.resolver.interact[[2]string{"partner", "acme"}] = true
	f.resolver.members["d:42"] = map[string]bool{"u:partner": true, "u:ext": true}

	f.reg.RegisterObjectType("discussion", registry.ObjectTypeSpec{
		Producer: func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ObjectType: "discussion", ID: res.ResourceID, TenantAlias: "acme"}, nil
		},
		Propagation: func(_ context.Context, _ *model.PersistentActivityEntity) ([]registry.PropagationRule, error) {
			return []registry.PropagationRule{{Kind: registry.PropagationInteractingTenants}}, nil
		},
		Associations: map[string]registry.Association{
			"members": func(_ context.Context, _ *model.PersistentActivityEntity) ([]string, error) {
				return []string{"u:partner", "u:ext"}, nil
			},
		},
	})

	_, err := f.router.Route(context.Background(), discussionSeed())
	require.NoError(t, err)

	recipients := map[string]bool{}
	for _, rs := range f.sink.routed {
		recipients[rs.Route.RecipientID] = true
	}
	assert.True(t, recipients["u:partner"])
	assert.False(t, recipients["u:ext"])
}

func TestSelfGrantRestrictsToEntity(t *testing.T) {
	f := newRouterFixture(t)
	f.resolver.members["d:42"] = map[string]bool{"u:mira": true, "d:42": true}

	f.reg.RegisterObjectType("discussion", registry.ObjectTypeSpec{
		Producer: func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ObjectType: "discussion", ID: res.ResourceID}, nil
		},
		Propagation: func(_ context.Context, _ *model.PersistentActivityEntity) ([]registry.PropagationRule, error) {
			return []registry.PropagationRule{{Kind: registry.PropagationSelf}}, nil
		},
		Associations: map[string]registry.Association{
			"members": func(_ context.Context, _ *model.PersistentActivityEntity) ([]string, error) {
				return []string{"u:mira", "d:42"}, nil
			},
		},
	})

	_, err := f.router.Route(context.Background(), discussionSeed())
	require.NoError(t, err)

	recipients := map[string]bool{}
	for _, rs := range f.sink.routed {
		recipients[rs.Route.RecipientID] = true
	}
	assert.False(t, recipients["u:mira"])
	assert.True(t, recipients["d:42"])
}

func TestProducerCacheSkipsRepeatLookups(t *testing.T) {
	f := newRouterFixture(t)
	f.resolver.members["d:42"] = map[string]bool{"u:mira": true}

	_, err := f.router.Route(context.Background(), discussionSeed())
	require.NoError(t, err)
	_, err = f.router.Route(context.Background(), discussionSeed())
	require.NoError(t, err)

	assert.Equal(t, 1, f.produceCalls["discussion:d:42"])
	assert.Equal(t, 1, f.produceCalls["user:u:alice"])
}

func TestPrefetchedDataBypassesCache(t *testing.T) {
	f := newRouterFixture(t)
	f.resolver.members["d:42"] = map[string]bool{"u:mira": true}

	seed := discussionSeed()
	_, err := f.router.Route(context.Background(), seed)
	require.NoError(t, err)

	// A seed carrying fresh data must reach the producer again.
	seed.Object.ResourceData = &model.PersistentActivityEntity{ObjectType: "discussion", ID: "d:42"}
	_, err = f.router.Route(context.Background(), seed)
	require.NoError(t, err)

	assert.Equal(t, 2, f.produceCalls["discussion:d:42"])
}

func TestBucketIsStablePerRecipient(t *testing.T) {
	first := Bucket("u:mira", 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Bucket("u:mira", 5))
	}
	assert.Less(t, first, 5)
	assert.GreaterOrEqual(t, first, 0)
}
