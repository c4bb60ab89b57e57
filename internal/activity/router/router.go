// Package router expands a posted activity seed into the set of
// (recipient, stream, format) routes it must land in, applies propagation
// filtering, and hands each route to its hash bucket for collection.
package router

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/errs"
)

// PrincipalResolver is the permissions oracle the router consults for
// propagation filtering. The core does not enforce authorization policy
// itself; it only asks.
type PrincipalResolver interface {
	// TenantOf resolves the tenant alias of a principal.
	TenantOf(ctx context.Context, principalID string) (string, error)
	// TenantsInteract reports whether cross-tenant delivery between the two
	// tenants is allowed.
	TenantsInteract(ctx context.Context, a, b string) (bool, error)
	// IsMember reports whether the principal has direct member access to the
	// resource. Gates private-visibility entities.
	IsMember(ctx context.Context, principalID, resourceID string) (bool, error)
}

// Sink receives routed seeds. Production publishes them onto the per-bucket
// MQ topics; tests append straight to the route store.
type Sink interface {
	Submit(ctx context.Context, seed *model.RoutedSeed) error
}

// Formats every persisted route is materialized in.
var deliveryFormats = []model.Format{model.FormatActivityStreams, model.FormatInternal}

type Router struct {
	registry *registry.Registry
	resolver PrincipalResolver
	sink     Sink
	logger   *slog.Logger
	buckets  int
	// cache keeps hot producer output; cache-aside, keyed type:id.
	cache *lru.Cache[string, *model.PersistentActivityEntity]
}

func New(reg *registry.Registry, resolver PrincipalResolver, sink Sink, buckets int, logger *slog.Logger) *Router {
	cache, _ := lru.New[string, *model.PersistentActivityEntity](10000)
	return &Router{
		registry: reg,
		resolver: resolver,
		sink:     sink,
		logger:   logger,
		buckets:  buckets,
		cache:    cache,
	}
}

// Route resolves the seed to its routes and submits each to its bucket.
// Returns the number of routes submitted.
func (r *Router) Route(ctx context.Context, seed *model.ActivitySeed) (int, error) {
	if seed == nil || seed.Actor == nil {
		return 0, errs.Validation("an activity seed requires an actor")
	}
	spec, err := r.registry.ActivityType(seed.ActivityType)
	if err != nil {
		return 0, err
	}

	entities, err := r.materialize(ctx, seed)
	if err != nil {
		return 0, err
	}

	type routeKey struct {
		recipient string
		stream    model.StreamType
	}
	seen := make(map[routeKey]bool)
	submitted := 0

	for streamType, streamSpec := range spec.Streams {
		recipients, err := r.expand(ctx, streamSpec, entities)
		if err != nil {
			return submitted, err
		}

		for _, recipientID := range recipients {
			key := routeKey{recipientID, streamType}
			if seen[key] {
				continue
			}
			seen[key] = true

			ok, err := r.permitted(ctx, recipientID, entities)
			if err != nil {
				return submitted, err
			}
			if !ok {
				continue
			}

			bucket := Bucket(recipientID, r.buckets)
			for _, format := range deliveryFormats {
				routed := &model.RoutedSeed{
					Route: model.Route{
						RecipientID: recipientID,
						StreamType:  streamType,
						Format:      format,
						Transient:   streamSpec.Transient,
					},
					Seed:     seed,
					Entities: entities,
					Bucket:   bucket,
				}
				if err := r.sink.Submit(ctx, routed); err != nil {
					return submitted, errs.Internal("could not queue a route", err)
				}
				submitted++
			}
		}
	}
	return submitted, nil
}

// materialize produces every referenced role entity, in parallel, through
// the LRU cache.
func (r *Router) materialize(ctx context.Context, seed *model.ActivitySeed) (map[model.Role]*model.PersistentActivityEntity, error) {
	var mu sync.Mutex
	entities := make(map[model.Role]*model.PersistentActivityEntity)

	g, gCtx := errgroup.WithContext(ctx)
	for _, role := range []model.Role{model.RoleActor, model.RoleObject, model.RoleTarget} {
		res := seed.Resource(role)
		if res == nil {
			continue
		}
		g.Go(func() error {
			entity, err := r.produce(gCtx, res)
			if err != nil {
				return err
			}
			mu.Lock()
			entities[role] = entity
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *Router) produce(ctx context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
	cacheKey := res.ResourceType + ":" + res.ResourceID
	// Seeds carrying pre-fetched data bypass the cache: the poster's copy is
	// fresher than anything we hold.
	if res.ResourceData == nil {
		if cached, ok := r.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	spec, err := r.registry.ObjectType(res.ResourceType)
	if err != nil {
		return nil, err
	}
	entity, err := spec.Producer(ctx, res)
	if err != nil {
		return nil, errs.Internal("producer failed for "+cacheKey, err)
	}
	r.cache.Add(cacheKey, entity)
	return entity, nil
}

// expand resolves a stream spec's associations against its routed roles.
func (r *Router) expand(ctx context.Context, spec registry.StreamSpec, entities map[model.Role]*model.PersistentActivityEntity) ([]string, error) {
	var out []string
	seen := make(map[string]bool)

	for _, role := range spec.Roles {
		entity, ok := entities[role]
		if !ok {
			continue
		}
		for _, name := range spec.Associations {
			ids, err := r.registry.Association(ctx, name, entity)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}
	return out, nil
}

// permitted applies propagation filtering: every referenced entity's rules
// must allow exposure to the recipient.
func (r *Router) permitted(ctx context.Context, recipientID string, entities map[model.Role]*model.PersistentActivityEntity) (bool, error) {
	for _, entity := range entities {
		ok, err := r.entityPermits(ctx, recipientID, entity)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (r *Router) entityPermits(ctx context.Context, recipientID string, entity *model.PersistentActivityEntity) (bool, error) {
	// Private visibility always limits delivery to direct members.
	if entity.Visibility == model.VisibilityPrivate && entity.ID != recipientID {
		member, err := r.resolver.IsMember(ctx, recipientID, entity.ID)
		if err != nil {
			return false, err
		}
		if !member {
			return false, nil
		}
	}

	spec, err := r.registry.ObjectType(entity.ObjectType)
	if err != nil {
		return false, err
	}
	if spec.Propagation == nil {
		return true, nil
	}
	rules, err := spec.Propagation(ctx, entity)
	if err != nil {
		return false, err
	}
	if len(rules) == 0 {
		return true, nil
	}

	granted := false
	sawGrant := false
	for _, rule := range rules {
		switch rule.Kind {
		case registry.PropagationAll:
			sawGrant, granted = true, true

		case registry.PropagationSelf:
			sawGrant = true
			if entity.ID == recipientID {
				granted = true
			}

		case registry.PropagationAssociation, registry.PropagationFollowers:
			sawGrant = true
			name := rule.AssociationName
			if rule.Kind == registry.PropagationFollowers {
				name = "followers"
			}
			ids, err := r.registry.Association(ctx, name, entity)
			if err != nil {
				return false, err
			}
			for _, id := range ids {
				if id == recipientID {
					granted = true
					break
				}
			}

		case registry.PropagationRoutes:
			sawGrant = true
			for _, route := range rule.Routes {
				if route.RecipientID == recipientID {
					granted = true
					break
				}
			}

		case registry.PropagationTenant:
			ok, err := r.sameTenant(ctx, recipientID, entity)
			if err != nil || !ok {
				return false, err
			}

		case registry.PropagationInteractingTenants:
			ok, err := r.tenantsInteract(ctx, recipientID, entity)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	if !sawGrant {
		// Only tenant gates were present and all passed.
		return true, nil
	}
	return granted, nil
}

func (r *Router) sameTenant(ctx context.Context, recipientID string, entity *model.PersistentActivityEntity) (bool, error) {
	if entity.TenantAlias == "" {
		return true, nil
	}
	tenant, err := r.resolver.TenantOf(ctx, recipientID)
	if err != nil {
		return false, err
	}
	return tenant == entity.TenantAlias, nil
}

func (r *Router) tenantsInteract(ctx context.Context, recipientID string, entity *model.PersistentActivityEntity) (bool, error) {
	if entity.TenantAlias == "" {
		return true, nil
	}
	tenant, err := r.resolver.TenantOf(ctx, recipientID)
	if err != nil {
		return false, err
	}
	if tenant == entity.TenantAlias {
		return true, nil
	}
	return r.resolver.TenantsInteract(ctx, tenant, entity.TenantAlias)
}

// Bucket hashes a recipient into its processing bucket.
func Bucket(recipientID string, buckets int) int {
	if buckets <= 0 {
		buckets = 1
	}
	h := fnv.New32a()
	h.Write([]byte(recipientID))
	return int(h.Sum32() % uint32(buckets))
}
