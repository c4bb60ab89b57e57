// Package registry is the polymorphism boundary over domain entity kinds.
// Each objectType registers a producer, per-format transformers, a
// propagation function and named associations; each activityType registers
// grouping tuples and per-stream routers. Registration happens at startup
// and is idempotent; the last registration wins.
package registry

import (
	"context"
	"sync"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/errs"
)

// Producer materializes the persistent entity for a seed resource. It may use
// ResourceData when the poster pre-fetched the entity, or look it up by id.
type Producer func(ctx context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error)

// Transformer projects entities into one serialization format.
type Transformer func(ctx context.Context, entities []*model.PersistentActivityEntity) ([]any, error)

// Association yields the principal ids related to an entity under a name
// such as "members" or "managers".
type Association func(ctx context.Context, entity *model.PersistentActivityEntity) ([]string, error)

// PropagationKind enumerates the rule shapes of a propagation function.
type PropagationKind string

const (
	PropagationAll                PropagationKind = "all"
	PropagationAssociation        PropagationKind = "association"
	PropagationRoutes             PropagationKind = "routes"
	PropagationSelf               PropagationKind = "self"
	PropagationFollowers          PropagationKind = "followers"
	PropagationTenant             PropagationKind = "tenant"
	PropagationInteractingTenants PropagationKind = "interacting-tenants"
)

// PropagationRule constrains which candidate recipients actually receive a
// route that references the entity.
type PropagationRule struct {
	Kind PropagationKind
	// AssociationName applies to PropagationAssociation.
	AssociationName string
	// Routes applies to PropagationRoutes: explicit extra targets.
	Routes []model.Route
}

// Propagation derives the rules for one entity.
type Propagation func(ctx context.Context, entity *model.PersistentActivityEntity) ([]PropagationRule, error)

// ObjectTypeSpec is the vtable registered per objectType.
type ObjectTypeSpec struct {
	Producer     Producer
	Transformers map[model.Format]Transformer
	Propagation  Propagation
	Associations map[string]Association
}

// StreamSpec routes one stream of an activity type.
type StreamSpec struct {
	// Roles selects which of actor/object/target the stream routes by.
	Roles []model.Role
	// Associations are resolved against each routed role's entity.
	Associations []string
	// Transient streams are pushed live but never persisted.
	Transient bool
}

// ActivityTypeSpec describes one activityType.
type ActivityTypeSpec struct {
	// GroupBy lists the tuples that derive grouping keys. Empty falls back
	// to grouping on every present role.
	GroupBy []model.GroupByTuple
	// Streams maps streamType to its router spec.
	Streams map[model.StreamType]StreamSpec
}

// Registry holds the process-wide type tables. Write-once at startup.
type Registry struct {
	mu            sync.RWMutex
	objectTypes   map[string]*ObjectTypeSpec
	activityTypes map[string]*ActivityTypeSpec
}

func New() *Registry {
	return &Registry{
		objectTypes:   make(map[string]*ObjectTypeSpec),
		activityTypes: make(map[string]*ActivityTypeSpec),
	}
}

func (r *Registry) RegisterObjectType(objectType string, spec ObjectTypeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objectTypes[objectType] = &spec
}

func (r *Registry) RegisterActivityType(activityType string, spec ActivityTypeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activityTypes[activityType] = &spec
}

func (r *Registry) ObjectType(objectType string) (*ObjectTypeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.objectTypes[objectType]
	if !ok {
		return nil, errs.Validation("unknown object type %q", objectType)
	}
	return spec, nil
}

func (r *Registry) ActivityType(activityType string) (*ActivityTypeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.activityTypes[activityType]
	if !ok {
		return nil, errs.Validation("unknown activity type %q", activityType)
	}
	return spec, nil
}

// Association resolves a named association of an entity's object type.
func (r *Registry) Association(ctx context.Context, name string, entity *model.PersistentActivityEntity) ([]string, error) {
	spec, err := r.ObjectType(entity.ObjectType)
	if err != nil {
		return nil, err
	}
	fn, ok := spec.Associations[name]
	if !ok {
		// A stream may name associations that only some object types carry.
		return nil, nil
	}
	return fn(ctx, entity)
}

// Transform projects entities through the format transformer of their object
// type. Entities without a registered transformer pass through as-is.
func (r *Registry) Transform(ctx context.Context, format model.Format, entities []*model.PersistentActivityEntity) ([]any, error) {
	out := make([]any, 0, len(entities))
	for _, e := range entities {
		spec, err := r.ObjectType(e.ObjectType)
		if err != nil {
			return nil, err
		}
		fn, ok := spec.Transformers[format]
		if !ok {
			out = append(out, e)
			continue
		}
		views, err := fn(ctx, []*model.PersistentActivityEntity{e})
		if err != nil {
			return nil, err
		}
		out = append(out, views...)
	}
	return out, nil
}

// GroupByTuples returns the grouping tuples of an activity type, falling back
// to a single tuple over all roles for unregistered types.
func (r *Registry) GroupByTuples(activityType string) []model.GroupByTuple {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if spec, ok := r.activityTypes[activityType]; ok && len(spec.GroupBy) > 0 {
		return spec.GroupBy
	}
	return []model.GroupByTuple{{Actor: true, Object: true, Target: true}}
}
