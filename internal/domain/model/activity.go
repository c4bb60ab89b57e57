package model

import (
	"sort"
	"strings"
)

// StreamType names a delivery channel on a recipient principal.
type StreamType string

const (
	StreamActivity     StreamType = "activity"
	StreamNotification StreamType = "notification"
	StreamEmail        StreamType = "email"
	StreamMessage      StreamType = "message"
)

func ValidStreamType(s StreamType) bool {
	switch s {
	case StreamActivity, StreamNotification, StreamEmail, StreamMessage:
		return true
	}
	return false
}

// Format is a serialization view of an activity entity.
type Format string

const (
	FormatActivityStreams Format = "activitystreams"
	FormatInternal        Format = "internal"
)

func ValidFormat(f Format) bool {
	return f == FormatActivityStreams || f == FormatInternal
}

// Visibility constrains propagation of an entity's activities.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityLoggedIn Visibility = "loggedin"
	VisibilityPrivate  Visibility = "private"
)

// Role names a slot of an activity seed.
type Role string

const (
	RoleActor  Role = "actor"
	RoleObject Role = "object"
	RoleTarget Role = "target"
)

// ActivitySeedResource references one role entity of a posted activity.
// ResourceData optionally carries the pre-fetched entity so the producer
// can skip the datastore round trip.
type ActivitySeedResource struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	ResourceData any    `json:"resourceData,omitempty"`
}

// ActivitySeed is the unit domain code posts into the activity pipeline.
type ActivitySeed struct {
	ActivityType string                `json:"activityType"`
	Verb         string                `json:"verb"`
	Published    int64                 `json:"published"` // millis
	Actor        *ActivitySeedResource `json:"actor"`
	Object       *ActivitySeedResource `json:"object,omitempty"`
	Target       *ActivitySeedResource `json:"target,omitempty"`
}

// Resource returns the seed resource occupying the given role, or nil.
func (s *ActivitySeed) Resource(role Role) *ActivitySeedResource {
	switch role {
	case RoleActor:
		return s.Actor
	case RoleObject:
		return s.Object
	case RoleTarget:
		return s.Target
	}
	return nil
}

// PersistentActivityEntity is the materialized output of a registered producer.
// Ext carries the objectType-specific projection used by transformers and
// propagation rules.
type PersistentActivityEntity struct {
	ObjectType  string         `json:"objectType"`
	ID          string         `json:"id"`
	Visibility  Visibility     `json:"visibility,omitempty"`
	TenantAlias string         `json:"tenant,omitempty"`
	Ext         map[string]any `json:"ext,omitempty"`
}

// EntityBundle is either a single entity or a collection pseudo-entity that
// aggregation produced by collapsing semantically-equivalent activities.
// Entities preserve insertion order and are de-duplicated by id.
type EntityBundle struct {
	Entities []*PersistentActivityEntity `json:"entities"`
}

func NewEntityBundle(e *PersistentActivityEntity) *EntityBundle {
	if e == nil {
		return nil
	}
	return &EntityBundle{Entities: []*PersistentActivityEntity{e}}
}

// IsCollection reports whether the bundle collapsed more than one entity.
func (b *EntityBundle) IsCollection() bool { return b != nil && len(b.Entities) > 1 }

// Union inserts the entity unless an entity with the same id is already held.
// On a duplicate the already-stored entity wins.
func (b *EntityBundle) Union(e *PersistentActivityEntity) {
	if e == nil {
		return
	}
	for _, have := range b.Entities {
		if have.ID == e.ID {
			return
		}
	}
	b.Entities = append(b.Entities, e)
}

// StreamEntry is the aggregated unit stored per (recipient, stream, format).
type StreamEntry struct {
	ActivityID       string        `json:"activityId"`
	ActivityType     string        `json:"activityType"`
	Verb             string        `json:"verb"`
	Published        int64         `json:"published"`
	Actor            *EntityBundle `json:"actor"`
	Object           *EntityBundle `json:"object,omitempty"`
	Target           *EntityBundle `json:"target,omitempty"`
	NumNewActivities int           `json:"numNewActivities"`
}

// GroupByTuple marks which roles participate in a grouping key.
type GroupByTuple struct {
	Actor  bool `json:"actor,omitempty"`
	Object bool `json:"object,omitempty"`
	Target bool `json:"target,omitempty"`
}

// GroupingKey derives the aggregation-equivalence key of an activity for one
// tuple: the activity type concatenated with the canonical ids of the roles
// the tuple marks truthy.
func GroupingKey(activityType string, tuple GroupByTuple, actorID, objectID, targetID string) string {
	parts := []string{activityType}
	if tuple.Actor {
		parts = append(parts, "actor:"+actorID)
	}
	if tuple.Object {
		parts = append(parts, "object:"+objectID)
	}
	if tuple.Target {
		parts = append(parts, "target:"+targetID)
	}
	return strings.Join(parts, "#")
}

// SortEntityIDs returns the ids of a bundle sorted for canonical comparison.
func SortEntityIDs(b *EntityBundle) []string {
	if b == nil {
		return nil
	}
	ids := make([]string, 0, len(b.Entities))
	for _, e := range b.Entities {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)
	return ids
}
