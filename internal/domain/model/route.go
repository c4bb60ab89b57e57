package model

import "fmt"

// Route is one delivery target produced by the activity router.
type Route struct {
	RecipientID string     `json:"recipientId"`
	StreamType  StreamType `json:"streamType"`
	Format      Format     `json:"format"`
	// Transient routes are pushed live but never persisted.
	Transient bool `json:"transient,omitempty"`
}

// RouteID identifies a stream independent of format, the unit push
// subscriptions and segregation operate on.
func (r Route) RouteID() string {
	return fmt.Sprintf("%s#%s", r.RecipientID, r.StreamType)
}

// RoutedSeed is an expanded seed bound to one route, queued on a bucket
// until a collection cycle drains it.
type RoutedSeed struct {
	Route Route         `json:"route"`
	Seed  *ActivitySeed `json:"seed"`
	// Entities are the producer-materialized role entities, keyed by role.
	Entities map[Role]*PersistentActivityEntity `json:"entities"`
	Bucket   int                                `json:"bucket"`
}

func (rs *RoutedSeed) Entity(role Role) *PersistentActivityEntity {
	if rs.Entities == nil {
		return nil
	}
	return rs.Entities[role]
}

func (rs *RoutedSeed) EntityID(role Role) string {
	if e := rs.Entity(role); e != nil {
		return e.ID
	}
	return ""
}
