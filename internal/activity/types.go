package activity

import (
	"context"
	"strings"

	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/messagebox"
)

// RegisterCoreTypes installs the built-in object and activity types. Further
// types register the same way from their own packages at startup.
func RegisterCoreTypes(reg *registry.Registry, dir Directory, boxes *messagebox.Service) {
	core := CoreAssociations(dir, boxes)

	reg.RegisterObjectType("user", registry.ObjectTypeSpec{
		Producer: passthroughProducer("user"),
		Propagation: func(context.Context, *model.PersistentActivityEntity) ([]registry.PropagationRule, error) {
			return []registry.PropagationRule{{Kind: registry.PropagationTenant}}, nil
		},
		Associations: map[string]registry.Association{"self": core["self"]},
	})

	for _, resourceType := range []string{"group", "course"} {
		reg.RegisterObjectType(resourceType, registry.ObjectTypeSpec{
			Producer: passthroughProducer(resourceType),
			Propagation: func(context.Context, *model.PersistentActivityEntity) ([]registry.PropagationRule, error) {
				return []registry.PropagationRule{
					{Kind: registry.PropagationAssociation, AssociationName: "members"},
					{Kind: registry.PropagationTenant},
				}, nil
			},
			Associations: core,
		})
	}

	reg.RegisterObjectType("message", registry.ObjectTypeSpec{
		Producer: messageProducer,
		Propagation: func(context.Context, *model.PersistentActivityEntity) ([]registry.PropagationRule, error) {
			return []registry.PropagationRule{
				{Kind: registry.PropagationAssociation, AssociationName: "members"},
				{Kind: registry.PropagationTenant},
			}, nil
		},
		Associations: map[string]registry.Association{
			// A message's members are the members of the resource its box is
			// attached to, not of the message itself.
			"members": func(ctx context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
				return dir.Members(ctx, messageBoxOf(entity))
			},
			"message-contributors": func(ctx context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
				return boxes.GetRecentContributions(ctx, messageBoxOf(entity), 100)
			},
		},
	})

	reg.RegisterActivityType("message:created", registry.ActivityTypeSpec{
		// Bursts by one author in one box collapse into a message collection.
		GroupBy: []model.GroupByTuple{{Actor: true}},
		Streams: map[model.StreamType]registry.StreamSpec{
			model.StreamActivity: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"members"},
			},
			model.StreamNotification: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"message-contributors"},
			},
			model.StreamMessage: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"members"},
				Transient:    true,
			},
		},
	})

	reg.RegisterActivityType("invitation:accept", registry.ActivityTypeSpec{
		// One accept can join several resources; each join announces itself on
		// its own resource, so grouping stays per actor per object.
		GroupBy: []model.GroupByTuple{{Actor: true}},
		Streams: map[model.StreamType]registry.StreamSpec{
			model.StreamActivity: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"members"},
			},
			model.StreamNotification: {
				Roles:        []model.Role{model.RoleObject},
				Associations: []string{"managers"},
			},
		},
	})
}

// passthroughProducer materializes an entity from pre-fetched data when the
// seed carries it and from the bare reference otherwise.
func passthroughProducer(objectType string) registry.Producer {
	return func(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
		if entity, ok := res.ResourceData.(*model.PersistentActivityEntity); ok {
			return entity, nil
		}
		return &model.PersistentActivityEntity{ObjectType: objectType, ID: res.ResourceID}, nil
	}
}

func messageProducer(_ context.Context, res *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
	entity := &model.PersistentActivityEntity{ObjectType: "message", ID: res.ResourceID}
	if msg, ok := res.ResourceData.(*model.Message); ok {
		entity.ID = msg.ID
		entity.Ext = map[string]any{
			"messageBoxId": msg.MessageBoxID,
			"threadKey":    msg.ThreadKey,
			"createdBy":    msg.CreatedBy,
			"created":      msg.Created,
		}
	}
	return entity, nil
}

// messageBoxOf recovers the box id from a message entity, preferring the
// produced Ext over parsing the "<boxId>#<created>" id.
func messageBoxOf(entity *model.PersistentActivityEntity) string {
	if entity.Ext != nil {
		if boxID, ok := entity.Ext["messageBoxId"].(string); ok && boxID != "" {
			return boxID
		}
	}
	if i := strings.LastIndex(entity.ID, "#"); i > 0 {
		return entity.ID[:i]
	}
	return entity.ID
}
