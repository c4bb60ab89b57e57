package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/errs"
)

func TestUnknownTypesAreValidationErrors(t *testing.T) {
	r := New()

	_, err := r.ObjectType("ghost")
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = r.ActivityType("ghost")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestLastRegistrationWins(t *testing.T) {
	r := New()
	r.RegisterObjectType("user", ObjectTypeSpec{
		Producer: func(context.Context, *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ID: "first"}, nil
		},
	})
	r.RegisterObjectType("user", ObjectTypeSpec{
		Producer: func(context.Context, *model.ActivitySeedResource) (*model.PersistentActivityEntity, error) {
			return &model.PersistentActivityEntity{ID: "second"}, nil
		},
	})

	spec, err := r.ObjectType("user")
	require.NoError(t, err)
	entity, err := spec.Producer(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second", entity.ID)
}

func TestAssociationMissingNameIsEmpty(t *testing.T) {
	r := New()
	r.RegisterObjectType("user", ObjectTypeSpec{})

	ids, err := r.Association(context.Background(), "followers", &model.PersistentActivityEntity{ObjectType: "user"})
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestTransformPassesThroughWithoutTransformer(t *testing.T) {
	r := New()
	r.RegisterObjectType("user", ObjectTypeSpec{})

	entity := &model.PersistentActivityEntity{ObjectType: "user", ID: "u:mira"}
	out, err := r.Transform(context.Background(), model.FormatInternal, []*model.PersistentActivityEntity{entity})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Same(t, entity, out[0])
}

func TestTransformAppliesFormatTransformer(t *testing.T) {
	r := New()
	r.RegisterObjectType("user", ObjectTypeSpec{
		Transformers: map[model.Format]Transformer{
			model.FormatActivityStreams: func(_ context.Context, entities []*model.PersistentActivityEntity) ([]any, error) {
				return []any{map[string]any{"objectType": "person", "id": entities[0].ID}}, nil
			},
		},
	})

	out, err := r.Transform(context.Background(), model.FormatActivityStreams,
		[]*model.PersistentActivityEntity{{ObjectType: "user", ID: "u:mira"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"objectType": "person", "id": "u:mira"}, out[0])
}

func TestGroupByTuplesFallsBackToAllRoles(t *testing.T) {
	r := New()
	tuples := r.GroupByTuples("unregistered")
	require.Len(t, tuples, 1)
	assert.Equal(t, model.GroupByTuple{Actor: true, Object: true, Target: true}, tuples[0])

	r.RegisterActivityType("discussion:created", ActivityTypeSpec{
		GroupBy: []model.GroupByTuple{{Object: true}},
	})
	tuples = r.GroupByTuples("discussion:created")
	require.Len(t, tuples, 1)
	assert.Equal(t, model.GroupByTuple{Object: true}, tuples[0])
}
