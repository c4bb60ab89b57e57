package push

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
	"github.com/openacad/activity-service/internal/domain/model"
)

func routeID(recipient string, stream model.StreamType) string {
	return model.Route{RecipientID: recipient, StreamType: stream}.RouteID()
}

func recvFrame(t *testing.T, conn Connector) *Frame {
	t.Helper()
	select {
	case frame := <-conn.Recv():
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func expectNoFrame(t *testing.T, conn Connector) {
	t.Helper()
	select {
	case frame := <-conn.Recv():
		t.Fatalf("unexpected frame: %+v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDeliversToSubscribedSession(t *testing.T) {
	hub := NewHub(16)
	conn := NewConnector(context.Background(), "u:mira", 16)
	conn.Subscribe(routeID("u:mira", model.StreamActivity), model.FormatInternal)
	hub.Register("u:mira", conn)
	defer hub.Unregister("u:mira", conn.ID())

	ok := hub.Publish("u:mira", &Frame{
		Type:       FrameDelivery,
		StreamType: model.StreamActivity,
		Format:     model.FormatInternal,
	})
	require.True(t, ok)

	frame := recvFrame(t, conn)
	assert.Equal(t, FrameDelivery, frame.Type)
	assert.Equal(t, model.StreamActivity, frame.StreamType)
}

func TestHubMissesOfflineRecipient(t *testing.T) {
	hub := NewHub(16)
	assert.False(t, hub.Publish("u:ghost", &Frame{Type: FrameDelivery}))
	assert.False(t, hub.IsConnected("u:ghost"))
}

func TestFormatSegregationAcrossSessions(t *testing.T) {
	hub := NewHub(16)
	ctx := context.Background()

	// Two sockets of the same principal, same stream, different formats.
	internal := NewConnector(ctx, "u:mira", 16)
	internal.Subscribe(routeID("u:mira", model.StreamActivity), model.FormatInternal)
	streams := NewConnector(ctx, "u:mira", 16)
	streams.Subscribe(routeID("u:mira", model.StreamActivity), model.FormatActivityStreams)
	hub.Register("u:mira", internal)
	hub.Register("u:mira", streams)

	require.True(t, hub.Publish("u:mira", &Frame{
		Type:       FrameDelivery,
		StreamType: model.StreamActivity,
		Format:     model.FormatInternal,
	}))

	frame := recvFrame(t, internal)
	assert.Equal(t, model.FormatInternal, frame.Format)
	expectNoFrame(t, streams)
}

func TestStreamSegregationAcrossSessions(t *testing.T) {
	hub := NewHub(16)
	conn := NewConnector(context.Background(), "u:mira", 16)
	conn.Subscribe(routeID("u:mira", model.StreamNotification), model.FormatInternal)
	hub.Register("u:mira", conn)

	require.True(t, hub.Publish("u:mira", &Frame{
		Type:       FrameDelivery,
		StreamType: model.StreamActivity,
		Format:     model.FormatInternal,
	}))
	expectNoFrame(t, conn)
}

func TestSubscribeToForeignResourceStream(t *testing.T) {
	hub := NewHub(16)
	conn := NewConnector(context.Background(), "u:mira", 16)
	conn.Subscribe(routeID("g:staff", model.StreamActivity), model.FormatInternal)
	hub.Register("g:staff", conn)

	require.True(t, hub.Publish("g:staff", &Frame{
		Type:       FrameDelivery,
		StreamType: model.StreamActivity,
		Format:     model.FormatInternal,
	}))
	frame := recvFrame(t, conn)
	assert.Equal(t, FrameDelivery, frame.Type)
}

func TestRouteSubscribesMultipleFormats(t *testing.T) {
	conn := NewConnector(context.Background(), "u:mira", 16)
	rid := routeID("u:mira", model.StreamActivity)
	conn.Subscribe(rid, model.FormatInternal)
	conn.Subscribe(rid, model.FormatActivityStreams)

	assert.True(t, conn.Subscribed(rid, model.FormatInternal))
	assert.True(t, conn.Subscribed(rid, model.FormatActivityStreams))

	conn.Unsubscribe(rid)
	assert.False(t, conn.Subscribed(rid, model.FormatInternal))
}

func TestUnregisterPurgesEmptyCell(t *testing.T) {
	hub := NewHub(16)
	conn := NewConnector(context.Background(), "u:mira", 16)
	hub.Register("u:mira", conn)
	require.True(t, hub.IsConnected("u:mira"))

	hub.Unregister("u:mira", conn.ID())
	assert.False(t, hub.IsConnected("u:mira"))
}

func TestSecondSessionKeepsCellAlive(t *testing.T) {
	hub := NewHub(16)
	ctx := context.Background()
	first := NewConnector(ctx, "u:mira", 16)
	second := NewConnector(ctx, "u:mira", 16)
	hub.Register("u:mira", first)
	hub.Register("u:mira", second)

	hub.Unregister("u:mira", first.ID())
	assert.True(t, hub.IsConnected("u:mira"))
	hub.Unregister("u:mira", second.ID())
	assert.False(t, hub.IsConnected("u:mira"))
}

func TestFullBufferDropsDeliveries(t *testing.T) {
	conn := NewConnector(context.Background(), "u:mira", 1)

	require.True(t, conn.Send(&Frame{Type: FrameDelivery}, time.Millisecond))
	// Buffer of one is full; the next delivery drops without blocking.
	assert.False(t, conn.Send(&Frame{Type: FrameDelivery}, time.Millisecond))
}

func TestDelivererRendersCollections(t *testing.T) {
	reg := registry.New()
	reg.RegisterObjectType("user", registry.ObjectTypeSpec{
		Transformers: map[model.Format]registry.Transformer{
			model.FormatInternal: func(_ context.Context, entities []*model.PersistentActivityEntity) ([]any, error) {
				out := make([]any, 0, len(entities))
				for _, e := range entities {
					out = append(out, map[string]any{"id": e.ID, "objectType": "user"})
				}
				return out, nil
			},
		},
	})
	reg.RegisterObjectType("discussion", registry.ObjectTypeSpec{})

	hub := NewHub(16)
	conn := NewConnector(context.Background(), "u:mira", 16)
	conn.Subscribe(routeID("u:mira", model.StreamActivity), model.FormatInternal)
	hub.Register("u:mira", conn)

	d := NewDeliverer(hub, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	actor := &model.EntityBundle{Entities: []*model.PersistentActivityEntity{
		{ObjectType: "user", ID: "u:alice"},
		{ObjectType: "user", ID: "u:bob"},
	}}
	d.Deliver(context.Background(), []aggregator.Delivery{{
		Route: model.Route{RecipientID: "u:mira", StreamType: model.StreamActivity, Format: model.FormatInternal},
		Entry: &model.StreamEntry{
			ActivityID:   "a1",
			ActivityType: "discussion:created",
			Verb:         "post",
			Published:    1000,
			Actor:        actor,
			Object:       model.NewEntityBundle(&model.PersistentActivityEntity{ObjectType: "discussion", ID: "d:42"}),
		},
		NumNew: 3,
	}})

	frame := recvFrame(t, conn)
	assert.Equal(t, 3, frame.NumNewActivities)
	require.Len(t, frame.Activities, 1)
	view, ok := frame.Activities[0].(map[string]any)
	require.True(t, ok)

	actorView, ok := view["actor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "collection", actorView["objectType"])
	assert.Len(t, actorView["entities"], 2)

	// Untransformed object types pass through as the stored entity.
	objectView, ok := view["object"].(*model.PersistentActivityEntity)
	require.True(t, ok)
	assert.Equal(t, "d:42", objectView.ID)
}
