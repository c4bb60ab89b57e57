package push

import (
	"context"
	"log/slog"

	"github.com/openacad/activity-service/internal/activity/aggregator"
	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/domain/model"
)

// Deliverer renders completed aggregation deliveries into wire frames and
// publishes them to the hub. Offline recipients simply miss; their streams
// are read back from storage on the next page load.
type Deliverer struct {
	hub      Hubber
	registry *registry.Registry
	logger   *slog.Logger
}

func NewDeliverer(hub Hubber, reg *registry.Registry, logger *slog.Logger) *Deliverer {
	return &Deliverer{hub: hub, registry: reg, logger: logger}
}

func (d *Deliverer) Deliver(ctx context.Context, deliveries []aggregator.Delivery) {
	for _, delivery := range deliveries {
		view, err := d.render(ctx, delivery.Route.Format, delivery.Entry)
		if err != nil {
			d.logger.Error("could not render a delivery",
				"recipient_id", delivery.Route.RecipientID,
				"activity_id", delivery.Entry.ActivityID,
				"format", delivery.Route.Format,
				"err", err)
			continue
		}
		d.hub.Publish(delivery.Route.RecipientID, &Frame{
			Type:             FrameDelivery,
			StreamType:       delivery.Route.StreamType,
			Format:           delivery.Route.Format,
			Activities:       []any{view},
			NumNewActivities: delivery.NumNew,
		})
	}
}

// render projects a stream entry through the per-format entity transformers.
func (d *Deliverer) render(ctx context.Context, format model.Format, entry *model.StreamEntry) (map[string]any, error) {
	view := map[string]any{
		"activityId":   entry.ActivityID,
		"activityType": entry.ActivityType,
		"verb":         entry.Verb,
		"published":    entry.Published,
	}
	for role, bundle := range map[string]*model.EntityBundle{
		"actor":  entry.Actor,
		"object": entry.Object,
		"target": entry.Target,
	} {
		if bundle == nil {
			continue
		}
		rendered, err := d.registry.Transform(ctx, format, bundle.Entities)
		if err != nil {
			return nil, err
		}
		if bundle.IsCollection() {
			view[role] = map[string]any{"objectType": "collection", "entities": rendered}
		} else if len(rendered) == 1 {
			view[role] = rendered[0]
		}
	}
	return view, nil
}
