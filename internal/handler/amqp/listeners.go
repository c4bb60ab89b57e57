package amqp

import (
	"context"
	"log/slog"

	"github.com/openacad/activity-service/internal/activity/collector"
	"github.com/openacad/activity-service/internal/adapter/pubsub"
	"github.com/openacad/activity-service/internal/emitter"
	"github.com/openacad/activity-service/internal/infra/client/preview"
)

// Listeners hold the consumer-side business logic. Topics are at-least-once,
// so every handler tolerates replays.
type Listeners struct {
	collector *collector.Collector
	previews  *preview.Client
	emitter   *emitter.Emitter
	logger    *slog.Logger
}

func NewListeners(c *collector.Collector, previews *preview.Client, em *emitter.Emitter, logger *slog.Logger) *Listeners {
	return &Listeners{collector: c, previews: previews, emitter: em, logger: logger}
}

// OnBucketSignal wakes a collection cycle ahead of the next poll. The bucket
// lock makes a concurrent poll harmless.
func (l *Listeners) OnBucketSignal(ctx context.Context, signal *pubsub.BucketSignal) error {
	return l.collector.CollectBucket(ctx, signal.Bucket)
}

// OnPreviewRegenerate forwards the job to the preview tier.
func (l *Listeners) OnPreviewRegenerate(ctx context.Context, job *pubsub.PreviewJob) error {
	return l.previews.Regenerate(ctx, preview.Job{
		TenantAlias: job.TenantAlias,
		ResourceID:  job.ResourceID,
		URL:         job.URL,
	})
}

// OnInvitationAccepted replays an accept batch under the remote event name,
// which the publish bridge ignores, so the replay cannot loop back to the MQ.
// The queue is shared, so the batch replays on exactly one node and the
// dedicated accept activity posts once.
func (l *Listeners) OnInvitationAccepted(ctx context.Context, batch *pubsub.AcceptedBatch) error {
	l.emitter.Emit(ctx, emitter.EventInvitationAcceptedRemote, batch.InvitationHashes, batch.Changes, batch.Inviters)
	return nil
}
