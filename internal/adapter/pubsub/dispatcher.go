package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

// BucketSignal is the payload of a bucket topic message. It carries no data;
// the pending queue is the source of truth and the signal only wakes a
// collector early.
type BucketSignal struct {
	Bucket int `json:"bucket"`
}

// PreviewJob asks the preview tier to regenerate a resource's preview.
type PreviewJob struct {
	TenantAlias string `json:"tenantAlias"`
	ResourceID  string `json:"resourceId"`
	URL         string `json:"url"`
}

// AcceptedBatch fans an accepted invitation batch out to resource-type
// listeners on other nodes.
type AcceptedBatch struct {
	InvitationHashes []string                           `json:"invitationHashes"`
	Changes          map[string]*model.MemberChangeInfo `json:"memberChangeInfosByResourceId"`
	Inviters         map[string]string                  `json:"inviterUsersById"`
}

// Dispatcher persists routed seeds onto their bucket queues and publishes
// the wake-up signals and cross-service events. It is the router's sink.
type Dispatcher struct {
	publisher message.Publisher
	routes    storage.RouteStore
}

func NewDispatcher(publisher message.Publisher, routes storage.RouteStore) *Dispatcher {
	return &Dispatcher{publisher: publisher, routes: routes}
}

// Submit appends the seed to its bucket's pending queue, then signals the
// bucket topic. Queue persistence comes first: a lost signal only delays
// collection until the next poll, a lost seed loses the activity.
func (d *Dispatcher) Submit(ctx context.Context, seed *model.RoutedSeed) error {
	if err := d.routes.Append(ctx, seed.Bucket, seed); err != nil {
		return fmt.Errorf("dispatcher: queue bucket %d: %w", seed.Bucket, err)
	}
	return d.publish(ctx, TopicBucketPrefix+strconv.Itoa(seed.Bucket), BucketSignal{Bucket: seed.Bucket})
}

func (d *Dispatcher) PublishPreviewJob(ctx context.Context, job PreviewJob) error {
	return d.publish(ctx, TopicPreviewRegenerate, job)
}

func (d *Dispatcher) PublishAcceptedBatch(ctx context.Context, batch AcceptedBatch) error {
	return d.publish(ctx, TopicInvitationAccepted, batch)
}

func (d *Dispatcher) publish(ctx context.Context, topic string, payload any) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal for %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), blob)
	msg.SetContext(ctx)
	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("dispatcher: publish to %s: %w", topic, err)
	}
	return nil
}
