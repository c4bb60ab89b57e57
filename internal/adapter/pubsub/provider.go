// Package pubsub owns the message-queue transport. With a broker URI
// configured it runs on AMQP; without one it degrades to the in-process
// gochannel bus, which keeps single-node development and tests brokerless.
package pubsub

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topics of the service. At-least-once; consumers are idempotent.
const (
	// TopicBucketPrefix + bucket number signals pending routes on a bucket.
	TopicBucketPrefix = "activity.bucket."
	// TopicPreviewRegenerate asks the preview tier to refresh a resource.
	TopicPreviewRegenerate = "preview.regenerate"
	// TopicInvitationAccepted fans an accepted batch out to resource types.
	TopicInvitationAccepted = "invitation.accepted"

	// TopicPoison collects messages that exhausted their retries.
	TopicPoison = "activity.poison"
)

// Provider builds publishers and subscribers over the configured transport.
type Provider struct {
	uri      string
	prefetch int
	wmLogger watermill.LoggerAdapter

	// inproc is shared so publishers and subscribers meet on the same bus.
	inproc *gochannel.GoChannel
}

func NewProvider(uri string, prefetch int, logger *slog.Logger) *Provider {
	wmLogger := watermill.NewSlogLogger(logger)
	p := &Provider{uri: uri, prefetch: prefetch, wmLogger: wmLogger}
	if uri == "" {
		p.inproc = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	}
	return p
}

func (p *Provider) BuildPublisher() (message.Publisher, error) {
	if p.inproc != nil {
		return p.inproc, nil
	}
	return amqp.NewPublisher(amqp.NewDurableQueueConfig(p.uri), p.wmLogger)
}

// BuildSubscriber builds a consumer for one queue. AMQP consumers apply the
// configured prefetch so one slow handler cannot hoard the queue.
func (p *Provider) BuildSubscriber(queue string) (message.Subscriber, error) {
	if p.inproc != nil {
		return p.inproc, nil
	}
	cfg := amqp.NewDurableQueueConfig(p.uri)
	cfg.Consume.Qos.PrefetchCount = p.prefetch
	cfg.Queue.GenerateName = amqp.GenerateQueueNameConstant(queue)
	return amqp.NewSubscriber(cfg, p.wmLogger)
}
