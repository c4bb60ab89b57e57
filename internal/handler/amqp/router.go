// Package amqp wires the MQ consumers: bucket wake-up signals, preview
// regeneration jobs and the invitation-accept fan-out.
package amqp

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/openacad/activity-service/internal/adapter/pubsub"
)

const consumerQueuePrefix = "activity-service.consumer"

func NewWatermillRouter(logger *slog.Logger) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(logger))
}

// RegisterHandlers builds the consumer table. Bucket handlers get node-local
// queues so wake-up signals reach every node; job handlers share one queue so
// each job runs once cluster-wide.
func RegisterHandlers(router *message.Router, provider *pubsub.Provider, publisher message.Publisher, listeners *Listeners, logger *slog.Logger, buckets int) error {
	poison, err := middleware.PoisonQueue(publisher, pubsub.TopicPoison)
	if err != nil {
		return fmt.Errorf("amqp: poison setup: %w", err)
	}

	type consumerConfig struct {
		name    string
		topic   string
		shared  bool
		handler message.NoPublishHandlerFunc
	}
	configs := []consumerConfig{
		{"on_preview_regenerate", pubsub.TopicPreviewRegenerate, true, Bind(logger, listeners.OnPreviewRegenerate)},
		{"on_invitation_accepted", pubsub.TopicInvitationAccepted, true, Bind(logger, listeners.OnInvitationAccepted)},
	}
	for bucket := 0; bucket < buckets; bucket++ {
		configs = append(configs, consumerConfig{
			"on_bucket_" + strconv.Itoa(bucket),
			pubsub.TopicBucketPrefix + strconv.Itoa(bucket),
			false,
			Bind(logger, listeners.OnBucketSignal),
		})
	}

	instanceID := uuid.NewString()[:8]
	for _, c := range configs {
		queue := fmt.Sprintf("%s.%s", consumerQueuePrefix, c.name)
		if !c.shared {
			queue = fmt.Sprintf("%s.%s.%s", consumerQueuePrefix, instanceID, c.name)
		}
		sub, err := provider.BuildSubscriber(queue)
		if err != nil {
			return fmt.Errorf("amqp: subscriber for %s: %w", c.name, err)
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(logger),
			NewRetryMiddleware().Middleware,
			poison,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	logger.Info("amqp consumers registered", "handlers", len(configs))
	return nil
}
