package pubsub

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/openacad/activity-service/config"
	"github.com/openacad/activity-service/internal/storage"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *Provider {
			return NewProvider(cfg.MQ.URI, cfg.MQ.PrefetchCount, logger)
		},
		func(p *Provider) (message.Publisher, error) {
			return p.BuildPublisher()
		},
		func(publisher message.Publisher, routes storage.RouteStore) *Dispatcher {
			return NewDispatcher(publisher, routes)
		},
	),
)
