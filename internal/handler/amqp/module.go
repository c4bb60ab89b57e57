package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/openacad/activity-service/config"
	"github.com/openacad/activity-service/internal/adapter/pubsub"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewListeners,
		NewWatermillRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, provider *pubsub.Provider, publisher message.Publisher, listeners *Listeners, cfg *config.Config, logger *slog.Logger) error {
		if err := RegisterHandlers(router, provider, publisher, listeners, logger, cfg.Activity.NumberOfProcessingBuckets); err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := router.Run(runCtx); err != nil && runCtx.Err() == nil {
						logger.Error("message router stopped", "err", err)
					}
				}()
				<-router.Running()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return router.Close()
			},
		})
		return nil
	}),
)
