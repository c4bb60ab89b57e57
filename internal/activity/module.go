package activity

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/openacad/activity-service/config"
	"github.com/openacad/activity-service/internal/activity/aggregator"
	"github.com/openacad/activity-service/internal/activity/collector"
	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/activity/router"
	"github.com/openacad/activity-service/internal/adapter/pubsub"
	"github.com/openacad/activity-service/internal/infra/client/principal"
	"github.com/openacad/activity-service/internal/infra/kv"
	"github.com/openacad/activity-service/internal/infra/locking"
	"github.com/openacad/activity-service/internal/push"
	"github.com/openacad/activity-service/internal/storage"
)

var Module = fx.Module("activity",
	fx.Provide(
		registry.New,

		func(c *principal.Client) router.PrincipalResolver { return c },
		func(c *principal.Client) Directory { return c },

		func(reg *registry.Registry, resolver router.PrincipalResolver, dispatcher *pubsub.Dispatcher, cfg *config.Config, logger *slog.Logger) *router.Router {
			return router.New(reg, resolver, dispatcher, cfg.Activity.NumberOfProcessingBuckets, logger)
		},

		func(streams storage.StreamStore, kvStore kv.Store, reg *registry.Registry, cfg *config.Config, logger *slog.Logger) *aggregator.Aggregator {
			return aggregator.New(streams, kvStore, reg, aggregator.Config{
				IdleExpiry: cfg.Activity.IdleExpiry(),
				MaxExpiry:  cfg.Activity.MaxExpiry(),
				EntryTTL:   cfg.Activity.EntryTTL(),
			}, logger)
		},

		func(routes storage.RouteStore, agg *aggregator.Aggregator, locks *locking.Service, deliverer *push.Deliverer, cfg *config.Config, logger *slog.Logger) *collector.Collector {
			return collector.New(routes, agg, locks, deliverer, collector.Config{
				Buckets:         cfg.Activity.NumberOfProcessingBuckets,
				BatchSize:       cfg.Activity.CollectionBatchSize,
				MaxConcurrent:   cfg.Activity.MaxConcurrentCollections,
				PollingInterval: cfg.Activity.PollingInterval(),
				LockTTL:         cfg.Activity.LockTTL(),
			}, logger)
		},

		NewService,
	),

	fx.Invoke(RegisterCoreTypes),
	fx.Invoke(RegisterEventBridges),

	// Background collection runs only on nodes configured for it.
	fx.Invoke(func(lc fx.Lifecycle, c *collector.Collector, cfg *config.Config, logger *slog.Logger) {
		if !cfg.Activity.ProcessActivityJobs {
			logger.Info("activity collection disabled on this node")
			return
		}

		runCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := c.Run(runCtx); err != nil && runCtx.Err() == nil {
						logger.Error("collector stopped", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)
