// Package collector drains the per-bucket pending-route queues on a polling
// schedule and feeds them through aggregation. Buckets are guarded by
// cluster-wide locks so a cycle runs on exactly one node at a time.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openacad/activity-service/internal/activity/aggregator"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/infra/locking"
	"github.com/openacad/activity-service/internal/storage"
)

type Config struct {
	// Buckets is the number of processing partitions.
	Buckets int
	// BatchSize bounds how many pending entries one drain pass reads.
	BatchSize int
	// MaxConcurrent caps parallel bucket cycles per process.
	MaxConcurrent int
	// PollingInterval between full sweeps. Negative disables the scheduler,
	// leaving collection to the MQ-triggered path only.
	PollingInterval time.Duration
	// LockTTL is the bucket lock lifetime. A cycle exceeding it risks a
	// concurrent drain, so it must comfortably cover a full batch.
	LockTTL time.Duration
}

// Deliverer receives the materialized entries of a completed cycle, after
// the drained batch is acknowledged.
type Deliverer interface {
	Deliver(ctx context.Context, deliveries []aggregator.Delivery)
}

type DelivererFunc func(ctx context.Context, deliveries []aggregator.Delivery)

func (f DelivererFunc) Deliver(ctx context.Context, deliveries []aggregator.Delivery) {
	f(ctx, deliveries)
}

type Collector struct {
	routes    storage.RouteStore
	agg       *aggregator.Aggregator
	locks     *locking.Service
	deliverer Deliverer
	cfg       Config
	logger    *slog.Logger
}

func New(routes storage.RouteStore, agg *aggregator.Aggregator, locks *locking.Service, deliverer Deliverer, cfg Config, logger *slog.Logger) *Collector {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Collector{
		routes:    routes,
		agg:       agg,
		locks:     locks,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run polls until the context is canceled. Returns immediately when polling
// is disabled.
func (c *Collector) Run(ctx context.Context) error {
	if c.cfg.PollingInterval < 0 {
		c.logger.Info("collection polling disabled")
		return nil
	}

	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.CollectAll(ctx)
		}
	}
}

// CollectAll sweeps every bucket, bounded by the concurrency cap. Bucket
// failures are logged; a sweep never fails as a whole.
func (c *Collector) CollectAll(ctx context.Context) {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrent)
	for bucket := 0; bucket < c.cfg.Buckets; bucket++ {
		g.Go(func() error {
			if err := c.CollectBucket(gCtx, bucket); err != nil {
				c.logger.Error("bucket collection failed", "bucket", bucket, "err", err)
			}
			return nil
		})
	}
	g.Wait()
}

// CollectBucket drains one bucket under its cluster lock. A held lock means
// another node owns the cycle; that is not an error.
func (c *Collector) CollectBucket(ctx context.Context, bucket int) error {
	lock, ok, err := c.locks.TryAcquire(ctx, bucketLockName(bucket), c.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	for {
		pending, err := c.routes.ReadBatch(ctx, bucket, c.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("collector: read bucket %d: %w", bucket, err)
		}
		if len(pending) == 0 {
			return nil
		}

		seeds := make([]*model.RoutedSeed, 0, len(pending))
		seqs := make([]int64, 0, len(pending))
		for _, p := range pending {
			seeds = append(seeds, p.Seed)
			seqs = append(seqs, p.Seq)
		}

		deliveries := c.agg.Process(ctx, seeds)
		if err := c.routes.Remove(ctx, bucket, seqs); err != nil {
			return fmt.Errorf("collector: ack bucket %d: %w", bucket, err)
		}
		if c.deliverer != nil && len(deliveries) > 0 {
			c.deliverer.Deliver(ctx, deliveries)
		}

		if len(pending) < c.cfg.BatchSize {
			return nil
		}
	}
}

func bucketLockName(bucket int) string {
	return fmt.Sprintf("activity:bucket:%d", bucket)
}
