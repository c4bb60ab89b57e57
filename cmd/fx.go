package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/openacad/activity-service/config"
	"github.com/openacad/activity-service/internal/activity"
	"github.com/openacad/activity-service/internal/adapter/pubsub"
	"github.com/openacad/activity-service/internal/emitter"
	amqphandler "github.com/openacad/activity-service/internal/handler/amqp"
	"github.com/openacad/activity-service/internal/handler/ws"
	"github.com/openacad/activity-service/internal/infra/client/preview"
	"github.com/openacad/activity-service/internal/infra/client/principal"
	"github.com/openacad/activity-service/internal/infra/kv"
	"github.com/openacad/activity-service/internal/infra/locking"
	httpserver "github.com/openacad/activity-service/internal/infra/server/http"
	"github.com/openacad/activity-service/internal/infra/signing"
	"github.com/openacad/activity-service/internal/invitations"
	"github.com/openacad/activity-service/internal/messagebox"
	"github.com/openacad/activity-service/internal/push"
	"github.com/openacad/activity-service/internal/storage"
	"github.com/openacad/activity-service/internal/storage/cassandra"
	"github.com/openacad/activity-service/internal/storage/memory"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideKV,
			ProvideStores,
			ProvideSigner,
			ProvideClients,
			locking.NewService,
			emitter.New,
		),
		pubsub.Module,
		messagebox.Module,
		activity.Module,
		invitations.Module,
		push.Module,
		ws.Module,
		amqphandler.Module,
		httpserver.Module,
	)
}

func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(
		"service", ServiceName,
		"namespace", ServiceNamespace,
	)
}

func ProvideSigner(cfg *config.Config) *signing.Signer {
	return signing.New([]byte(cfg.Signing.Key))
}

func ProvideKV(cfg *config.Config, logger *slog.Logger) kv.Store {
	if cfg.Redis.Addr == "" {
		logger.Warn("no redis address configured, using the in-memory kv store")
		return kv.NewMemory()
	}
	return kv.NewRedis(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}))
}

func ProvideClients(cfg *config.Config, signer *signing.Signer, logger *slog.Logger) (*principal.Client, *preview.Client) {
	return principal.NewClient(cfg.Services.DirectoryURL, signer),
		preview.NewClient(cfg.Services.PreviewURL, signer, logger)
}

// ProvideStores selects the persistence backend: the column-family datastore
// when hosts are configured, the in-memory stores otherwise.
func ProvideStores(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (storage.MessageStore, storage.StreamStore, storage.RouteStore, storage.InvitationStore, error) {
	if len(cfg.Cassa.Hosts) == 0 {
		logger.Warn("no cassandra hosts configured, using the in-memory stores")
		return memory.NewMessageStore(), memory.NewStreamStore(), memory.NewRouteStore(), memory.NewInvitationStore(), nil
	}

	session, err := cassandra.Connect(cfg.Cassa.Hosts, cfg.Cassa.Keyspace)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			session.Close()
			return nil
		},
	})
	return cassandra.NewMessageStore(session),
		cassandra.NewStreamStore(session),
		cassandra.NewRouteStore(session),
		cassandra.NewInvitationStore(session),
		nil
}
