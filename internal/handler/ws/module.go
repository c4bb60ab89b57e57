package ws

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/openacad/activity-service/config"
	"github.com/openacad/activity-service/internal/infra/signing"
	"github.com/openacad/activity-service/internal/push"
)

var Module = fx.Module("ws-handler",
	fx.Provide(
		func(logger *slog.Logger, hub push.Hubber, signer *signing.Signer, cfg *config.Config) *Handler {
			return NewHandler(logger, hub, signer, cfg.Push.AuthenticationTimeout(), cfg.Push.MailboxSize)
		},
	),
)
