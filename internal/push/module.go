package push

import (
	"go.uber.org/fx"

	"github.com/openacad/activity-service/config"
)

var Module = fx.Module("push",
	fx.Provide(
		func(cfg *config.Config) *Hub {
			return NewHub(cfg.Push.MailboxSize)
		},
		func(h *Hub) Hubber { return h },
		NewDeliverer,
	),
)
