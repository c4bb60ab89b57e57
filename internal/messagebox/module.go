package messagebox

import (
	"go.uber.org/fx"

	"github.com/openacad/activity-service/config"
)

var Module = fx.Module("messagebox",
	fx.Provide(
		func(cfg *config.Config) *URLRewriter {
			return NewURLRewriter(cfg.Tenant.Hosts)
		},
		NewService,
	),
)
