package invitations

import (
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/openacad/activity-service/internal/emitter"
	"github.com/openacad/activity-service/internal/infra/client/principal"
	"github.com/openacad/activity-service/internal/infra/signing"
	"github.com/openacad/activity-service/internal/storage"
)

// directoryResourceTypes are the resource types whose memberships live in the
// directory tier and accept the default grant-on-accept contract.
var directoryResourceTypes = []string{"group", "course"}

var Module = fx.Module("invitations",
	fx.Provide(
		func(store storage.InvitationStore, signer *signing.Signer, em *emitter.Emitter, logger *slog.Logger) *Service {
			return NewService(store, signer, em, logger, func() int64 {
				return time.Now().UnixMilli()
			})
		},
	),

	fx.Invoke(func(svc *Service, dir *principal.Client) {
		updater := NewDirectoryUpdater(dir)
		for _, resourceType := range directoryResourceTypes {
			svc.RegisterMemberUpdater(resourceType, updater)
		}
	}),
)
