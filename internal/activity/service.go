// Package activity is the orchestration surface of the pipeline: domain
// events become seeds, seeds become routes, acknowledgments reset
// aggregation.
package activity

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/openacad/activity-service/internal/activity/aggregator"
	"github.com/openacad/activity-service/internal/activity/registry"
	"github.com/openacad/activity-service/internal/activity/router"
	"github.com/openacad/activity-service/internal/adapter/pubsub"
	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/emitter"
	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/messagebox"
)

type Service struct {
	router  *router.Router
	agg     *aggregator.Aggregator
	emitter *emitter.Emitter
	logger  *slog.Logger
}

func NewService(rt *router.Router, agg *aggregator.Aggregator, em *emitter.Emitter, logger *slog.Logger) *Service {
	return &Service{router: rt, agg: agg, emitter: em, logger: logger}
}

// PostActivity expands a seed into routes and queues them for collection.
// Returns the number of routes queued.
func (s *Service) PostActivity(ctx context.Context, seed *model.ActivitySeed) (int, error) {
	return s.router.Route(ctx, seed)
}

// Acknowledge marks a recipient's stream as read: the new-activity counter
// resets and open aggregates stop accepting merges.
func (s *Service) Acknowledge(ctx context.Context, recipientID string, stream model.StreamType) error {
	if recipientID == "" {
		return errs.Validation("acknowledging requires a recipient")
	}
	if !model.ValidStreamType(stream) {
		return errs.Validation("unknown stream type %q", stream)
	}
	if err := s.agg.ResetAggregation(ctx, recipientID, stream); err != nil {
		return err
	}
	s.emitter.Emit(ctx, emitter.EventStreamAcknowledged, recipientID, stream)
	return nil
}

// NewActivityCount reports the unacknowledged-aggregate count of a stream.
func (s *Service) NewActivityCount(ctx context.Context, recipientID string, stream model.StreamType) (int, error) {
	return s.agg.NewActivityCount(ctx, recipientID, stream)
}

// RegisterEventBridges subscribes the pipeline to the domain events that feed
// it. Message mutations become activity seeds; accepted invitations fan out
// over the MQ and replay as the dedicated accept activity.
func RegisterEventBridges(em *emitter.Emitter, svc *Service, dispatcher *pubsub.Dispatcher, logger *slog.Logger) {
	em.When(emitter.EventMessageCreated, func(ctx context.Context, args ...any) error {
		msg, ok := args[0].(*model.Message)
		if !ok {
			return nil
		}
		_, err := svc.PostActivity(ctx, &model.ActivitySeed{
			ActivityType: "message:created",
			Verb:         "post",
			Published:    msg.Created,
			Actor:        &model.ActivitySeedResource{ResourceType: "user", ResourceID: msg.CreatedBy},
			Object:       &model.ActivitySeedResource{ResourceType: "message", ResourceID: msg.ID, ResourceData: msg},
		})
		return err
	})

	em.On(emitter.EventInvitationAccepted, func(ctx context.Context, args ...any) {
		if len(args) < 3 {
			return
		}
		hashes, _ := args[0].([]string)
		changes, _ := args[1].(map[string]*model.MemberChangeInfo)
		inviters, _ := args[2].(map[string]string)
		if err := dispatcher.PublishAcceptedBatch(ctx, pubsub.AcceptedBatch{
			InvitationHashes: hashes,
			Changes:          changes,
			Inviters:         inviters,
		}); err != nil {
			logger.Error("could not fan out an accepted batch", "err", err)
		}
	})

	// The replayed batch arrives on a shared queue, so each join posts its
	// accept activity exactly once cluster-wide. Rollback revokes carry the
	// role "false" and announce nothing.
	em.When(emitter.EventInvitationAcceptedRemote, func(ctx context.Context, args ...any) error {
		if len(args) < 2 {
			return nil
		}
		changes, ok := args[1].(map[string]*model.MemberChangeInfo)
		if !ok {
			return nil
		}
		var errSum error
		for _, change := range changes {
			for principalID, role := range change.Changes {
				if role == "false" {
					continue
				}
				_, err := svc.PostActivity(ctx, &model.ActivitySeed{
					ActivityType: "invitation:accept",
					Verb:         "accept",
					Published:    time.Now().UnixMilli(),
					Actor:        &model.ActivitySeedResource{ResourceType: "user", ResourceID: principalID},
					Object:       &model.ActivitySeedResource{ResourceType: change.ResourceType, ResourceID: change.ResourceID},
				})
				errSum = multierr.Append(errSum, err)
			}
		}
		return errSum
	})
}

// Directory resolves resource memberships for the built-in associations. The
// membership backend lives outside this service.
type Directory interface {
	Members(ctx context.Context, resourceID string) ([]string, error)
	Managers(ctx context.Context, resourceID string) ([]string, error)
	MembersByRole(ctx context.Context, resourceID, role string) ([]string, error)
}

// CoreAssociations builds the association set shared by most object types.
// Object-type registrations embed these and add their own.
func CoreAssociations(dir Directory, boxes *messagebox.Service) map[string]registry.Association {
	assocs := map[string]registry.Association{
		"self": func(_ context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
			return []string{entity.ID}, nil
		},
		"members": func(ctx context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
			return dir.Members(ctx, entity.ID)
		},
		"managers": func(ctx context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
			return dir.Managers(ctx, entity.ID)
		},
	}
	if boxes != nil {
		assocs["message-contributors"] = func(ctx context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
			return boxes.GetRecentContributions(ctx, entity.ID, 100)
		}
	}
	return assocs
}

// MembersByRole derives a role-scoped association, e.g. MembersByRole(dir, "ta").
func MembersByRole(dir Directory, role string) registry.Association {
	return func(ctx context.Context, entity *model.PersistentActivityEntity) ([]string, error) {
		return dir.MembersByRole(ctx, entity.ID, role)
	}
}
