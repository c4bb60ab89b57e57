// Package invitations manages email-keyed role grants on resources. Pending
// invitations accumulate until the invitee authenticates with the token from
// their email, at which point every invitation behind that token is applied
// in one all-or-nothing pass.
package invitations

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/emitter"
	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/infra/signing"
	"github.com/openacad/activity-service/internal/storage"
)

// MemberUpdater is the per-resource-type contract that turns accepted
// invitations into membership changes and applies them.
type MemberUpdater interface {
	// ComputeChanges derives the member update for one resource from its
	// accepted invitations. The principal is the accepting user.
	ComputeChanges(ctx context.Context, principalID string, invs []*model.Invitation) (*model.MemberChangeInfo, error)
	// ApplyChanges commits the computed update.
	ApplyChanges(ctx context.Context, change *model.MemberChangeInfo) error
}

type Service struct {
	store   storage.InvitationStore
	signer  *signing.Signer
	emitter *emitter.Emitter
	logger  *slog.Logger

	// updaters maps resourceType to its member-update contract.
	updaters map[string]MemberUpdater

	now func() int64
}

func NewService(store storage.InvitationStore, signer *signing.Signer, em *emitter.Emitter, logger *slog.Logger, now func() int64) *Service {
	return &Service{
		store:    store,
		signer:   signer,
		emitter:  em,
		logger:   logger,
		updaters: make(map[string]MemberUpdater),
		now:      now,
	}
}

// RegisterMemberUpdater binds a resource type to its member-update contract.
// Startup-time registration; last wins.
func (s *Service) RegisterMemberUpdater(resourceType string, updater MemberUpdater) {
	s.updaters[resourceType] = updater
}

// Invite upserts a pending invitation. Re-inviting the same email to the same
// resource replaces the role, so an upgrade never needs a revoke first.
func (s *Service) Invite(ctx context.Context, inv *model.Invitation) (*model.Invitation, error) {
	if inv.Email == "" || !strings.Contains(inv.Email, "@") {
		return nil, errs.Validation("an invitation needs a valid email")
	}
	if inv.ResourceID == "" || inv.ResourceType == "" {
		return nil, errs.Validation("an invitation needs a resource")
	}
	if inv.Role == "" {
		return nil, errs.Validation("an invitation needs a role")
	}
	if _, ok := s.updaters[inv.ResourceType]; !ok {
		return nil, errs.Validation("no member contract for resource type %q", inv.ResourceType)
	}

	stored := *inv
	stored.Email = strings.ToLower(inv.Email)
	// Per-email token: one accept consumes every resource the email was
	// invited to, not just the one the accept link came from.
	stored.Token = s.signer.HashInvitation(stored.Email)
	stored.Created = s.now()

	if err := s.store.Put(ctx, &stored); err != nil {
		return nil, errs.Internal("could not persist the invitation", err)
	}

	s.emitter.Emit(ctx, emitter.EventInvitationCreated, &stored)
	return &stored, nil
}

// Get returns the pending invitation for (email, resource), if any.
func (s *Service) Get(ctx context.Context, email, resourceID string) (*model.Invitation, error) {
	inv, err := s.store.Get(ctx, strings.ToLower(email), resourceID)
	if err == storage.ErrNotFound {
		return nil, errs.NotFound("no pending invitation")
	}
	if err != nil {
		return nil, errs.Internal("could not read the invitation", err)
	}
	return inv, nil
}

// Accept applies every invitation behind the token on behalf of the
// authenticated principal. The whole batch commits or none of it does: all
// member changes are computed and applied before any invitation is consumed,
// and the first failure aborts without consuming anything.
func (s *Service) Accept(ctx context.Context, principalID, token string) ([]*model.MemberChangeInfo, error) {
	if principalID == "" {
		return nil, errs.Unauthorized("accepting requires an authenticated user")
	}

	invs, err := s.store.GetByToken(ctx, token)
	if err != nil && err != storage.ErrNotFound {
		return nil, errs.Internal("could not resolve the invitation token", err)
	}
	if len(invs) == 0 {
		return nil, errs.NotFound("the invitation token matches nothing")
	}

	byResource := make(map[string][]*model.Invitation)
	var resourceOrder []string
	for _, inv := range invs {
		if _, seen := byResource[inv.ResourceID]; !seen {
			resourceOrder = append(resourceOrder, inv.ResourceID)
		}
		byResource[inv.ResourceID] = append(byResource[inv.ResourceID], inv)
	}
	sort.Strings(resourceOrder)

	// Phase one: compute every change. A resource type without a contract
	// fails the whole accept before anything is touched.
	changes := make([]*model.MemberChangeInfo, 0, len(resourceOrder))
	for _, resourceID := range resourceOrder {
		group := byResource[resourceID]
		updater, ok := s.updaters[group[0].ResourceType]
		if !ok {
			return nil, errs.Internal("no member contract for resource type "+group[0].ResourceType, nil)
		}
		change, err := updater.ComputeChanges(ctx, principalID, group)
		if err != nil {
			return nil, errs.Internal("could not compute member changes for "+resourceID, err)
		}
		changes = append(changes, change)
	}

	// Phase two: apply. On a failure the already-committed resources are
	// revoked again, so a partial accept never leaves roles behind, and the
	// invitations stay pending for a retry.
	for i, change := range changes {
		updater := s.updaters[change.ResourceType]
		if err := updater.ApplyChanges(ctx, change); err != nil {
			s.rollback(ctx, changes[:i])
			return nil, errs.Internal("could not apply member changes for "+change.ResourceID, err)
		}
	}

	if err := s.store.DeleteBatch(ctx, invs); err != nil {
		// The grants are in; a leftover invitation row is re-consumable noise.
		s.logger.Error("could not consume accepted invitations", "token_matches", len(invs), "err", err)
	}

	// One hash per consumed email; the whole batch shares the token.
	hashes := []string{token}
	inviters := make(map[string]string, len(invs))
	changesByResource := make(map[string]*model.MemberChangeInfo, len(changes))
	for _, inv := range invs {
		if inv.InviterUserID != "" {
			inviters[inv.InviterUserID] = inv.InviterUserID
		}
	}
	for _, change := range changes {
		changesByResource[change.ResourceID] = change
	}
	s.emitter.Emit(ctx, emitter.EventInvitationAccepted, hashes, changesByResource, inviters)

	return changes, nil
}

// rollback revokes already-applied member changes after a mid-batch failure.
// Revoke failures are logged; the pending invitations allow a clean retry.
func (s *Service) rollback(ctx context.Context, applied []*model.MemberChangeInfo) {
	for i := len(applied) - 1; i >= 0; i-- {
		change := applied[i]
		revoke := &model.MemberChangeInfo{
			ResourceID:   change.ResourceID,
			ResourceType: change.ResourceType,
			Changes:      make(map[string]string, len(change.Changes)),
		}
		for principalID := range change.Changes {
			revoke.Changes[principalID] = "false"
		}
		if err := s.updaters[change.ResourceType].ApplyChanges(ctx, revoke); err != nil {
			s.logger.Error("could not revoke a partially accepted resource",
				"resource_id", change.ResourceID, "err", err)
		}
	}
}
