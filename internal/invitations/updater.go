package invitations

import (
	"context"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/errs"
)

// MemberWriter commits member changes on the tier that owns memberships.
type MemberWriter interface {
	ApplyMemberChange(ctx context.Context, change *model.MemberChangeInfo) error
}

// DirectoryUpdater is the default member contract: the accepting principal is
// granted the invited role through the directory tier. Resource types with
// richer semantics register their own contract instead.
type DirectoryUpdater struct {
	writer MemberWriter
}

func NewDirectoryUpdater(writer MemberWriter) *DirectoryUpdater {
	return &DirectoryUpdater{writer: writer}
}

func (u *DirectoryUpdater) ComputeChanges(_ context.Context, principalID string, invs []*model.Invitation) (*model.MemberChangeInfo, error) {
	if len(invs) == 0 {
		return nil, errs.Internal("a member change needs at least one invitation", nil)
	}
	// One invitation per (email, resource); re-invites replaced the role in
	// place, so the stored role is already the effective one.
	return &model.MemberChangeInfo{
		ResourceID:   invs[0].ResourceID,
		ResourceType: invs[0].ResourceType,
		Changes:      map[string]string{principalID: invs[0].Role},
	}, nil
}

func (u *DirectoryUpdater) ApplyChanges(ctx context.Context, change *model.MemberChangeInfo) error {
	return u.writer.ApplyMemberChange(ctx, change)
}
