package invitations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/emitter"
	"github.com/openacad/activity-service/internal/errs"
	"github.com/openacad/activity-service/internal/infra/signing"
	"github.com/openacad/activity-service/internal/storage/memory"
)

type fakeUpdater struct {
	mu      sync.Mutex
	applied []*model.MemberChangeInfo
	// failOn makes ApplyChanges fail for one resource id.
	failOn string
}

func (u *fakeUpdater) ComputeChanges(_ context.Context, principalID string, invs []*model.Invitation) (*model.MemberChangeInfo, error) {
	changes := make(map[string]string)
	for range invs {
		changes[principalID] = invs[len(invs)-1].Role
	}
	return &model.MemberChangeInfo{
		ResourceID:   invs[0].ResourceID,
		ResourceType: invs[0].ResourceType,
		Changes:      changes,
	}, nil
}

func (u *fakeUpdater) ApplyChanges(_ context.Context, change *model.MemberChangeInfo) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failOn == change.ResourceID {
		return errors.New("membership backend down")
	}
	u.applied = append(u.applied, change)
	return nil
}

func (u *fakeUpdater) snapshot() []*model.MemberChangeInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*model.MemberChangeInfo(nil), u.applied...)
}

type invFixture struct {
	svc     *Service
	signer  *signing.Signer
	em      *emitter.Emitter
	updater *fakeUpdater
}

func newInvFixture(t *testing.T) *invFixture {
	t.Helper()
	signer := signing.New([]byte("test-key"))
	em := emitter.New()
	svc := NewService(
		memory.NewInvitationStore(),
		signer,
		em,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		func() int64 { return 1000 },
	)
	updater := &fakeUpdater{}
	svc.RegisterMemberUpdater("group", updater)
	return &invFixture{svc: svc, signer: signer, em: em, updater: updater}
}

func invite(email, resourceID, role string) *model.Invitation {
	return &model.Invitation{
		ResourceID:    resourceID,
		ResourceType:  "group",
		Email:         email,
		Role:          role,
		InviterUserID: "u:admin",
	}
}

func TestInviteValidation(t *testing.T) {
	f := newInvFixture(t)
	ctx := context.Background()

	_, err := f.svc.Invite(ctx, invite("not-an-email", "g:staff", "member"))
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = f.svc.Invite(ctx, invite("mira@example.edu", "", "member"))
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = f.svc.Invite(ctx, invite("mira@example.edu", "g:staff", ""))
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	unknown := invite("mira@example.edu", "g:staff", "member")
	unknown.ResourceType = "widget"
	_, err = f.svc.Invite(ctx, unknown)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestInviteDerivesTokenAndEmitsEvent(t *testing.T) {
	f := newInvFixture(t)
	var created *model.Invitation
	f.em.On(emitter.EventInvitationCreated, func(_ context.Context, args ...any) {
		created = args[0].(*model.Invitation)
	})

	inv, err := f.svc.Invite(context.Background(), invite("Mira@Example.edu", "g:staff", "member"))
	require.NoError(t, err)

	// Email is canonicalized and the token is derived, not random.
	assert.Equal(t, "mira@example.edu", inv.Email)
	assert.Equal(t, f.signer.HashInvitation("mira@example.edu"), inv.Token)
	assert.EqualValues(t, 1000, inv.Created)
	require.NotNil(t, created)
	assert.Equal(t, inv.Token, created.Token)
}

func TestReinviteUpgradesRole(t *testing.T) {
	f := newInvFixture(t)
	ctx := context.Background()

	first, err := f.svc.Invite(ctx, invite("mira@example.edu", "g:staff", "member"))
	require.NoError(t, err)
	second, err := f.svc.Invite(ctx, invite("mira@example.edu", "g:staff", "manager"))
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)

	stored, err := f.svc.Get(ctx, "mira@example.edu", "g:staff")
	require.NoError(t, err)
	assert.Equal(t, "manager", stored.Role)
}

func TestAcceptAppliesEveryResourceAndConsumes(t *testing.T) {
	f := newInvFixture(t)
	ctx := context.Background()

	_, err := f.svc.Invite(ctx, invite("mira@example.edu", "g:staff", "member"))
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, invite("mira@example.edu", "g:faculty", "manager"))
	require.NoError(t, err)

	var acceptedHashes []string
	f.em.On(emitter.EventInvitationAccepted, func(_ context.Context, args ...any) {
		acceptedHashes = args[0].([]string)
	})

	// The token is per email: one accept consumes both resources.
	token := f.signer.HashInvitation("mira@example.edu")
	changes, err := f.svc.Accept(ctx, "u:mira", token)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "g:faculty", changes[0].ResourceID)
	assert.Equal(t, map[string]string{"u:mira": "manager"}, changes[0].Changes)
	assert.Equal(t, "g:staff", changes[1].ResourceID)
	assert.Equal(t, map[string]string{"u:mira": "member"}, changes[1].Changes)

	assert.Len(t, f.updater.snapshot(), 2)
	assert.Equal(t, []string{token}, acceptedHashes)

	// Consumed: the same token resolves nothing anymore.
	_, err = f.svc.Accept(ctx, "u:mira", token)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestAcceptUnknownTokenIsNotFound(t *testing.T) {
	f := newInvFixture(t)
	_, err := f.svc.Accept(context.Background(), "u:mira", "bogus")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestAcceptRequiresPrincipal(t *testing.T) {
	f := newInvFixture(t)
	_, err := f.svc.Accept(context.Background(), "", "token")
	assert.True(t, errs.IsKind(err, errs.KindUnauthorized))
}

func TestFailedApplyRollsBackAndLeavesInvitationsPending(t *testing.T) {
	f := newInvFixture(t)
	ctx := context.Background()

	_, err := f.svc.Invite(ctx, invite("mira@example.edu", "g:staff", "member"))
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, invite("mira@example.edu", "g:faculty", "manager"))
	require.NoError(t, err)

	f.updater.mu.Lock()
	f.updater.failOn = "g:staff"
	f.updater.mu.Unlock()

	token := f.signer.HashInvitation("mira@example.edu")
	_, err = f.svc.Accept(ctx, "u:mira", token)
	require.Error(t, err)

	// The faculty grant that landed before the staff failure was revoked, so
	// the partial accept left no role behind.
	applied := f.updater.snapshot()
	require.Len(t, applied, 2)
	assert.Equal(t, "g:faculty", applied[0].ResourceID)
	assert.Equal(t, map[string]string{"u:mira": "manager"}, applied[0].Changes)
	assert.Equal(t, "g:faculty", applied[1].ResourceID)
	assert.Equal(t, map[string]string{"u:mira": "false"}, applied[1].Changes)

	// Nothing was consumed; the accept is retryable in full.
	f.updater.mu.Lock()
	f.updater.failOn = ""
	f.updater.mu.Unlock()
	changes, err := f.svc.Accept(ctx, "u:mira", token)
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}
