package cassandra

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type InvitationStore struct {
	session *gocql.Session
}

func NewInvitationStore(session *gocql.Session) *InvitationStore {
	return &InvitationStore{session: session}
}

func (s *InvitationStore) Put(ctx context.Context, inv *model.Invitation) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO "Invitations" ("email", "resourceId", "resourceType", "role", "inviterUserId", "token", "created")
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.Email, inv.ResourceID, inv.ResourceType, inv.Role, inv.InviterUserID, inv.Token, inv.Created,
	)
	batch.Query(
		`INSERT INTO "InvitationsByToken" ("token", "email", "resourceId") VALUES (?, ?, ?)`,
		inv.Token, inv.Email, inv.ResourceID,
	)
	return s.session.ExecuteBatch(batch)
}

func (s *InvitationStore) Get(ctx context.Context, email, resourceID string) (*model.Invitation, error) {
	inv := &model.Invitation{Email: email, ResourceID: resourceID}
	err := s.session.Query(
		`SELECT "resourceType", "role", "inviterUserId", "token", "created"
		 FROM "Invitations" WHERE "email" = ? AND "resourceId" = ?`,
		email, resourceID,
	).WithContext(ctx).Scan(&inv.ResourceType, &inv.Role, &inv.InviterUserID, &inv.Token, &inv.Created)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cassandra: get invitation: %w", err)
	}
	return inv, nil
}

func (s *InvitationStore) GetByToken(ctx context.Context, token string) ([]*model.Invitation, error) {
	iter := s.session.Query(
		`SELECT "email", "resourceId" FROM "InvitationsByToken" WHERE "token" = ?`,
		token,
	).WithContext(ctx).Iter()

	var (
		email, resourceID string
		invs              []*model.Invitation
	)
	for iter.Scan(&email, &resourceID) {
		inv, err := s.Get(ctx, email, resourceID)
		if errors.Is(err, storage.ErrNotFound) {
			continue // index row outlived its invitation
		}
		if err != nil {
			iter.Close()
			return nil, err
		}
		invs = append(invs, inv)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: invitations by token: %w", err)
	}
	return invs, nil
}

func (s *InvitationStore) DeleteBatch(ctx context.Context, invs []*model.Invitation) error {
	if len(invs) == 0 {
		return nil
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, inv := range invs {
		batch.Query(`DELETE FROM "Invitations" WHERE "email" = ? AND "resourceId" = ?`, inv.Email, inv.ResourceID)
		batch.Query(`DELETE FROM "InvitationsByToken" WHERE "token" = ? AND "email" = ? AND "resourceId" = ?`,
			inv.Token, inv.Email, inv.ResourceID)
	}
	return s.session.ExecuteBatch(batch)
}
