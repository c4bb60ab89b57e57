package memory

import (
	"context"
	"sync"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/storage"
)

type InvitationStore struct {
	mu sync.RWMutex
	// byKey: email -> resourceID -> invitation
	byKey map[string]map[string]*model.Invitation
	// byToken: token -> set of primary keys
	byToken map[string]map[[2]string]bool
}

func NewInvitationStore() *InvitationStore {
	return &InvitationStore{
		byKey:   make(map[string]map[string]*model.Invitation),
		byToken: make(map[string]map[[2]string]bool),
	}
}

func (s *InvitationStore) Put(ctx context.Context, inv *model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byResource, ok := s.byKey[inv.Email]
	if !ok {
		byResource = make(map[string]*model.Invitation)
		s.byKey[inv.Email] = byResource
	}

	// Re-index when an upsert rotates the token.
	if old, ok := byResource[inv.ResourceID]; ok && old.Token != inv.Token {
		delete(s.byToken[old.Token], [2]string{old.Email, old.ResourceID})
	}

	cp := *inv
	byResource[inv.ResourceID] = &cp

	keys, ok := s.byToken[inv.Token]
	if !ok {
		keys = make(map[[2]string]bool)
		s.byToken[inv.Token] = keys
	}
	keys[[2]string{inv.Email, inv.ResourceID}] = true
	return nil
}

func (s *InvitationStore) Get(ctx context.Context, email, resourceID string) (*model.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inv, ok := s.byKey[email][resourceID]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (s *InvitationStore) GetByToken(ctx context.Context, token string) ([]*model.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var invs []*model.Invitation
	for key := range s.byToken[token] {
		if inv, ok := s.byKey[key[0]][key[1]]; ok {
			cp := *inv
			invs = append(invs, &cp)
		}
	}
	return invs, nil
}

func (s *InvitationStore) DeleteBatch(ctx context.Context, invs []*model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range invs {
		delete(s.byKey[inv.Email], inv.ResourceID)
		delete(s.byToken[inv.Token], [2]string{inv.Email, inv.ResourceID})
	}
	return nil
}
