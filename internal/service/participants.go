package service

import (
	"context"
	"fmt"
	"time"

	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/store"
)

// ParticipantService maintains the roster of users who have touched an item.
type ParticipantService interface {
	// Sync resolves each reference and upserts a participant row. Existing
	// (item, user) pairs are left untouched.
	Sync(ctx context.Context, actionItemID int64, refs []Ref, role model.ParticipantRole) error
	// Reset drops the roster so the caller can re-derive it from the union of
	// thread reply authors and previously known participants.
	Reset(ctx context.Context, actionItemID int64) ([]model.Participant, error)
}

type participantService struct {
	participants store.ParticipantStore
	identity     IdentityService
}

func NewParticipantService(participants store.ParticipantStore, identity IdentityService) ParticipantService {
	return &participantService{participants: participants, identity: identity}
}

func (s *participantService) Sync(ctx context.Context, actionItemID int64, refs []Ref, role model.ParticipantRole) error {
	now := time.Now().UTC()
	for _, ref := range refs {
		if ref.empty() {
			continue
		}
		user, err := s.identity.Resolve(ctx, ref)
		if err != nil {
			return fmt.Errorf("resolving participant: %w", err)
		}
		p := &model.Participant{
			ActionItemID: actionItemID,
			UserID:       user.ID,
			Role:         role,
			FirstSeenAt:  now,
		}
		if err := s.participants.Upsert(ctx, p); err != nil {
			return fmt.Errorf("upserting participant %d: %w", user.ID, err)
		}
	}
	return nil
}

func (s *participantService) Reset(ctx context.Context, actionItemID int64) ([]model.Participant, error) {
	existing, err := s.participants.ListByActionItem(ctx, actionItemID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	if err := s.participants.DeleteByActionItem(ctx, actionItemID); err != nil {
		return nil, fmt.Errorf("resetting participants: %w", err)
	}
	return existing, nil
}
