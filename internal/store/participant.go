package store

import (
	"context"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/model"
)

type participantStore struct {
	dbtx db.DBTX
}

func newParticipantStore(dbtx db.DBTX) ParticipantStore {
	return &participantStore{dbtx: dbtx}
}

func (s *participantStore) Upsert(ctx context.Context, p *model.Participant) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO participants (action_item_id, user_id, role, first_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (action_item_id, user_id) DO NOTHING`,
		p.ActionItemID, p.UserID, p.Role, p.FirstSeenAt)
	return err
}

func (s *participantStore) ListByActionItem(ctx context.Context, actionItemID int64) ([]model.Participant, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT action_item_id, user_id, role, first_seen_at
		FROM participants WHERE action_item_id = $1 ORDER BY first_seen_at`,
		actionItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ps []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ActionItemID, &p.UserID, &p.Role, &p.FirstSeenAt); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

func (s *participantStore) DeleteByActionItem(ctx context.Context, actionItemID int64) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM participants WHERE action_item_id = $1`, actionItemID)
	return err
}
