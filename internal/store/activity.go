package store

import (
	"context"
	"time"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/model"
)

type activityStore struct {
	dbtx db.DBTX
}

func newActivityStore(dbtx db.DBTX) ActivityStore {
	return &activityStore{dbtx: dbtx}
}

func (s *activityStore) Append(ctx context.Context, entry *model.ActivityEntry) error {
	now := time.Now().UTC()
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO activity_log (id, action_item_id, actor_id, verb, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActionItemID, entry.ActorID, entry.Verb, entry.Detail, now)
	if err != nil {
		return err
	}
	entry.CreatedAt = now
	return nil
}

func (s *activityStore) ListByActionItem(ctx context.Context, actionItemID int64, limit int32) ([]model.ActivityEntry, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id, action_item_id, actor_id, verb, detail, created_at
		FROM activity_log WHERE action_item_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		actionItemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		if err := rows.Scan(&e.ID, &e.ActionItemID, &e.ActorID, &e.Verb, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
