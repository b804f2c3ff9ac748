package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/model"
)

type actionItemStore struct {
	dbtx db.DBTX
}

func newActionItemStore(dbtx db.DBTX) ActionItemStore {
	return &actionItemStore{dbtx: dbtx}
}

const actionItemColumns = `id, status, resolution, assignee_id, assigned_on, snoozed_until, snooze_count, snoozed_by_id,
	notes, reason, first_reply_on, last_reply_on, total_replies, resolved_at, created_at, updated_at`

func (s *actionItemStore) GetByID(ctx context.Context, id int64) (*model.ActionItem, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+actionItemColumns+` FROM action_items WHERE id = $1`, id)
	return scanActionItem(row)
}

func (s *actionItemStore) Create(ctx context.Context, item *model.ActionItem) error {
	now := time.Now().UTC()
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO action_items (id, status, resolution, assignee_id, assigned_on, snoozed_until, snooze_count, snoozed_by_id,
			notes, reason, first_reply_on, last_reply_on, total_replies, resolved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
		item.ID, item.Status, item.Resolution, item.AssigneeID, item.AssignedOn,
		item.SnoozedUntil, item.SnoozeCount, item.SnoozedByID,
		item.Notes, item.Reason, item.FirstReplyOn, item.LastReplyOn, item.TotalReplies,
		item.ResolvedAt, now)
	if err != nil {
		return err
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

// UpdateLifecycle writes every lifecycle-owned column in one targeted update.
// Reply-window aggregates are owned by UpdateReplyWindow and left alone here.
func (s *actionItemStore) UpdateLifecycle(ctx context.Context, item *model.ActionItem) error {
	now := time.Now().UTC()
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE action_items
		SET status = $2, resolution = $3, assignee_id = $4, assigned_on = $5,
			snoozed_until = $6, snooze_count = $7, snoozed_by_id = $8,
			reason = $9, resolved_at = $10, updated_at = $11
		WHERE id = $1`,
		item.ID, item.Status, item.Resolution, item.AssigneeID, item.AssignedOn,
		item.SnoozedUntil, item.SnoozeCount, item.SnoozedByID,
		item.Reason, item.ResolvedAt, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	item.UpdatedAt = now
	return nil
}

func (s *actionItemStore) UpdateReplyWindow(ctx context.Context, id int64, firstReplyOn, lastReplyOn *time.Time, totalReplies int) error {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE action_items
		SET first_reply_on = $2, last_reply_on = $3, total_replies = $4, updated_at = $5
		WHERE id = $1`,
		id, firstReplyOn, lastReplyOn, totalReplies, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *actionItemStore) AppendNote(ctx context.Context, id int64, note string) error {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE action_items
		SET notes = CASE WHEN notes IS NULL OR notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
			updated_at = $3
		WHERE id = $1`,
		id, note, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *actionItemStore) ListSnoozeDue(ctx context.Context, from, to time.Time) ([]model.ActionItem, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+actionItemColumns+` FROM action_items
		WHERE status = 'snoozed' AND snoozed_until >= $1 AND snoozed_until < $2
		ORDER BY snoozed_until`,
		from, to)
	if err != nil {
		return nil, err
	}
	return collectActionItems(rows)
}

func (s *actionItemStore) ListAssigned(ctx context.Context) ([]model.ActionItem, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+actionItemColumns+` FROM action_items
		WHERE status = 'assigned' AND assignee_id IS NOT NULL
		ORDER BY assigned_on`)
	if err != nil {
		return nil, err
	}
	return collectActionItems(rows)
}

// The digest queries scope items to a project through their source relation:
// chat-sourced items by channel, forge-sourced items by repository.
const digestScopeJoin = `
	LEFT JOIN source_messages sm ON sm.action_item_id = ai.id
	LEFT JOIN tracked_issues ti ON ti.action_item_id = ai.id
	WHERE (sm.channel_id = ANY($1) OR ti.repository = ANY($2))`

func (s *actionItemStore) CountOpenForSources(ctx context.Context, channelIDs []string, repos []string) (int64, error) {
	var n int64
	err := s.dbtx.QueryRow(ctx, `
		SELECT COUNT(DISTINCT ai.id) FROM action_items ai`+digestScopeJoin+`
		AND ai.status IN ('open', 'assigned', 'snoozed')`,
		channelIDs, repos).Scan(&n)
	return n, err
}

func (s *actionItemStore) CountClosedForSourcesSince(ctx context.Context, channelIDs []string, repos []string, since time.Time) (int64, error) {
	var n int64
	err := s.dbtx.QueryRow(ctx, `
		SELECT COUNT(DISTINCT ai.id) FROM action_items ai`+digestScopeJoin+`
		AND ai.status = 'closed' AND ai.resolved_at >= $3`,
		channelIDs, repos, since).Scan(&n)
	return n, err
}

func (s *actionItemStore) ListContributorsSince(ctx context.Context, channelIDs []string, repos []string, since time.Time) ([]model.User, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT DISTINCT u.id, u.chat_handle, u.forge_handle, u.email, u.forge_token, u.opt_out_digest, u.created_at, u.updated_at
		FROM action_items ai
		JOIN participants p ON p.action_item_id = ai.id
		JOIN users u ON u.id = p.user_id`+digestScopeJoin+`
		AND p.first_seen_at >= $3`,
		channelIDs, repos, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func collectActionItems(rows pgx.Rows) ([]model.ActionItem, error) {
	defer rows.Close()

	var items []model.ActionItem
	for rows.Next() {
		var a model.ActionItem
		if err := rows.Scan(&a.ID, &a.Status, &a.Resolution, &a.AssigneeID, &a.AssignedOn,
			&a.SnoozedUntil, &a.SnoozeCount, &a.SnoozedByID,
			&a.Notes, &a.Reason, &a.FirstReplyOn, &a.LastReplyOn, &a.TotalReplies,
			&a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func scanActionItem(row pgx.Row) (*model.ActionItem, error) {
	var a model.ActionItem
	err := row.Scan(&a.ID, &a.Status, &a.Resolution, &a.AssigneeID, &a.AssignedOn,
		&a.SnoozedUntil, &a.SnoozeCount, &a.SnoozedByID,
		&a.Notes, &a.Reason, &a.FirstReplyOn, &a.LastReplyOn, &a.TotalReplies,
		&a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
