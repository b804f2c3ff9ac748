package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/model"
)

type trackedIssueStore struct {
	dbtx db.DBTX
}

func newTrackedIssueStore(dbtx db.DBTX) TrackedIssueStore {
	return &trackedIssueStore{dbtx: dbtx}
}

const trackedIssueColumns = `id, node_id, number, title, body, state, author_id, repository, labels, action_item_id, created_at, updated_at`

func (s *trackedIssueStore) GetByNodeID(ctx context.Context, nodeID string) (*model.TrackedIssue, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+trackedIssueColumns+` FROM tracked_issues WHERE node_id = $1`, nodeID)
	return scanTrackedIssue(row)
}

func (s *trackedIssueStore) GetByActionItem(ctx context.Context, actionItemID int64) (*model.TrackedIssue, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+trackedIssueColumns+` FROM tracked_issues WHERE action_item_id = $1`, actionItemID)
	return scanTrackedIssue(row)
}

func (s *trackedIssueStore) Upsert(ctx context.Context, issue *model.TrackedIssue) (*model.TrackedIssue, bool, error) {
	now := time.Now().UTC()
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO tracked_issues (id, node_id, number, title, body, state, author_id, repository, labels, action_item_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (node_id) DO UPDATE SET
			number = EXCLUDED.number,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			state = EXCLUDED.state,
			labels = EXCLUDED.labels,
			updated_at = EXCLUDED.updated_at
		RETURNING `+trackedIssueColumns+`, (xmax = 0) AS inserted`,
		issue.ID, issue.NodeID, issue.Number, issue.Title, issue.Body, issue.State,
		issue.AuthorID, issue.Repository, issue.Labels, issue.ActionItemID, now)

	var out model.TrackedIssue
	var inserted bool
	err := row.Scan(&out.ID, &out.NodeID, &out.Number, &out.Title, &out.Body, &out.State,
		&out.AuthorID, &out.Repository, &out.Labels, &out.ActionItemID, &out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, err
	}
	return &out, inserted, nil
}

func (s *trackedIssueStore) Update(ctx context.Context, issue *model.TrackedIssue) error {
	now := time.Now().UTC()
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE tracked_issues
		SET number = $2, title = $3, body = $4, state = $5, labels = $6, updated_at = $7
		WHERE id = $1`,
		issue.ID, issue.Number, issue.Title, issue.Body, issue.State, issue.Labels, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	issue.UpdatedAt = now
	return nil
}

func scanTrackedIssue(row pgx.Row) (*model.TrackedIssue, error) {
	var t model.TrackedIssue
	err := row.Scan(&t.ID, &t.NodeID, &t.Number, &t.Title, &t.Body, &t.State, &t.AuthorID,
		&t.Repository, &t.Labels, &t.ActionItemID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
