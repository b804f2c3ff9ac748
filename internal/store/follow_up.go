package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/model"
)

type followUpStore struct {
	dbtx db.DBTX
}

func newFollowUpStore(dbtx db.DBTX) FollowUpStore {
	return &followUpStore{dbtx: dbtx}
}

const followUpColumns = `parent_id, child_id, due_on, created_by_id, fired_at, created_at, updated_at`

func (s *followUpStore) GetPendingByParent(ctx context.Context, parentID int64) (*model.FollowUp, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+followUpColumns+` FROM follow_ups WHERE parent_id = $1 AND fired_at IS NULL`,
		parentID)
	return scanFollowUp(row)
}

func (s *followUpStore) GetByChild(ctx context.Context, childID int64) (*model.FollowUp, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+followUpColumns+` FROM follow_ups WHERE child_id = $1`,
		childID)
	return scanFollowUp(row)
}

// UpsertPending relies on the partial unique index on (parent_id) WHERE
// fired_at IS NULL: a parent carries at most one live link, and rescheduling
// rewrites that link instead of adding a second one.
func (s *followUpStore) UpsertPending(ctx context.Context, fu *model.FollowUp) error {
	now := time.Now().UTC()
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO follow_ups (parent_id, child_id, due_on, created_by_id, fired_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $5)
		ON CONFLICT (parent_id) WHERE fired_at IS NULL DO UPDATE SET
			child_id = EXCLUDED.child_id,
			due_on = EXCLUDED.due_on,
			created_by_id = EXCLUDED.created_by_id,
			updated_at = EXCLUDED.updated_at`,
		fu.ParentID, fu.ChildID, fu.DueOn, fu.CreatedByID, now)
	if err != nil {
		return err
	}
	fu.UpdatedAt = now
	return nil
}

func (s *followUpStore) ListDue(ctx context.Context, from, to time.Time) ([]model.FollowUp, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT `+followUpColumns+` FROM follow_ups
		WHERE fired_at IS NULL AND due_on >= $1 AND due_on < $2
		ORDER BY due_on`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fus []model.FollowUp
	for rows.Next() {
		var f model.FollowUp
		if err := rows.Scan(&f.ParentID, &f.ChildID, &f.DueOn, &f.CreatedByID, &f.FiredAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		fus = append(fus, f)
	}
	return fus, rows.Err()
}

// MarkFired is conditional on fired_at still being NULL so a follow-up fires
// at most once even if two sweep runs overlap.
func (s *followUpStore) MarkFired(ctx context.Context, parentID, childID int64, firedAt time.Time) error {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE follow_ups SET fired_at = $3, updated_at = $3
		WHERE parent_id = $1 AND child_id = $2 AND fired_at IS NULL`,
		parentID, childID, firedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFollowUp(row pgx.Row) (*model.FollowUp, error) {
	var f model.FollowUp
	err := row.Scan(&f.ParentID, &f.ChildID, &f.DueOn, &f.CreatedByID, &f.FiredAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}
