package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/model"
)

type userStore struct {
	dbtx db.DBTX
}

func newUserStore(dbtx db.DBTX) UserStore {
	return &userStore{dbtx: dbtx}
}

const userColumns = `id, chat_handle, forge_handle, email, forge_token, opt_out_digest, created_at, updated_at`

func (s *userStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *userStore) GetByChatHandle(ctx context.Context, handle string) (*model.User, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE chat_handle = $1`, handle)
	return scanUser(row)
}

func (s *userStore) GetByForgeHandle(ctx context.Context, handle string) (*model.User, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE forge_handle = $1`, handle)
	return scanUser(row)
}

func (s *userStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *userStore) ListByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
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

func (s *userStore) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO users (id, chat_handle, forge_handle, email, forge_token, opt_out_digest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		user.ID, user.ChatHandle, user.ForgeHandle, user.Email, user.ForgeToken, user.OptOutDigest, now)
	if err != nil {
		return err
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (s *userStore) Update(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE users
		SET chat_handle = $2, forge_handle = $3, email = $4, forge_token = $5, opt_out_digest = $6, updated_at = $7
		WHERE id = $1`,
		user.ID, user.ChatHandle, user.ForgeHandle, user.Email, user.ForgeToken, user.OptOutDigest, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	user.UpdatedAt = now
	return nil
}

// Merge re-points every relation owned by the losers to the survivor, then
// deletes the loser rows. Participant rows are merged with ON CONFLICT so a
// user who touched an item under two identities keeps exactly one row.
func (s *userStore) Merge(ctx context.Context, survivorID int64, loserIDs []int64) error {
	if len(loserIDs) == 0 {
		return nil
	}

	repoints := []string{
		`UPDATE source_messages SET author_id = $1 WHERE author_id = ANY($2)`,
		`UPDATE tracked_issues SET author_id = $1 WHERE author_id = ANY($2)`,
		`UPDATE action_items SET assignee_id = $1 WHERE assignee_id = ANY($2)`,
		`UPDATE action_items SET snoozed_by_id = $1 WHERE snoozed_by_id = ANY($2)`,
		`UPDATE follow_ups SET created_by_id = $1 WHERE created_by_id = ANY($2)`,
		`UPDATE activity_log SET actor_id = $1 WHERE actor_id = ANY($2)`,
	}
	for _, q := range repoints {
		if _, err := s.dbtx.Exec(ctx, q, survivorID, loserIDs); err != nil {
			return fmt.Errorf("re-pointing relations to survivor %d: %w", survivorID, err)
		}
	}

	if _, err := s.dbtx.Exec(ctx, `
		INSERT INTO participants (action_item_id, user_id, role, first_seen_at)
		SELECT action_item_id, $1, role, first_seen_at FROM participants WHERE user_id = ANY($2)
		ON CONFLICT (action_item_id, user_id) DO NOTHING`,
		survivorID, loserIDs); err != nil {
		return fmt.Errorf("merging participant rows: %w", err)
	}
	if _, err := s.dbtx.Exec(ctx, `DELETE FROM participants WHERE user_id = ANY($1)`, loserIDs); err != nil {
		return fmt.Errorf("removing loser participant rows: %w", err)
	}

	if _, err := s.dbtx.Exec(ctx, `DELETE FROM users WHERE id = ANY($1)`, loserIDs); err != nil {
		return fmt.Errorf("deleting merged users: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.ChatHandle, &u.ForgeHandle, &u.Email, &u.ForgeToken, &u.OptOutDigest, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanUserRow(rows pgx.Rows) (*model.User, error) {
	var u model.User
	if err := rows.Scan(&u.ID, &u.ChatHandle, &u.ForgeHandle, &u.Email, &u.ForgeToken, &u.OptOutDigest, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
