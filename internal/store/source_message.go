package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/model"
)

type sourceMessageStore struct {
	dbtx db.DBTX
}

func newSourceMessageStore(dbtx db.DBTX) SourceMessageStore {
	return &sourceMessageStore{dbtx: dbtx}
}

const sourceMessageColumns = `id, channel_id, thread_ts, text, reply_count, author_id, action_item_id, posted_at, created_at`

func (s *sourceMessageStore) GetByThread(ctx context.Context, channelID, threadTS string) (*model.SourceMessage, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+sourceMessageColumns+` FROM source_messages WHERE channel_id = $1 AND thread_ts = $2`,
		channelID, threadTS)
	return scanSourceMessage(row)
}

func (s *sourceMessageStore) Create(ctx context.Context, msg *model.SourceMessage) error {
	now := time.Now().UTC()
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO source_messages (id, channel_id, thread_ts, text, reply_count, author_id, action_item_id, posted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ChannelID, msg.ThreadTS, msg.Text, msg.ReplyCount, msg.AuthorID, msg.ActionItemID, msg.PostedAt, now)
	if err != nil {
		return err
	}
	msg.CreatedAt = now
	return nil
}

func (s *sourceMessageStore) Update(ctx context.Context, msg *model.SourceMessage) error {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE source_messages SET text = $2, reply_count = $3, author_id = $4 WHERE id = $1`,
		msg.ID, msg.Text, msg.ReplyCount, msg.AuthorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sourceMessageStore) ListByActionItem(ctx context.Context, actionItemID int64) ([]model.SourceMessage, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT `+sourceMessageColumns+` FROM source_messages WHERE action_item_id = $1 ORDER BY posted_at`,
		actionItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.SourceMessage
	for rows.Next() {
		m, err := scanSourceMessageRow(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// LatestGroupable joins through to the owning action item so the
// lookup-then-attach window stays a single statement.
func (s *sourceMessageStore) LatestGroupable(ctx context.Context, channelID string, cutoff time.Time) (*model.SourceMessage, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT sm.id, sm.channel_id, sm.thread_ts, sm.text, sm.reply_count, sm.author_id, sm.action_item_id, sm.posted_at, sm.created_at
		FROM source_messages sm
		JOIN action_items ai ON ai.id = sm.action_item_id
		WHERE sm.channel_id = $1
		  AND sm.posted_at >= $2
		  AND ai.status = 'open'
		  AND ai.assignee_id IS NULL
		ORDER BY sm.posted_at DESC
		LIMIT 1`,
		channelID, cutoff)
	return scanSourceMessage(row)
}

func (s *sourceMessageStore) DeleteByThread(ctx context.Context, channelID, threadTS string) (*model.SourceMessage, error) {
	row := s.dbtx.QueryRow(ctx, `
		DELETE FROM source_messages WHERE channel_id = $1 AND thread_ts = $2
		RETURNING `+sourceMessageColumns,
		channelID, threadTS)
	return scanSourceMessage(row)
}

func scanSourceMessage(row pgx.Row) (*model.SourceMessage, error) {
	var m model.SourceMessage
	err := row.Scan(&m.ID, &m.ChannelID, &m.ThreadTS, &m.Text, &m.ReplyCount, &m.AuthorID, &m.ActionItemID, &m.PostedAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func scanSourceMessageRow(rows pgx.Rows) (*model.SourceMessage, error) {
	var m model.SourceMessage
	if err := rows.Scan(&m.ID, &m.ChannelID, &m.ThreadTS, &m.Text, &m.ReplyCount, &m.AuthorID, &m.ActionItemID, &m.PostedAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
