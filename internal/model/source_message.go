package model

import "time"

// SourceMessage is the immutable capture of one inbound chat thread root.
// (ChannelID, ThreadTS) is the stable external key; upstream redeliveries of
// the same thread hit the same row.
type SourceMessage struct {
	ID           int64     `json:"id"`
	ChannelID    string    `json:"channel_id"`
	ThreadTS     string    `json:"thread_ts"`
	Text         string    `json:"text"`
	ReplyCount   int       `json:"reply_count"`
	AuthorID     int64     `json:"author_id"`
	ActionItemID int64     `json:"action_item_id"`
	PostedAt     time.Time `json:"posted_at"`
	CreatedAt    time.Time `json:"created_at"`
}
