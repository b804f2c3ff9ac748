package model

import "time"

type ParticipantRole string

const (
	ParticipantRoleAuthor  ParticipantRole = "author"
	ParticipantRoleReplier ParticipantRole = "replier"
)

// Participant joins a User to an ActionItem they have touched, deduplicated
// by user id per item.
type Participant struct {
	ActionItemID int64           `json:"action_item_id"`
	UserID       int64           `json:"user_id"`
	Role         ParticipantRole `json:"role"`
	FirstSeenAt  time.Time       `json:"first_seen_at"`
}
