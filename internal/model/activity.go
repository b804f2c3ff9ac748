package model

import "time"

// ActivityEntry is one append-only activity-log line. Every user-visible
// status transition writes one.
type ActivityEntry struct {
	ID           int64     `json:"id"`
	ActionItemID int64     `json:"action_item_id"`
	ActorID      *int64    `json:"actor_id,omitempty"`
	Verb         string    `json:"verb"`
	Detail       *string   `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
