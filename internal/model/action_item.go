package model

import "time"

type Status string

type Resolution string

const (
	// StatusOpen means the item is actionable and unowned.
	StatusOpen Status = "open"
	// StatusAssigned means an assignee owns the item.
	StatusAssigned Status = "assigned"
	// StatusSnoozed means the item is parked until SnoozedUntil.
	StatusSnoozed Status = "snoozed"
	// StatusDormant is the state of a follow-up child before its due date
	// fires. It is not user-actionable and excluded from sweeps and digests.
	StatusDormant Status = "dormant"
	// StatusClosed is terminal; Resolution says how it closed.
	StatusClosed Status = "closed"
)

const (
	ResolutionResolved   Resolution = "resolved"
	ResolutionIrrelevant Resolution = "irrelevant"
)

// ActionItem is the unit of trackable work. Exactly one of its source
// relations (a chat SourceMessage chain or a forge TrackedIssue) is present.
type ActionItem struct {
	ID         int64       `json:"id"`
	Status     Status      `json:"status"`
	Resolution *Resolution `json:"resolution,omitempty"`

	AssigneeID *int64     `json:"assignee_id,omitempty"`
	AssignedOn *time.Time `json:"assigned_on,omitempty"`

	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
	SnoozeCount  int        `json:"snooze_count"`
	SnoozedByID  *int64     `json:"snoozed_by_id,omitempty"`

	Notes  *string `json:"notes,omitempty"`
	Reason *string `json:"reason,omitempty"`

	FirstReplyOn *time.Time `json:"first_reply_on,omitempty"`
	LastReplyOn  *time.Time `json:"last_reply_on,omitempty"`
	TotalReplies int        `json:"total_replies"`

	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenLike reports whether the item is in a state where lifecycle actions
// (assign, snooze, close) are legal.
func (a *ActionItem) OpenLike() bool {
	switch a.Status {
	case StatusOpen, StatusAssigned, StatusSnoozed:
		return true
	default:
		return false
	}
}
