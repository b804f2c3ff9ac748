package model

import "time"

// FollowUp is a scheduled forward link from a closed parent item to a
// dormant child item that becomes actionable on DueOn. A parent has at most
// one live (unfired, future-dated) follow-up; rescheduling updates the row
// in place.
type FollowUp struct {
	ParentID    int64      `json:"parent_id"`
	ChildID     int64      `json:"child_id"`
	DueOn       time.Time  `json:"due_on"`
	CreatedByID int64      `json:"created_by_id"`
	FiredAt     *time.Time `json:"fired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Pending reports whether the follow-up is still waiting to fire.
func (f *FollowUp) Pending(now time.Time) bool {
	return f.FiredAt == nil && f.DueOn.After(now)
}
