package model

import "time"

type IssueState string

const (
	IssueStateOpen   IssueState = "open"
	IssueStateClosed IssueState = "closed"
)

// TrackedIssue mirrors a remote forge issue or merge request. NodeID is the
// forge's stable global identifier; webhook redeliveries upsert by it.
type TrackedIssue struct {
	ID           int64      `json:"id"`
	NodeID       string     `json:"node_id"`
	Number       int64      `json:"number"`
	Title        string     `json:"title"`
	Body         *string    `json:"body,omitempty"`
	State        IssueState `json:"state"`
	AuthorID     int64      `json:"author_id"`
	Repository   string     `json:"repository"`
	Labels       []string   `json:"labels,omitempty"`
	ActionItemID int64      `json:"action_item_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
