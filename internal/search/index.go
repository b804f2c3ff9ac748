package search

import "context"

// Document is the full current snapshot of an action item pushed to the
// search index on every user-visible change.
type Document struct {
	ID           string   `json:"id"` // action item id, decimal string
	Status       string   `json:"status"`
	Resolution   string   `json:"resolution,omitempty"`
	Text         string   `json:"text,omitempty"`
	ChannelID    string   `json:"channel_id,omitempty"`
	Repository   string   `json:"repository,omitempty"`
	AssigneeID   *int64   `json:"assignee_id,omitempty"`
	Participants []string `json:"participants,omitempty"`
	TotalReplies int      `json:"total_replies"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`

	// Monotonic counters accumulated by the index collaborator.
	TimesAssigned int64 `json:"times_assigned"`
	TimesResolved int64 `json:"times_resolved"`
	TimesSnoozed  int64 `json:"times_snoozed"`
}

// Counters are the optional increments applied on top of the stored
// document's accumulated values.
type Counters struct {
	Assigned int64
	Resolved int64
	Snoozed  int64
}

// Index is the outbound boundary to the full-text search collaborator.
type Index interface {
	EnsureCollection(ctx context.Context) error
	UpsertDocument(ctx context.Context, doc Document, counters *Counters) error
	DeleteDocument(ctx context.Context, id string) error
}
