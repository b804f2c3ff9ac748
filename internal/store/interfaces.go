package store

import (
	"context"
	"errors"
	"time"

	"triagedesk.app/triage/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// UserStore defines the contract for canonical user data access
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByChatHandle(ctx context.Context, handle string) (*model.User, error)
	GetByForgeHandle(ctx context.Context, handle string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]model.User, error)
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	// Merge re-points every foreign key held by the loser rows (source
	// messages, tracked issues, participants, assignee/snoozed-by references,
	// follow-up authorship) to the survivor and deletes the losers. Callers
	// must run it inside a transaction; a partial merge is an invariant
	// violation.
	Merge(ctx context.Context, survivorID int64, loserIDs []int64) error
}

// SourceMessageStore defines the contract for chat thread-root captures
type SourceMessageStore interface {
	GetByThread(ctx context.Context, channelID, threadTS string) (*model.SourceMessage, error)
	Create(ctx context.Context, msg *model.SourceMessage) error
	Update(ctx context.Context, msg *model.SourceMessage) error
	ListByActionItem(ctx context.Context, actionItemID int64) ([]model.SourceMessage, error)
	// LatestGroupable returns the newest source message in the channel whose
	// owning action item is open, unassigned, and created at or after the
	// cutoff. ErrNotFound when no candidate exists.
	LatestGroupable(ctx context.Context, channelID string, cutoff time.Time) (*model.SourceMessage, error)
	DeleteByThread(ctx context.Context, channelID, threadTS string) (*model.SourceMessage, error)
}

// TrackedIssueStore defines the contract for forge issue mirrors
type TrackedIssueStore interface {
	GetByNodeID(ctx context.Context, nodeID string) (*model.TrackedIssue, error)
	GetByActionItem(ctx context.Context, actionItemID int64) (*model.TrackedIssue, error)
	// Upsert inserts or refreshes the mirror keyed by node id. Returns the
	// stored row and whether it was newly created. The action item linkage is
	// only written on insert; redeliveries never re-point it.
	Upsert(ctx context.Context, issue *model.TrackedIssue) (*model.TrackedIssue, bool, error)
	Update(ctx context.Context, issue *model.TrackedIssue) error
}

// ActionItemStore defines the contract for action item data access
type ActionItemStore interface {
	GetByID(ctx context.Context, id int64) (*model.ActionItem, error)
	Create(ctx context.Context, item *model.ActionItem) error
	// UpdateLifecycle writes the status, resolution, assignment, snooze, and
	// reason columns in one targeted update keyed by id.
	UpdateLifecycle(ctx context.Context, item *model.ActionItem) error
	UpdateReplyWindow(ctx context.Context, id int64, firstReplyOn, lastReplyOn *time.Time, totalReplies int) error
	AppendNote(ctx context.Context, id int64, note string) error
	ListSnoozeDue(ctx context.Context, from, to time.Time) ([]model.ActionItem, error)
	ListAssigned(ctx context.Context) ([]model.ActionItem, error)
	CountOpenForSources(ctx context.Context, channelIDs []string, repos []string) (int64, error)
	CountClosedForSourcesSince(ctx context.Context, channelIDs []string, repos []string, since time.Time) (int64, error)
	ListContributorsSince(ctx context.Context, channelIDs []string, repos []string, since time.Time) ([]model.User, error)
}

// FollowUpStore defines the contract for follow-up chain links
type FollowUpStore interface {
	GetPendingByParent(ctx context.Context, parentID int64) (*model.FollowUp, error)
	GetByChild(ctx context.Context, childID int64) (*model.FollowUp, error)
	// UpsertPending creates the follow-up or, when an unfired one already
	// exists for the parent, updates its due date and child in place.
	UpsertPending(ctx context.Context, fu *model.FollowUp) error
	ListDue(ctx context.Context, from, to time.Time) ([]model.FollowUp, error)
	MarkFired(ctx context.Context, parentID, childID int64, firedAt time.Time) error
}

// ParticipantStore defines the contract for item/user participation rows
type ParticipantStore interface {
	Upsert(ctx context.Context, p *model.Participant) error
	ListByActionItem(ctx context.Context, actionItemID int64) ([]model.Participant, error)
	DeleteByActionItem(ctx context.Context, actionItemID int64) error
}

// ActivityStore defines the contract for the append-only activity log
type ActivityStore interface {
	Append(ctx context.Context, entry *model.ActivityEntry) error
	ListByActionItem(ctx context.Context, actionItemID int64, limit int32) ([]model.ActivityEntry, error)
}
