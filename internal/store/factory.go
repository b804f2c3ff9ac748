package store

import (
	"triagedesk.app/triage/core/db"
)

type Stores struct {
	dbtx db.DBTX
}

// NewStores binds the per-entity stores to a pool or an open transaction.
func NewStores(dbtx db.DBTX) *Stores {
	return &Stores{dbtx: dbtx}
}

func (s *Stores) Users() UserStore {
	return newUserStore(s.dbtx)
}

func (s *Stores) SourceMessages() SourceMessageStore {
	return newSourceMessageStore(s.dbtx)
}

func (s *Stores) TrackedIssues() TrackedIssueStore {
	return newTrackedIssueStore(s.dbtx)
}

func (s *Stores) ActionItems() ActionItemStore {
	return newActionItemStore(s.dbtx)
}

func (s *Stores) FollowUps() FollowUpStore {
	return newFollowUpStore(s.dbtx)
}

func (s *Stores) Participants() ParticipantStore {
	return newParticipantStore(s.dbtx)
}

func (s *Stores) Activity() ActivityStore {
	return newActivityStore(s.dbtx)
}
