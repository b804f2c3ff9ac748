package service

import (
	"time"

	"triagedesk.app/triage/core/db"
	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/search"
	"triagedesk.app/triage/internal/store"
)

// Services bundles the application services for one process.
type Services struct {
	Identity     IdentityService
	Participants ParticipantService
	Lifecycle    LifecycleService
	Ingest       IngestService
	Effects      Effects
}

type Deps struct {
	DB       *db.DB
	Projects *project.Service
	Index    search.Index
	Notifier chat.Notifier
	Threads  chat.ThreadFetcher
	Now      func() time.Time
}

func NewServices(deps Deps) *Services {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	stores := store.NewStores(deps.DB.Pool())
	txRunner := NewTxRunner(deps.DB)
	effects := NewEffects(stores, deps.Index, deps.Notifier)
	identity := NewIdentityService(stores.Users(), txRunner)
	participants := NewParticipantService(stores.Participants(), identity)

	return &Services{
		Identity:     identity,
		Participants: participants,
		Lifecycle:    NewLifecycleServiceWithClock(stores.ActionItems(), stores.FollowUps(), txRunner, effects, deps.Now),
		Ingest: NewIngestService(IngestDeps{
			Stores:       stores,
			TxRunner:     txRunner,
			Identity:     identity,
			Participants: participants,
			Projects:     deps.Projects,
			Threads:      deps.Threads,
			Effects:      effects,
			Now:          deps.Now,
		}),
		Effects: effects,
	}
}
