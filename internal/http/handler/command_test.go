package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"triagedesk.app/triage/internal/http/dto"
	"triagedesk.app/triage/internal/http/handler"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/service"
	"triagedesk.app/triage/internal/store"
)

type stubLifecycle struct {
	service.LifecycleService

	assignFn   func(ctx context.Context, itemID int64, assigneeID int64, actorID *int64) (*model.ActionItem, error)
	snoozeFn   func(ctx context.Context, itemID int64, days int, actorID int64) (*model.ActionItem, error)
	resolveFn  func(ctx context.Context, itemID int64, reason string, actorID *int64) (*model.ActionItem, error)
	followUpFn func(ctx context.Context, parentID int64, days int, actorID int64) (*model.FollowUp, error)
}

func (s *stubLifecycle) Assign(ctx context.Context, itemID int64, assigneeID int64, actorID *int64) (*model.ActionItem, error) {
	return s.assignFn(ctx, itemID, assigneeID, actorID)
}

func (s *stubLifecycle) Snooze(ctx context.Context, itemID int64, days int, actorID int64) (*model.ActionItem, error) {
	return s.snoozeFn(ctx, itemID, days, actorID)
}

func (s *stubLifecycle) Resolve(ctx context.Context, itemID int64, reason string, actorID *int64) (*model.ActionItem, error) {
	return s.resolveFn(ctx, itemID, reason, actorID)
}

func (s *stubLifecycle) ScheduleFollowUp(ctx context.Context, parentID int64, days int, actorID int64) (*model.FollowUp, error) {
	return s.followUpFn(ctx, parentID, days, actorID)
}

type stubIdentity struct {
	resolveFn func(ctx context.Context, ref service.Ref) (*model.User, error)
	linkFn    func(ctx context.Context, ref service.Ref) (*model.User, error)
}

func (s *stubIdentity) Resolve(ctx context.Context, ref service.Ref) (*model.User, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, ref)
	}
	return &model.User{ID: 1}, nil
}

func (s *stubIdentity) Link(ctx context.Context, ref service.Ref) (*model.User, error) {
	if s.linkFn != nil {
		return s.linkFn(ctx, ref)
	}
	return &model.User{ID: 1}, nil
}

type stubUserStore struct {
	store.UserStore

	updateFn func(ctx context.Context, user *model.User) error
}

func (s *stubUserStore) Update(ctx context.Context, user *model.User) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, user)
	}
	return nil
}

type stubActionItemStore struct {
	store.ActionItemStore

	countOpenFn func(ctx context.Context, channelIDs []string, repos []string) (int64, error)
	getByIDFn   func(ctx context.Context, id int64) (*model.ActionItem, error)
}

func (s *stubActionItemStore) CountOpenForSources(ctx context.Context, channelIDs []string, repos []string) (int64, error) {
	if s.countOpenFn != nil {
		return s.countOpenFn(ctx, channelIDs, repos)
	}
	return 0, nil
}

func (s *stubActionItemStore) GetByID(ctx context.Context, id int64) (*model.ActionItem, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return &model.ActionItem{ID: id, Status: model.StatusOpen}, nil
}

type stubActivityStore struct {
	store.ActivityStore

	listFn func(ctx context.Context, actionItemID int64, limit int32) ([]model.ActivityEntry, error)
}

func (s *stubActivityStore) ListByActionItem(ctx context.Context, actionItemID int64, limit int32) ([]model.ActivityEntry, error) {
	if s.listFn != nil {
		return s.listFn(ctx, actionItemID, limit)
	}
	return nil, nil
}

type stubStores struct {
	users       *stubUserStore
	actionItems *stubActionItemStore
	activity    *stubActivityStore
}

func (s *stubStores) Users() store.UserStore                   { return s.users }
func (s *stubStores) SourceMessages() store.SourceMessageStore { return nil }
func (s *stubStores) TrackedIssues() store.TrackedIssueStore   { return nil }
func (s *stubStores) ActionItems() store.ActionItemStore       { return s.actionItems }
func (s *stubStores) FollowUps() store.FollowUpStore           { return nil }
func (s *stubStores) Participants() store.ParticipantStore     { return nil }
func (s *stubStores) Activity() store.ActivityStore            { return s.activity }

const commandProjectConfig = `{
  "projects": [
    {
      "name": "core",
      "channels": [{"id": "C1", "name": "support"}],
      "repositories": ["group/app"],
      "managers": ["UMGR"]
    }
  ]
}`

var _ = Describe("CommandHandler", func() {
	var (
		router    *gin.Engine
		lifecycle *stubLifecycle
		identity  *stubIdentity
		stores    *stubStores
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		lifecycle = &stubLifecycle{}
		identity = &stubIdentity{}
		stores = &stubStores{users: &stubUserStore{}, actionItems: &stubActionItemStore{}, activity: &stubActivityStore{}}

		path := filepath.Join(GinkgoT().TempDir(), "projects.json")
		Expect(os.WriteFile(path, []byte(commandProjectConfig), 0o600)).To(Succeed())
		projects, err := project.NewService(path)
		Expect(err).NotTo(HaveOccurred())

		h := handler.NewCommandHandler(lifecycle, identity, stores, projects)
		router = gin.New()
		router.POST("/api/v1/commands", h.Handle)
	})

	run := func(req dto.CommandRequest) (*httptest.ResponseRecorder, dto.CommandResponse) {
		body, err := json.Marshal(req)
		Expect(err).NotTo(HaveOccurred())
		httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/commands", bytes.NewReader(body))
		httpReq.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httpReq)

		var resp dto.CommandResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		return rec, resp
	}

	It("refuses actors outside the manager list", func() {
		rec, resp := run(dto.CommandRequest{Action: "assign", ItemID: 42, ActorChat: "URANDOM"})

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(resp.OK).To(BeFalse())
		Expect(resp.Error).To(Equal("not authorized"))
	})

	It("assigns through the lifecycle with the resolved assignee", func() {
		identity.resolveFn = func(_ context.Context, ref service.Ref) (*model.User, error) {
			if ref.ChatHandle == "U7" {
				return &model.User{ID: 7}, nil
			}
			return &model.User{ID: 1}, nil
		}
		var gotAssignee int64
		lifecycle.assignFn = func(_ context.Context, itemID int64, assigneeID int64, _ *int64) (*model.ActionItem, error) {
			gotAssignee = assigneeID
			return &model.ActionItem{ID: itemID, Status: model.StatusAssigned}, nil
		}

		_, resp := run(dto.CommandRequest{Action: "assign", ItemID: 42, ActorChat: "UMGR", AssigneeChat: "U7"})

		Expect(resp.OK).To(BeTrue())
		Expect(resp.ItemID).To(Equal(int64(42)))
		Expect(resp.Status).To(Equal("assigned"))
		Expect(gotAssignee).To(Equal(int64(7)))
	})

	It("maps a missing item onto the ephemeral error", func() {
		lifecycle.resolveFn = func(_ context.Context, _ int64, _ string, _ *int64) (*model.ActionItem, error) {
			return nil, store.ErrNotFound
		}

		_, resp := run(dto.CommandRequest{Action: "resolve", ItemID: 42, ActorChat: "UMGR", Reason: "done"})

		Expect(resp.Error).To(Equal("item not found"))
	})

	It("requires a positive day count for snoozing", func() {
		_, resp := run(dto.CommandRequest{Action: "snooze", ItemID: 42, ActorChat: "UMGR", Days: 0})

		Expect(resp.Error).To(ContainSubstring("positive day count"))
	})

	It("returns the follow-up child and due date", func() {
		due := time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
		lifecycle.followUpFn = func(_ context.Context, _ int64, _ int, _ int64) (*model.FollowUp, error) {
			return &model.FollowUp{ParentID: 42, ChildID: 84, DueOn: due}, nil
		}

		_, resp := run(dto.CommandRequest{Action: "follow_up", ItemID: 42, ActorChat: "UMGR", Days: 2})

		Expect(resp.OK).To(BeTrue())
		Expect(resp.ItemID).To(Equal(int64(84)))
		Expect(resp.Status).To(Equal("follow-up due 2026-03-13"))
	})

	It("explains why identities without a shared e-mail cannot merge", func() {
		identity.linkFn = func(_ context.Context, _ service.Ref) (*model.User, error) {
			return nil, service.ErrUnresolved
		}

		_, resp := run(dto.CommandRequest{Action: "link", ActorChat: "UMGR", AssigneeChat: "U7"})

		Expect(resp.Error).To(ContainSubstring("shared e-mail"))
	})

	It("persists a digest opt-out on the actor", func() {
		var saved *model.User
		stores.users.updateFn = func(_ context.Context, u *model.User) error {
			saved = u
			return nil
		}

		_, resp := run(dto.CommandRequest{Action: "digest_opt_out", ActorChat: "UMGR"})

		Expect(resp.OK).To(BeTrue())
		Expect(saved).NotTo(BeNil())
		Expect(saved.OptOutDigest).To(BeTrue())
	})

	It("answers a project summary for the open filter", func() {
		stores.actionItems.countOpenFn = func(_ context.Context, channelIDs []string, repos []string) (int64, error) {
			Expect(channelIDs).To(Equal([]string{"C1"}))
			Expect(repos).To(Equal([]string{"group/app"}))
			return 4, nil
		}

		_, resp := run(dto.CommandRequest{Action: "summary", ActorChat: "UMGR", Project: "core"})

		Expect(resp.OK).To(BeTrue())
		Expect(resp.Status).To(Equal("core: 4 open items"))
	})

	It("rejects an unknown summary filter", func() {
		_, resp := run(dto.CommandRequest{Action: "summary", ActorChat: "UMGR", Project: "core", Filter: "stale"})

		Expect(resp.Error).To(Equal("invalid filter"))
	})

	It("rejects a summary for an unknown project", func() {
		_, resp := run(dto.CommandRequest{Action: "summary", ActorChat: "UMGR", Project: "ghost"})

		Expect(resp.Error).To(Equal("project not found"))
	})

	It("renders the activity log for an item", func() {
		actor := int64(3)
		detail := "assigned to 7"
		stores.activity.listFn = func(_ context.Context, itemID int64, limit int32) ([]model.ActivityEntry, error) {
			Expect(itemID).To(Equal(int64(42)))
			Expect(limit).To(BeNumerically(">", 0))
			return []model.ActivityEntry{
				{ID: 2, ActionItemID: 42, Verb: "assign", ActorID: &actor, Detail: &detail,
					CreatedAt: time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)},
				{ID: 1, ActionItemID: 42, Verb: "ingested",
					CreatedAt: time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)},
			}, nil
		}

		_, resp := run(dto.CommandRequest{Action: "history", ActorChat: "UMGR", ItemID: 42})

		Expect(resp.OK).To(BeTrue())
		Expect(resp.Status).To(ContainSubstring("2026-03-11 10:00 assign: assigned to 7"))
		Expect(resp.Status).To(ContainSubstring("2026-03-10 09:30 ingested"))
	})

	It("reports an empty activity log plainly", func() {
		_, resp := run(dto.CommandRequest{Action: "history", ActorChat: "UMGR", ItemID: 42})

		Expect(resp.OK).To(BeTrue())
		Expect(resp.Status).To(Equal("no activity recorded"))
	})

	It("refuses history for a missing item", func() {
		stores.actionItems.getByIDFn = func(_ context.Context, _ int64) (*model.ActionItem, error) {
			return nil, store.ErrNotFound
		}

		_, resp := run(dto.CommandRequest{Action: "history", ActorChat: "UMGR", ItemID: 42})

		Expect(resp.Error).To(Equal("item not found"))
	})

	It("rejects an unknown action", func() {
		_, resp := run(dto.CommandRequest{Action: "explode", ActorChat: "UMGR"})

		Expect(resp.Error).To(ContainSubstring("unknown action"))
	})
})
