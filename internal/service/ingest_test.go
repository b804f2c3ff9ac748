package service_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"triagedesk.app/triage/common/id"
	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/forge"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/service"
)

const projectConfig = `{
  "projects": [
    {
      "name": "core",
      "maintainers": [{"id": 1, "chat_handle": "UMAINT", "forge_handle": "maint"}],
      "channels": [
        {"id": "C1", "name": "support", "grouping_window_minutes": 0},
        {"id": "C2", "name": "alerts", "grouping_window_minutes": 15}
      ],
      "repositories": ["group/app"],
      "managers": ["UMGR"],
      "allowed_bots": ["BALLOW"]
    }
  ]
}`

var _ = Describe("IngestService", func() {
	var (
		svc      service.IngestService
		stores   *mockStores
		effects  *mockEffects
		threads  *mockThreadFetcher
		projects *project.Service
		ctx      context.Context
		now      time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		stores = newMockStores()
		effects = &mockEffects{}
		threads = &mockThreadFetcher{}
		now = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

		Expect(id.Init(1)).To(Succeed())

		path := filepath.Join(GinkgoT().TempDir(), "projects.json")
		Expect(os.WriteFile(path, []byte(projectConfig), 0o600)).To(Succeed())
		var err error
		projects, err = project.NewService(path)
		Expect(err).NotTo(HaveOccurred())

		txRunner := &mockTxRunner{stores: stores}
		identity := service.NewIdentityService(stores.users, txRunner)
		svc = service.NewIngestService(service.IngestDeps{
			Stores:       stores,
			TxRunner:     txRunner,
			Identity:     identity,
			Participants: service.NewParticipantService(stores.participants, identity),
			Projects:     projects,
			Threads:      threads,
			Effects:      effects,
			Now:          func() time.Time { return now },
		})
	})

	rootEvent := func(channelID, author, text string) chat.RootMessage {
		return chat.RootMessage{
			ChannelID: channelID,
			TS:        "1757500000.000100",
			AuthorID:  author,
			Text:      text,
			PostedAt:  now,
		}
	}

	threadOf := func(root chat.RootMessage, replies ...chat.Message) *chat.Thread {
		t := &chat.Thread{
			Root: chat.Message{
				ChannelID:  root.ChannelID,
				TS:         root.TS,
				AuthorID:   root.AuthorID,
				Text:       root.Text,
				ReplyCount: len(replies),
				PostedAt:   root.PostedAt,
			},
			Replies: replies,
		}
		for _, r := range replies {
			posted := r.PostedAt
			if t.LatestReply == nil || posted.After(*t.LatestReply) {
				t.LatestReply = &posted
			}
		}
		return t
	}

	Describe("rejection gates", func() {
		It("drops system notices", func() {
			res, err := svc.HandleChatEvent(ctx, chat.SystemNotice{ChannelID: "C1", SubType: "channel_join"})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})

		It("drops messages from bots outside the allow-list", func() {
			ev := rootEvent("C1", "", "automated deploy summary for release 42")
			ev.BotID = "BROGUE"

			res, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})

		It("drops messages from untracked channels", func() {
			res, err := svc.HandleChatEvent(ctx, rootEvent("C999", "U1", "prod database is timing out"))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})

		It("drops thread roots authored by a maintainer", func() {
			ev := rootEvent("C1", "UMAINT", "reminder: standup moved to 11")
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return threadOf(ev), nil
			}

			res, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})

		It("skips the event when the thread root cannot be fetched", func() {
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return nil, context.DeadlineExceeded
			}

			res, err := svc.HandleChatEvent(ctx, rootEvent("C1", "U1", "prod database is timing out"))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})
	})

	Describe("IsNoise", func() {
		It("classifies short acknowledgements and lone emoji as noise", func() {
			Expect(service.IsNoise("+1")).To(BeTrue())
			Expect(service.IsNoise("ok")).To(BeTrue())
			Expect(service.IsNoise("  ty  ")).To(BeTrue())
			Expect(service.IsNoise(":shipit:")).To(BeTrue())
			Expect(service.IsNoise("\U0001F44D")).To(BeTrue())
			Expect(service.IsNoise("✅️")).To(BeTrue())
		})

		It("keeps real messages", func() {
			Expect(service.IsNoise("prod database is timing out")).To(BeFalse())
			Expect(service.IsNoise("see :shipit: for details")).To(BeFalse())
			Expect(service.IsNoise("https://example.com/incident")).To(BeFalse())
		})
	})

	Describe("new thread roots", func() {
		It("opens an action item seeded by the root message", func() {
			ev := rootEvent("C1", "U1", "prod database is timing out")
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return threadOf(ev), nil
			}
			var createdItem *model.ActionItem
			stores.actionItems.createFn = func(_ context.Context, it *model.ActionItem) error {
				createdItem = it
				return nil
			}
			var createdMsg *model.SourceMessage
			stores.sourceMessages.createFn = func(_ context.Context, m *model.SourceMessage) error {
				createdMsg = m
				return nil
			}

			res, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionCreated))
			Expect(createdItem).NotTo(BeNil())
			Expect(createdItem.Status).To(Equal(model.StatusOpen))
			Expect(createdMsg).NotTo(BeNil())
			Expect(createdMsg.ActionItemID).To(Equal(createdItem.ID))
			Expect(createdMsg.ChannelID).To(Equal("C1"))
		})

		It("groups a near-simultaneous root under the recent item", func() {
			ev := rootEvent("C2", "U1", "alerts are firing for the same outage")
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return threadOf(ev), nil
			}
			var cutoff time.Time
			stores.sourceMessages.latestGroupableFn = func(_ context.Context, channelID string, c time.Time) (*model.SourceMessage, error) {
				cutoff = c
				return &model.SourceMessage{ID: 1, ChannelID: channelID, ActionItemID: 777}, nil
			}
			stores.actionItems.getByIDFn = func(_ context.Context, itemID int64) (*model.ActionItem, error) {
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}
			var attached *model.SourceMessage
			stores.sourceMessages.createFn = func(_ context.Context, m *model.SourceMessage) error {
				attached = m
				return nil
			}
			newItem := false
			stores.actionItems.createFn = func(_ context.Context, _ *model.ActionItem) error {
				newItem = true
				return nil
			}

			res, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionGrouped))
			Expect(newItem).To(BeFalse())
			Expect(attached.ActionItemID).To(Equal(int64(777)))
			Expect(cutoff).To(Equal(now.UTC().Add(-15 * time.Minute)))
		})

		It("does not group in a channel with grouping disabled", func() {
			ev := rootEvent("C1", "U1", "prod database is timing out")
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return threadOf(ev), nil
			}
			stores.sourceMessages.latestGroupableFn = func(_ context.Context, _ string, _ time.Time) (*model.SourceMessage, error) {
				Fail("grouping lookup should not run")
				return nil, nil
			}

			res, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionCreated))
		})
	})

	Describe("tracked thread updates", func() {
		reply := func(author string, at time.Time) chat.Message {
			return chat.Message{ChannelID: "C1", AuthorID: author, Text: "same here", PostedAt: at}
		}

		It("recomputes the reply window across grouped messages", func() {
			ev := rootEvent("C1", "U2", "replying into the tracked thread")
			first := now.Add(-30 * time.Minute)
			last := now.Add(-5 * time.Minute)
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return threadOf(ev, reply("U2", first), reply("U3", last)), nil
			}
			tracked := &model.SourceMessage{ID: 1, ChannelID: "C1", ThreadTS: ev.TS, ActionItemID: 42, ReplyCount: 1}
			stores.sourceMessages.getByThreadFn = func(_ context.Context, _, _ string) (*model.SourceMessage, error) {
				return tracked, nil
			}
			stores.actionItems.getByIDFn = func(_ context.Context, itemID int64) (*model.ActionItem, error) {
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}
			stores.sourceMessages.listByActionItemFn = func(_ context.Context, _ int64) ([]model.SourceMessage, error) {
				return []model.SourceMessage{{ReplyCount: 2}, {ReplyCount: 3}}, nil
			}
			var gotFirst, gotLast *time.Time
			var gotTotal int
			stores.actionItems.updateReplyWindowFn = func(_ context.Context, _ int64, f, l *time.Time, total int) error {
				gotFirst, gotLast, gotTotal = f, l, total
				return nil
			}

			res, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionUpdated))
			Expect(*gotFirst).To(Equal(first))
			Expect(*gotLast).To(Equal(last))
			Expect(gotTotal).To(Equal(5))
			Expect(tracked.ReplyCount).To(Equal(2))
		})

		It("escalates an unassigned item past the reply threshold", func() {
			ev := rootEvent("C1", "U2", "replying into the tracked thread")
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return threadOf(ev), nil
			}
			stores.sourceMessages.getByThreadFn = func(_ context.Context, _, _ string) (*model.SourceMessage, error) {
				return &model.SourceMessage{ID: 1, ChannelID: "C1", ThreadTS: ev.TS, ActionItemID: 42}, nil
			}
			stores.actionItems.getByIDFn = func(_ context.Context, itemID int64) (*model.ActionItem, error) {
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}
			stores.sourceMessages.listByActionItemFn = func(_ context.Context, _ int64) ([]model.SourceMessage, error) {
				return []model.SourceMessage{{ReplyCount: 12}}, nil
			}

			_, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(effects.notified).To(HaveLen(1))
			Expect(effects.notified[0]).To(ContainSubstring("UMAINT"))
		})

		It("nudges the assignee privately instead of paging maintainers", func() {
			ev := rootEvent("C1", "U2", "replying into the tracked thread")
			threads.fetchFn = func(_ context.Context, _, _ string) (*chat.Thread, error) {
				return threadOf(ev), nil
			}
			stores.sourceMessages.getByThreadFn = func(_ context.Context, _, _ string) (*model.SourceMessage, error) {
				return &model.SourceMessage{ID: 1, ChannelID: "C1", ThreadTS: ev.TS, ActionItemID: 42}, nil
			}
			assignee := int64(7)
			stores.actionItems.getByIDFn = func(_ context.Context, itemID int64) (*model.ActionItem, error) {
				return &model.ActionItem{ID: itemID, Status: model.StatusAssigned, AssigneeID: &assignee}, nil
			}
			stores.sourceMessages.listByActionItemFn = func(_ context.Context, _ int64) ([]model.SourceMessage, error) {
				return []model.SourceMessage{{ReplyCount: 12}}, nil
			}
			handle := "U7"
			stores.users.getByIDFn = func(_ context.Context, userID int64) (*model.User, error) {
				Expect(userID).To(Equal(assignee))
				return &model.User{ID: userID, ChatHandle: &handle}, nil
			}

			_, err := svc.HandleChatEvent(ctx, ev)

			Expect(err).NotTo(HaveOccurred())
			Expect(effects.notified).To(BeEmpty())
			Expect(effects.ephemeral).To(HaveLen(1))
			Expect(effects.ephemeral[0]).To(HavePrefix("U7: "))
		})
	})

	Describe("deletions", func() {
		It("ignores deletions of untracked threads", func() {
			res, err := svc.HandleChatEvent(ctx, chat.Deletion{ChannelID: "C1", ThreadTS: "1.0"})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})

		It("closes a sourceless item without a forge mirror as irrelevant", func() {
			stores.sourceMessages.deleteByThreadFn = func(_ context.Context, _, _ string) (*model.SourceMessage, error) {
				return &model.SourceMessage{ID: 1, ActionItemID: 42}, nil
			}
			item := &model.ActionItem{ID: 42, Status: model.StatusOpen}
			stores.actionItems.getByIDFn = func(_ context.Context, _ int64) (*model.ActionItem, error) {
				return item, nil
			}
			var closed *model.ActionItem
			stores.actionItems.updateLifecycleFn = func(_ context.Context, it *model.ActionItem) error {
				closed = it
				return nil
			}

			res, err := svc.HandleChatEvent(ctx, chat.Deletion{ChannelID: "C1", ThreadTS: "1.0"})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionDeleted))
			Expect(closed).NotTo(BeNil())
			Expect(closed.Status).To(Equal(model.StatusClosed))
			Expect(*closed.Resolution).To(Equal(model.ResolutionIrrelevant))
			Expect(*closed.Reason).To(Equal("source message deleted"))
			Expect(effects.removed).To(Equal([]int64{42}))
		})

		It("keeps the item open when a forge mirror still backs it", func() {
			stores.sourceMessages.deleteByThreadFn = func(_ context.Context, _, _ string) (*model.SourceMessage, error) {
				return &model.SourceMessage{ID: 1, ActionItemID: 42}, nil
			}
			stores.actionItems.getByIDFn = func(_ context.Context, itemID int64) (*model.ActionItem, error) {
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}
			stores.trackedIssues.getByActionItemFn = func(_ context.Context, _ int64) (*model.TrackedIssue, error) {
				return &model.TrackedIssue{ID: 9, ActionItemID: 42}, nil
			}
			stores.actionItems.updateLifecycleFn = func(_ context.Context, _ *model.ActionItem) error {
				Fail("item with a live mirror must not be closed")
				return nil
			}

			res, err := svc.HandleChatEvent(ctx, chat.Deletion{ChannelID: "C1", ThreadTS: "1.0"})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionDeleted))
		})
	})

	Describe("HandleIssueOpened", func() {
		remote := forge.RemoteIssue{
			NodeID:      "gid://gitlab/Issue/1001",
			Number:      17,
			Title:       "login page 500s on SSO callback",
			Body:        "stack trace attached",
			State:       "opened",
			AuthorLogin: "dev",
			AuthorEmail: "dev@example.com",
			Repository:  "group/app",
			Labels:      []string{"bug"},
		}

		It("ignores issues from untracked repositories", func() {
			other := remote
			other.Repository = "group/unknown"

			res, err := svc.HandleIssueOpened(ctx, other)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})

		It("ignores issues opened by a maintainer", func() {
			own := remote
			own.AuthorLogin = "maint"

			res, err := svc.HandleIssueOpened(ctx, own)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionRejected))
		})

		It("opens an item and mirrors the issue", func() {
			var createdItem *model.ActionItem
			stores.actionItems.createFn = func(_ context.Context, it *model.ActionItem) error {
				createdItem = it
				return nil
			}
			var mirror *model.TrackedIssue
			stores.trackedIssues.upsertFn = func(_ context.Context, ti *model.TrackedIssue) (*model.TrackedIssue, bool, error) {
				mirror = ti
				return ti, true, nil
			}

			res, err := svc.HandleIssueOpened(ctx, remote)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionCreated))
			Expect(createdItem).NotTo(BeNil())
			Expect(mirror).NotTo(BeNil())
			Expect(mirror.ActionItemID).To(Equal(createdItem.ID))
			Expect(mirror.NodeID).To(Equal(remote.NodeID))
			Expect(mirror.Number).To(Equal(int64(17)))
		})

		It("treats a redelivery as a mirror refresh, not a second item", func() {
			stores.trackedIssues.getByNodeIDFn = func(_ context.Context, _ string) (*model.TrackedIssue, error) {
				return &model.TrackedIssue{ID: 9, NodeID: remote.NodeID, ActionItemID: 42}, nil
			}
			stores.actionItems.getByIDFn = func(_ context.Context, itemID int64) (*model.ActionItem, error) {
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}
			var refreshed *model.TrackedIssue
			stores.trackedIssues.updateFn = func(_ context.Context, ti *model.TrackedIssue) error {
				refreshed = ti
				return nil
			}
			stores.actionItems.createFn = func(_ context.Context, _ *model.ActionItem) error {
				Fail("redelivery must not create a second item")
				return nil
			}

			res, err := svc.HandleIssueOpened(ctx, remote)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Decision).To(Equal(service.DecisionUpdated))
			Expect(res.Item.ID).To(Equal(int64(42)))
			Expect(refreshed.ID).To(Equal(int64(9)))
			Expect(refreshed.ActionItemID).To(Equal(int64(42)))
		})

		It("records the issue author as a participant", func() {
			var roster []model.Participant
			stores.participants.upsertFn = func(_ context.Context, p *model.Participant) error {
				roster = append(roster, *p)
				return nil
			}

			_, err := svc.HandleIssueOpened(ctx, remote)

			Expect(err).NotTo(HaveOccurred())
			Expect(roster).To(HaveLen(1))
			Expect(roster[0].Role).To(Equal(model.ParticipantRoleAuthor))
		})
	})
})
