package sweep

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"triagedesk.app/triage/common/logger"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/project"
)

var _ = Describe("Sweeper", func() {
	var (
		sweeper   *Sweeper
		stores    *fakeStores
		lifecycle *fakeLifecycle
		notifier  *fakeNotifier
		ctx       context.Context
		now       time.Time
	)

	loadProjects := func(config string) *project.Service {
		path := filepath.Join(GinkgoT().TempDir(), "projects.json")
		Expect(os.WriteFile(path, []byte(config), 0o600)).To(Succeed())
		svc, err := project.NewService(path)
		Expect(err).NotTo(HaveOccurred())
		return svc
	}

	BeforeEach(func() {
		ctx = context.Background()
		stores = newFakeStores()
		lifecycle = &fakeLifecycle{}
		notifier = &fakeNotifier{}
		// Wednesday 2026-03-11 10:00 UTC
		now = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

		sweeper = NewSweeper(stores, lifecycle, nil, notifier, Config{})
		sweeper.now = func() time.Time { return now }
	})

	Describe("Unsnooze", func() {
		dueItem := func() model.ActionItem {
			snoozer := int64(9)
			until := now.Add(-10 * time.Minute)
			return model.ActionItem{ID: 42, Status: model.StatusSnoozed, SnoozedUntil: &until, SnoozedByID: &snoozer}
		}

		It("queries one cadence of history plus the grace hour ahead", func() {
			var gotFrom, gotTo time.Time
			stores.actionItems.listSnoozeDueFn = func(_ context.Context, from, to time.Time) ([]model.ActionItem, error) {
				gotFrom, gotTo = from, to
				return nil, nil
			}

			Expect(sweeper.Unsnooze(ctx)).To(Succeed())

			Expect(gotFrom).To(Equal(now.Add(-23 * time.Hour)))
			Expect(gotTo).To(Equal(now.Add(time.Hour)))
		})

		It("catches a noon expiry from a midnight tick", func() {
			// Snooze targets always land at noon while the daily sweep
			// ticks at midnight; the window must bridge the half day.
			now = time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
			noon := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
			snoozer := int64(9)
			item := model.ActionItem{ID: 42, Status: model.StatusSnoozed, SnoozedUntil: &noon, SnoozedByID: &snoozer}
			stores.actionItems.listSnoozeDueFn = func(_ context.Context, from, to time.Time) ([]model.ActionItem, error) {
				if noon.Before(from) || noon.After(to) {
					return nil, nil
				}
				return []model.ActionItem{item}, nil
			}
			stores.users.getByIDFn = func(_ context.Context, _ int64) (*model.User, error) {
				return &model.User{ID: 9, ChatHandle: logger.Ptr("U9")}, nil
			}

			Expect(sweeper.Unsnooze(ctx)).To(Succeed())

			Expect(notifier.posted).To(HaveLen(1))
			Expect(notifier.posted[0]).To(ContainSubstring("item 42"))
		})

		It("does not reselect an expiry already covered by the previous tick", func() {
			// Due one grace hour before the previous midnight tick, so
			// inside that tick's window and outside this one.
			now = time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
			due := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
			stores.actionItems.listSnoozeDueFn = func(_ context.Context, from, to time.Time) ([]model.ActionItem, error) {
				snoozer := int64(9)
				if due.Before(from) || due.After(to) {
					return nil, nil
				}
				return []model.ActionItem{{ID: 42, Status: model.StatusSnoozed, SnoozedUntil: &due, SnoozedByID: &snoozer}}, nil
			}

			Expect(sweeper.Unsnooze(ctx)).To(Succeed())

			Expect(notifier.posted).To(BeEmpty())
		})

		It("pings the snoozing user without touching the item", func() {
			stores.actionItems.listSnoozeDueFn = func(_ context.Context, _, _ time.Time) ([]model.ActionItem, error) {
				return []model.ActionItem{dueItem()}, nil
			}
			stores.users.getByIDFn = func(_ context.Context, _ int64) (*model.User, error) {
				return &model.User{ID: 9, ChatHandle: logger.Ptr("U9")}, nil
			}
			lifecycle.unsnoozeFn = func(_ context.Context, _ int64, _ *int64) (*model.ActionItem, error) {
				Fail("item must stay snoozed without auto-reactivate")
				return nil, nil
			}

			Expect(sweeper.Unsnooze(ctx)).To(Succeed())

			Expect(notifier.posted).To(HaveLen(1))
			Expect(notifier.posted[0]).To(ContainSubstring("U9"))
			Expect(notifier.posted[0]).To(ContainSubstring("item 42"))
		})

		It("reopens due items when auto-reactivate is on", func() {
			sweeper.cfg.AutoReactivate = true
			stores.actionItems.listSnoozeDueFn = func(_ context.Context, _, _ time.Time) ([]model.ActionItem, error) {
				return []model.ActionItem{dueItem()}, nil
			}
			var reopened int64
			lifecycle.unsnoozeFn = func(_ context.Context, itemID int64, _ *int64) (*model.ActionItem, error) {
				reopened = itemID
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}

			Expect(sweeper.Unsnooze(ctx)).To(Succeed())

			Expect(reopened).To(Equal(int64(42)))
		})
	})

	Describe("FollowUps", func() {
		It("fires due links and tells the scheduling user", func() {
			stores.followUps.listDueFn = func(_ context.Context, from, to time.Time) ([]model.FollowUp, error) {
				// Unbounded behind the tick: a due link fires however
				// long the sweeper was down.
				Expect(from.IsZero()).To(BeTrue())
				Expect(to).To(Equal(now))
				return []model.FollowUp{{ParentID: 100, ChildID: 200, CreatedByID: 9}}, nil
			}
			stores.users.getByIDFn = func(_ context.Context, _ int64) (*model.User, error) {
				return &model.User{ID: 9, ChatHandle: logger.Ptr("U9")}, nil
			}

			Expect(sweeper.FollowUps(ctx)).To(Succeed())

			Expect(notifier.posted).To(HaveLen(1))
			Expect(notifier.posted[0]).To(ContainSubstring("item 200"))
			Expect(notifier.posted[0]).To(ContainSubstring("item 100"))
		})

		It("skips the notification when firing fails", func() {
			stores.followUps.listDueFn = func(_ context.Context, _, _ time.Time) ([]model.FollowUp, error) {
				return []model.FollowUp{{ParentID: 100, ChildID: 200, CreatedByID: 9}}, nil
			}
			lifecycle.fireFollowUpFn = func(_ context.Context, _ model.FollowUp) (*model.ActionItem, error) {
				return nil, context.DeadlineExceeded
			}

			Expect(sweeper.FollowUps(ctx)).To(Succeed())

			Expect(notifier.posted).To(BeEmpty())
		})
	})

	Describe("AutoUnassign", func() {
		assigned := func(on time.Time) model.ActionItem {
			assignee := int64(7)
			return model.ActionItem{ID: 42, Status: model.StatusAssigned, AssigneeID: &assignee, AssignedOn: &on}
		}

		It("clears assignments past the business-day allowance", func() {
			// Friday 2026-03-06 + 2 business days = Tuesday 2026-03-10.
			stores.actionItems.listAssignedFn = func(_ context.Context) ([]model.ActionItem, error) {
				return []model.ActionItem{assigned(time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC))}, nil
			}
			stores.users.getByIDFn = func(_ context.Context, _ int64) (*model.User, error) {
				return &model.User{ID: 7, ChatHandle: logger.Ptr("U7")}, nil
			}
			var cleared int64
			lifecycle.unassignFn = func(_ context.Context, itemID int64, _ *int64) (*model.ActionItem, error) {
				cleared = itemID
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}

			Expect(sweeper.AutoUnassign(ctx)).To(Succeed())

			Expect(cleared).To(Equal(int64(42)))
			Expect(notifier.posted).To(HaveLen(1))
			Expect(notifier.posted[0]).To(ContainSubstring("U7"))
		})

		It("catches up on assignments far past the deadline", func() {
			// Months overdue; staleness has no upper bound.
			stores.actionItems.listAssignedFn = func(_ context.Context) ([]model.ActionItem, error) {
				return []model.ActionItem{assigned(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))}, nil
			}
			var cleared int64
			lifecycle.unassignFn = func(_ context.Context, itemID int64, _ *int64) (*model.ActionItem, error) {
				cleared = itemID
				return &model.ActionItem{ID: itemID, Status: model.StatusOpen}, nil
			}

			Expect(sweeper.AutoUnassign(ctx)).To(Succeed())

			Expect(cleared).To(Equal(int64(42)))
		})

		It("leaves fresh assignments alone", func() {
			stores.actionItems.listAssignedFn = func(_ context.Context) ([]model.ActionItem, error) {
				return []model.ActionItem{assigned(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))}, nil
			}
			lifecycle.unassignFn = func(_ context.Context, _ int64, _ *int64) (*model.ActionItem, error) {
				Fail("fresh assignment must not be cleared")
				return nil, nil
			}

			Expect(sweeper.AutoUnassign(ctx)).To(Succeed())
		})

		It("spares an item whose assignment was restamped at the wake", func() {
			// Assigned long ago but unsnoozed yesterday; the restamped
			// AssignedOn keeps it inside the allowance.
			stores.actionItems.listAssignedFn = func(_ context.Context) ([]model.ActionItem, error) {
				return []model.ActionItem{assigned(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))}, nil
			}
			lifecycle.unassignFn = func(_ context.Context, _ int64, _ *int64) (*model.ActionItem, error) {
				Fail("a freshly woken assignment must not be cleared")
				return nil, nil
			}

			Expect(sweeper.AutoUnassign(ctx)).To(Succeed())
		})
	})

	Describe("Digest", func() {
		const config = `{
  "projects": [
    {
      "name": "core",
      "maintainers": [
        {"id": 1, "chat_handle": "UMAINT"},
        {"id": 2, "chat_handle": "UQUIET"}
      ],
      "channels": [{"id": "C1", "name": "support"}],
      "repositories": ["group/app"]
    }
  ]
}`

		BeforeEach(func() {
			sweeper.projects = loadProjects(config)
		})

		It("summarizes the week per project and skips opted-out maintainers", func() {
			stores.actionItems.countOpenFn = func(_ context.Context, channelIDs []string, repos []string) (int64, error) {
				Expect(channelIDs).To(Equal([]string{"C1"}))
				Expect(repos).To(Equal([]string{"group/app"}))
				return 4, nil
			}
			stores.actionItems.countClosedFn = func(_ context.Context, _ []string, _ []string, since time.Time) (int64, error) {
				Expect(since).To(Equal(now.Add(-7 * 24 * time.Hour)))
				return 2, nil
			}
			stores.actionItems.contributorsFn = func(_ context.Context, _ []string, _ []string, _ time.Time) ([]model.User, error) {
				return []model.User{{ID: 7, ChatHandle: logger.Ptr("U7")}}, nil
			}
			stores.users.getByChatHandleFn = func(_ context.Context, handle string) (*model.User, error) {
				if handle == "UQUIET" {
					return &model.User{ID: 2, ChatHandle: logger.Ptr("UQUIET"), OptOutDigest: true}, nil
				}
				return &model.User{ID: 1, ChatHandle: logger.Ptr(handle)}, nil
			}

			Expect(sweeper.Digest(ctx)).To(Succeed())

			Expect(notifier.posted).To(HaveLen(1))
			Expect(notifier.posted[0]).To(ContainSubstring("UMAINT"))
			Expect(notifier.posted[0]).To(ContainSubstring("Open items: 4"))
			Expect(notifier.posted[0]).To(ContainSubstring("Closed this week: 2"))
			Expect(notifier.posted[0]).To(ContainSubstring("<@U7>"))
		})
	})
})
