package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/metrics"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/service"
	"triagedesk.app/triage/internal/workday"
)

// Snooze expiries within this margin of the sweep tick count as due, so a
// sweep that runs slightly early or late does not strand items until the
// next day.
const snoozeGrace = time.Hour

// Default reach of the unsnooze window behind the tick. Snooze targets land
// at noon while the daily sweep ticks at midnight, so the window must span
// the whole day between ticks; one cadence minus the grace hour makes
// consecutive windows tile exactly, each expiry selected by one tick.
const defaultUnsnoozeLookback = 24*time.Hour - snoozeGrace

// Assigned items go stale after this many business days without the assignee
// resolving or re-snoozing them.
const staleAssignmentDays = 2

type Config struct {
	// AutoReactivate flips due snoozed items back to open during the sweep
	// instead of only pinging the snoozing user.
	AutoReactivate bool
	// Lookback bounds how far behind the tick the unsnooze sweep reaches.
	// Must track the sweep cadence; zero means the daily default.
	Lookback time.Duration
}

// Sweeper implements the scheduled maintenance passes over the item table.
type Sweeper struct {
	stores    service.StoreProvider
	lifecycle service.LifecycleService
	projects  *project.Service
	notifier  chat.Notifier
	cfg       Config
	now       func() time.Time
}

func NewSweeper(stores service.StoreProvider, lifecycle service.LifecycleService, projects *project.Service, notifier chat.Notifier, cfg Config) *Sweeper {
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultUnsnoozeLookback
	}
	return &Sweeper{
		stores:    stores,
		lifecycle: lifecycle,
		projects:  projects,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Unsnooze finds items whose snooze expired since the previous tick and pings
// the user who snoozed them. With AutoReactivate set it also reopens them.
func (s *Sweeper) Unsnooze(ctx context.Context) error {
	now := s.now().UTC()
	items, err := s.stores.ActionItems().ListSnoozeDue(ctx, now.Add(-s.cfg.Lookback), now.Add(snoozeGrace))
	if err != nil {
		return fmt.Errorf("listing due snoozes: %w", err)
	}

	for _, item := range items {
		outcome := "notified"
		if err := s.notifySnoozer(ctx, &item); err != nil {
			slog.WarnContext(ctx, "snooze notification failed", "error", err, "action_item_id", item.ID)
		}
		if s.cfg.AutoReactivate {
			if _, err := s.lifecycle.Unsnooze(ctx, item.ID, nil); err != nil {
				slog.ErrorContext(ctx, "auto-reactivate failed", "error", err, "action_item_id", item.ID)
				metrics.SweepItems.WithLabelValues("unsnooze", "error").Inc()
				continue
			}
			outcome = "reactivated"
		}
		metrics.SweepItems.WithLabelValues("unsnooze", outcome).Inc()
	}

	slog.InfoContext(ctx, "unsnooze sweep done", "due", len(items))
	return nil
}

func (s *Sweeper) notifySnoozer(ctx context.Context, item *model.ActionItem) error {
	if item.SnoozedByID == nil {
		return nil
	}
	user, err := s.stores.Users().GetByID(ctx, *item.SnoozedByID)
	if err != nil {
		return fmt.Errorf("loading snoozing user: %w", err)
	}
	if user.ChatHandle == nil {
		return nil
	}
	return s.notifier.PostMessage(ctx, *user.ChatHandle,
		fmt.Sprintf("Snooze on item %d has expired, it needs another look.", item.ID))
}

// FollowUps fires every follow-up link whose due date has arrived: the
// dormant child becomes open and the scheduling user gets a backlink to the
// parent for context. Unlike Unsnooze this sweep has no lookback bound: a
// due child must open eventually even after sweeper downtime, and ListDue
// only returns unfired links, so catching up cannot double-fire.
func (s *Sweeper) FollowUps(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.stores.FollowUps().ListDue(ctx, time.Time{}, now)
	if err != nil {
		return fmt.Errorf("listing due follow-ups: %w", err)
	}

	for _, fu := range due {
		child, err := s.lifecycle.FireFollowUp(ctx, fu)
		if err != nil {
			slog.ErrorContext(ctx, "firing follow-up failed",
				"error", err,
				"parent_id", fu.ParentID,
				"child_id", fu.ChildID)
			metrics.SweepItems.WithLabelValues("follow_up", "error").Inc()
			continue
		}
		metrics.SweepItems.WithLabelValues("follow_up", "fired").Inc()

		user, err := s.stores.Users().GetByID(ctx, fu.CreatedByID)
		if err != nil || user.ChatHandle == nil {
			continue
		}
		if err := s.notifier.PostMessage(ctx, *user.ChatHandle,
			fmt.Sprintf("Follow-up item %d is now active (scheduled from item %d).", child.ID, fu.ParentID)); err != nil {
			slog.WarnContext(ctx, "follow-up notification failed", "error", err, "action_item_id", child.ID)
		}
	}

	slog.InfoContext(ctx, "follow-up sweep done", "fired", len(due))
	return nil
}

// AutoUnassign clears assignments that have sat untouched past the business
// day allowance and tells the former assignee. The clock counts from
// AssignedOn, which Unsnooze restamps at the wake, so a snoozed item gets a
// fresh allowance when it returns. No lookback bound here either: an overdue
// assignment should be cleared however late the sweep runs, and a cleared
// item leaves the candidate set.
func (s *Sweeper) AutoUnassign(ctx context.Context) error {
	now := s.now().UTC()
	items, err := s.stores.ActionItems().ListAssigned(ctx)
	if err != nil {
		return fmt.Errorf("listing assigned items: %w", err)
	}

	var cleared int
	for _, item := range items {
		if item.AssignedOn == nil {
			continue
		}
		deadline := workday.AddBusinessDays(*item.AssignedOn, staleAssignmentDays)
		if now.Before(deadline) {
			continue
		}

		formerAssignee := item.AssigneeID
		if _, err := s.lifecycle.Unassign(ctx, item.ID, nil); err != nil {
			slog.ErrorContext(ctx, "auto-unassign failed", "error", err, "action_item_id", item.ID)
			metrics.SweepItems.WithLabelValues("auto_unassign", "error").Inc()
			continue
		}
		cleared++
		metrics.SweepItems.WithLabelValues("auto_unassign", "cleared").Inc()

		if formerAssignee == nil {
			continue
		}
		user, err := s.stores.Users().GetByID(ctx, *formerAssignee)
		if err != nil || user.ChatHandle == nil {
			continue
		}
		if err := s.notifier.PostMessage(ctx, *user.ChatHandle,
			fmt.Sprintf("Item %d was unassigned from you after %d business days without progress.", item.ID, staleAssignmentDays)); err != nil {
			slog.WarnContext(ctx, "unassign notification failed", "error", err, "action_item_id", item.ID)
		}
	}

	slog.InfoContext(ctx, "auto-unassign sweep done", "assigned", len(items), "cleared", cleared)
	return nil
}
