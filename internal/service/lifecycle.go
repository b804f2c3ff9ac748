package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"triagedesk.app/triage/common/id"
	"triagedesk.app/triage/common/logger"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/search"
	"triagedesk.app/triage/internal/store"
	"triagedesk.app/triage/internal/workday"
)

var (
	// ErrInvalidTransition is returned for a lifecycle action the item's
	// current status does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrReasonRequired is returned when closing an item without a reason.
	ErrReasonRequired = errors.New("a reason is required to close an item")
)

// LifecycleService owns the action item state machine. Transitions are
// committed to the store first; search, activity log, and notifications are
// best-effort effects that never roll a transition back.
type LifecycleService interface {
	Assign(ctx context.Context, itemID int64, assigneeID int64, actorID *int64) (*model.ActionItem, error)
	Unassign(ctx context.Context, itemID int64, actorID *int64) (*model.ActionItem, error)
	Snooze(ctx context.Context, itemID int64, days int, actorID int64) (*model.ActionItem, error)
	Unsnooze(ctx context.Context, itemID int64, actorID *int64) (*model.ActionItem, error)
	Resolve(ctx context.Context, itemID int64, reason string, actorID *int64) (*model.ActionItem, error)
	MarkIrrelevant(ctx context.Context, itemID int64, reason string, actorID *int64) (*model.ActionItem, error)
	// ScheduleFollowUp spawns (or re-dates) the parent's single live
	// follow-up, due the given number of days out. The child item stays
	// dormant until the follow-up sweep fires it open.
	ScheduleFollowUp(ctx context.Context, parentID int64, days int, actorID int64) (*model.FollowUp, error)
	// FireFollowUp flips the dormant child open and marks the link fired.
	// Called by the follow-up sweep; the parent is left untouched.
	FireFollowUp(ctx context.Context, fu model.FollowUp) (*model.ActionItem, error)
	AddNote(ctx context.Context, itemID int64, note string, actorID *int64) error
}

type lifecycleService struct {
	items     store.ActionItemStore
	followUps store.FollowUpStore
	txRunner  TxRunner
	effects   Effects
	now       func() time.Time
}

func NewLifecycleService(items store.ActionItemStore, followUps store.FollowUpStore, txRunner TxRunner, effects Effects) LifecycleService {
	return &lifecycleService{
		items:     items,
		followUps: followUps,
		txRunner:  txRunner,
		effects:   effects,
		now:       time.Now,
	}
}

// NewLifecycleServiceWithClock is used by tests needing a fixed clock.
func NewLifecycleServiceWithClock(items store.ActionItemStore, followUps store.FollowUpStore, txRunner TxRunner, effects Effects, now func() time.Time) LifecycleService {
	svc := NewLifecycleService(items, followUps, txRunner, effects)
	svc.(*lifecycleService).now = now
	return svc
}

func (s *lifecycleService) Assign(ctx context.Context, itemID int64, assigneeID int64, actorID *int64) (*model.ActionItem, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != model.StatusOpen && item.Status != model.StatusAssigned {
		return nil, fmt.Errorf("%w: cannot assign %s item %d", ErrInvalidTransition, item.Status, itemID)
	}

	now := s.now().UTC()
	item.Status = model.StatusAssigned
	item.AssigneeID = &assigneeID
	item.AssignedOn = &now
	if err := s.items.UpdateLifecycle(ctx, item); err != nil {
		return nil, err
	}

	s.effects.AfterTransition(ctx, item, "assign", actorID, fmt.Sprintf("assigned to %d", assigneeID), &search.Counters{Assigned: 1})
	return item, nil
}

func (s *lifecycleService) Unassign(ctx context.Context, itemID int64, actorID *int64) (*model.ActionItem, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.AssigneeID == nil {
		return nil, fmt.Errorf("%w: item %d has no assignee", ErrInvalidTransition, itemID)
	}
	if item.Status != model.StatusAssigned && item.Status != model.StatusOpen {
		return nil, fmt.Errorf("%w: cannot unassign %s item %d", ErrInvalidTransition, item.Status, itemID)
	}

	item.Status = model.StatusOpen
	item.AssigneeID = nil
	item.AssignedOn = nil
	if err := s.items.UpdateLifecycle(ctx, item); err != nil {
		return nil, err
	}

	s.effects.AfterTransition(ctx, item, "unassign", actorID, "", nil)
	return item, nil
}

func (s *lifecycleService) Snooze(ctx context.Context, itemID int64, days int, actorID int64) (*model.ActionItem, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.OpenLike() {
		return nil, fmt.Errorf("%w: cannot snooze %s item %d", ErrInvalidTransition, item.Status, itemID)
	}

	until := workday.SnoozeTarget(s.now(), days)
	item.Status = model.StatusSnoozed
	item.SnoozedUntil = &until
	item.SnoozeCount++
	item.SnoozedByID = &actorID
	if err := s.items.UpdateLifecycle(ctx, item); err != nil {
		return nil, err
	}

	s.effects.AfterTransition(ctx, item, "snooze", &actorID, fmt.Sprintf("until %s", until.Format("2006-01-02")), &search.Counters{Snoozed: 1})
	return item, nil
}

func (s *lifecycleService) Unsnooze(ctx context.Context, itemID int64, actorID *int64) (*model.ActionItem, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != model.StatusSnoozed {
		return nil, fmt.Errorf("%w: cannot unsnooze %s item %d", ErrInvalidTransition, item.Status, itemID)
	}

	item.SnoozedUntil = nil
	item.SnoozedByID = nil
	if item.SnoozeCount > 0 {
		item.SnoozeCount--
	}
	if item.AssigneeID != nil {
		// The staleness clock restarts at the wake; without this the
		// auto-unassign deadline would still count from the original
		// assignment and fire the moment a long snooze expires.
		item.Status = model.StatusAssigned
		wake := s.now().UTC()
		item.AssignedOn = &wake
	} else {
		item.Status = model.StatusOpen
	}
	if err := s.items.UpdateLifecycle(ctx, item); err != nil {
		return nil, err
	}

	s.effects.AfterTransition(ctx, item, "unsnooze", actorID, "", nil)
	return item, nil
}

func (s *lifecycleService) Resolve(ctx context.Context, itemID int64, reason string, actorID *int64) (*model.ActionItem, error) {
	return s.close(ctx, itemID, model.ResolutionResolved, reason, actorID)
}

func (s *lifecycleService) MarkIrrelevant(ctx context.Context, itemID int64, reason string, actorID *int64) (*model.ActionItem, error) {
	return s.close(ctx, itemID, model.ResolutionIrrelevant, reason, actorID)
}

func (s *lifecycleService) close(ctx context.Context, itemID int64, resolution model.Resolution, reason string, actorID *int64) (*model.ActionItem, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.OpenLike() {
		return nil, fmt.Errorf("%w: cannot close %s item %d", ErrInvalidTransition, item.Status, itemID)
	}

	now := s.now().UTC()
	item.Status = model.StatusClosed
	item.Resolution = &resolution
	item.Reason = &reason
	item.ResolvedAt = &now
	item.SnoozedUntil = nil
	item.SnoozedByID = nil
	if err := s.items.UpdateLifecycle(ctx, item); err != nil {
		return nil, err
	}

	// A follow-up child closed before its due date completes the chain so the
	// sweep never fires it.
	if fu, err := s.followUps.GetByChild(ctx, itemID); err == nil && fu.FiredAt == nil {
		if err := s.followUps.MarkFired(ctx, fu.ParentID, fu.ChildID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "failed to complete follow-up chain", "error", err, "action_item_id", itemID)
		}
	}

	transition := "resolve"
	var counters *search.Counters
	if resolution == model.ResolutionResolved {
		counters = &search.Counters{Resolved: 1}
	} else {
		transition = "irrelevant"
	}
	s.effects.AfterTransition(ctx, item, transition, actorID, reason, counters)
	return item, nil
}

func (s *lifecycleService) ScheduleFollowUp(ctx context.Context, parentID int64, days int, actorID int64) (*model.FollowUp, error) {
	parent, err := s.items.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status != model.StatusClosed || parent.Resolution == nil || *parent.Resolution != model.ResolutionResolved {
		return nil, fmt.Errorf("%w: follow-up requires a resolved item, %d is %s", ErrInvalidTransition, parentID, parent.Status)
	}

	dueOn := workday.SnoozeTarget(s.now(), days)

	var fu *model.FollowUp
	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		existing, err := sp.FollowUps().GetPendingByParent(ctx, parentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		childID := int64(0)
		if existing != nil {
			// Re-dating the live follow-up reuses its child.
			childID = existing.ChildID
		} else {
			child := &model.ActionItem{
				ID:     id.New(),
				Status: model.StatusDormant,
				Notes:  parent.Notes,
			}
			if err := sp.ActionItems().Create(ctx, child); err != nil {
				return fmt.Errorf("spawning follow-up child: %w", err)
			}
			childID = child.ID
		}

		fu = &model.FollowUp{
			ParentID:    parentID,
			ChildID:     childID,
			DueOn:       dueOn,
			CreatedByID: actorID,
		}
		return sp.FollowUps().UpsertPending(ctx, fu)
	}); err != nil {
		return nil, err
	}

	s.effects.AfterTransition(ctx, parent, "follow_up", &actorID, fmt.Sprintf("due %s", dueOn.Format("2006-01-02")), nil)
	return fu, nil
}

func (s *lifecycleService) FireFollowUp(ctx context.Context, fu model.FollowUp) (*model.ActionItem, error) {
	child, err := s.items.GetByID(ctx, fu.ChildID)
	if err != nil {
		return nil, err
	}
	if child.Status != model.StatusDormant {
		return nil, fmt.Errorf("%w: follow-up child %d is %s", ErrInvalidTransition, fu.ChildID, child.Status)
	}

	now := s.now().UTC()
	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if err := sp.FollowUps().MarkFired(ctx, fu.ParentID, fu.ChildID, now); err != nil {
			// Already fired by an overlapping sweep run.
			return err
		}
		child.Status = model.StatusOpen
		return sp.ActionItems().UpdateLifecycle(ctx, child)
	}); err != nil {
		return nil, err
	}

	s.effects.AfterTransition(ctx, child, "follow_up_fired", nil, fmt.Sprintf("spawned from %d", fu.ParentID), nil)
	return child, nil
}

func (s *lifecycleService) AddNote(ctx context.Context, itemID int64, note string, actorID *int64) error {
	if note == "" {
		return fmt.Errorf("note text is required")
	}
	if err := s.items.AppendNote(ctx, itemID, note); err != nil {
		return err
	}
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	s.effects.AfterTransition(ctx, item, "note", actorID, logger.Truncate(note, 140), nil)
	return nil
}
