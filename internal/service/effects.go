package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"triagedesk.app/triage/common/id"
	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/metrics"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/search"
	"triagedesk.app/triage/internal/store"
)

// Effects groups the best-effort side effects of a state change: refresh the
// search document, append an activity-log entry, emit the transition counter,
// and optionally notify someone. State is the source of truth; a failing
// effect is logged and counted, never propagated.
type Effects interface {
	AfterTransition(ctx context.Context, item *model.ActionItem, transition string, actorID *int64, detail string, counters *search.Counters)
	RemoveDocument(ctx context.Context, actionItemID int64)
	Notify(ctx context.Context, channelID, text string)
	NotifyEphemeral(ctx context.Context, channelID, userHandle, text string)
}

type effects struct {
	stores   StoreProvider
	index    search.Index
	notifier chat.Notifier
}

func NewEffects(stores StoreProvider, index search.Index, notifier chat.Notifier) Effects {
	return &effects{stores: stores, index: index, notifier: notifier}
}

func (e *effects) AfterTransition(ctx context.Context, item *model.ActionItem, transition string, actorID *int64, detail string, counters *search.Counters) {
	metrics.Transitions.WithLabelValues(transition).Inc()

	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	entry := &model.ActivityEntry{
		ID:           id.New(),
		ActionItemID: item.ID,
		ActorID:      actorID,
		Verb:         transition,
		Detail:       detailPtr,
	}
	if err := e.stores.Activity().Append(ctx, entry); err != nil {
		metrics.SideEffectFailures.WithLabelValues("activity").Inc()
		slog.ErrorContext(ctx, "failed to append activity entry",
			"error", err, "action_item_id", item.ID, "transition", transition)
	}

	if e.index == nil {
		return
	}
	doc, err := e.buildDocument(ctx, item)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("index").Inc()
		slog.ErrorContext(ctx, "failed to build search document",
			"error", err, "action_item_id", item.ID)
		return
	}
	if err := e.index.UpsertDocument(ctx, doc, counters); err != nil {
		metrics.SideEffectFailures.WithLabelValues("index").Inc()
		slog.ErrorContext(ctx, "failed to upsert search document",
			"error", err, "action_item_id", item.ID)
	}
}

func (e *effects) RemoveDocument(ctx context.Context, actionItemID int64) {
	if e.index == nil {
		return
	}
	if err := e.index.DeleteDocument(ctx, strconv.FormatInt(actionItemID, 10)); err != nil {
		metrics.SideEffectFailures.WithLabelValues("index").Inc()
		slog.ErrorContext(ctx, "failed to delete search document",
			"error", err, "action_item_id", actionItemID)
	}
}

func (e *effects) Notify(ctx context.Context, channelID, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PostMessage(ctx, channelID, text); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notify").Inc()
		slog.ErrorContext(ctx, "failed to post notification",
			"error", err, "channel_id", channelID)
	}
}

func (e *effects) NotifyEphemeral(ctx context.Context, channelID, userHandle, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PostEphemeral(ctx, channelID, userHandle, text); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notify").Inc()
		slog.ErrorContext(ctx, "failed to post ephemeral notification",
			"error", err, "channel_id", channelID)
	}
}

// buildDocument assembles the full snapshot the index collaborator expects.
func (e *effects) buildDocument(ctx context.Context, item *model.ActionItem) (search.Document, error) {
	doc := search.Document{
		ID:           strconv.FormatInt(item.ID, 10),
		Status:       string(item.Status),
		AssigneeID:   item.AssigneeID,
		TotalReplies: item.TotalReplies,
		CreatedAt:    item.CreatedAt.Unix(),
		UpdatedAt:    item.UpdatedAt.Unix(),
	}
	if item.Resolution != nil {
		doc.Resolution = string(*item.Resolution)
	}

	msgs, err := e.stores.SourceMessages().ListByActionItem(ctx, item.ID)
	if err != nil {
		return search.Document{}, err
	}
	for _, m := range msgs {
		if doc.ChannelID == "" {
			doc.ChannelID = m.ChannelID
		}
		if doc.Text == "" {
			doc.Text = m.Text
		}
	}

	if len(msgs) == 0 {
		issue, err := e.stores.TrackedIssues().GetByActionItem(ctx, item.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return search.Document{}, err
		}
		if issue != nil {
			doc.Repository = issue.Repository
			doc.Text = issue.Title
		}
	}

	participants, err := e.stores.Participants().ListByActionItem(ctx, item.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return search.Document{}, err
	}
	for _, p := range participants {
		doc.Participants = append(doc.Participants, strconv.FormatInt(p.UserID, 10))
	}
	return doc, nil
}
