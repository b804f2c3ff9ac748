package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"triagedesk.app/triage/common/id"
	"triagedesk.app/triage/common/logger"
	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/forge"
	"triagedesk.app/triage/internal/metrics"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/store"
)

// Decision records how the ingestion engine classified an inbound event.
type Decision string

const (
	DecisionRejected Decision = "rejected"
	DecisionCreated  Decision = "created"
	DecisionGrouped  Decision = "grouped"
	DecisionUpdated  Decision = "updated"
	DecisionDeleted  Decision = "deleted"
)

type IngestResult struct {
	Decision Decision
	Item     *model.ActionItem
}

// Replies above this count on an unassigned item trigger an escalation ping
// to the channel's maintainers.
const escalationReplyThreshold = 10

// IngestService classifies inbound events as noise, updates to a tracked
// thread, or the seed of a new action item, applying the channel's grouping
// window to collapse near-simultaneous unassigned messages into one item.
type IngestService interface {
	HandleChatEvent(ctx context.Context, ev chat.Event) (*IngestResult, error)
	HandleIssueOpened(ctx context.Context, issue forge.RemoteIssue) (*IngestResult, error)
}

type ingestService struct {
	stores       StoreProvider
	txRunner     TxRunner
	identity     IdentityService
	participants ParticipantService
	projects     *project.Service
	threads      chat.ThreadFetcher
	effects      Effects
	now          func() time.Time
}

type IngestDeps struct {
	Stores       StoreProvider
	TxRunner     TxRunner
	Identity     IdentityService
	Participants ParticipantService
	Projects     *project.Service
	Threads      chat.ThreadFetcher
	Effects      Effects
	Now          func() time.Time
}

func NewIngestService(deps IngestDeps) IngestService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ingestService{
		stores:       deps.Stores,
		txRunner:     deps.TxRunner,
		identity:     deps.Identity,
		participants: deps.Participants,
		projects:     deps.Projects,
		threads:      deps.Threads,
		effects:      deps.Effects,
		now:          deps.Now,
	}
}

func (s *ingestService) HandleChatEvent(ctx context.Context, ev chat.Event) (*IngestResult, error) {
	switch e := ev.(type) {
	case chat.SystemNotice:
		return s.reject(ctx, "system subtype", e.SubType), nil
	case chat.Deletion:
		return s.handleDeletion(ctx, e)
	case chat.RootMessage:
		return s.handleMessage(ctx, e.ChannelID, e.TS, e.AuthorID, e.BotID, e.Text)
	case chat.ReplyMessage:
		return s.handleMessage(ctx, e.ChannelID, e.ThreadTS, e.AuthorID, e.BotID, e.Text)
	default:
		return nil, fmt.Errorf("unknown chat event type %T", ev)
	}
}

func (s *ingestService) handleMessage(ctx context.Context, channelID, threadTS, authorID, botID, text string) (*IngestResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ChannelID: logger.Ptr(channelID),
		ThreadTS:  logger.Ptr(threadTS),
		Component: "triage.service.ingest",
	})

	if botID != "" && !s.projects.IsAllowedBot(botID) {
		return s.reject(ctx, "bot not allow-listed", botID), nil
	}
	if IsNoise(text) {
		return s.reject(ctx, "noise", ""), nil
	}
	if _, tracked := s.projects.Channel(channelID); !tracked {
		return s.reject(ctx, "untracked channel", channelID), nil
	}

	thread, err := s.threads.FetchThread(ctx, channelID, threadTS)
	if err != nil {
		slog.WarnContext(ctx, "thread root unresolvable, skipping", "error", err)
		return s.reject(ctx, "thread unresolvable", ""), nil
	}

	existing, err := s.stores.SourceMessages().GetByThread(ctx, channelID, threadTS)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up source message: %w", err)
	}
	if existing != nil {
		return s.updatePath(ctx, existing, thread)
	}
	return s.creationPath(ctx, channelID, threadTS, thread)
}

// updatePath folds fresh thread context into the tracked item: reply-window
// aggregates are recomputed across every grouped source message and the
// participant roster is re-derived from the union of reply authors and the
// previously known participants.
func (s *ingestService) updatePath(ctx context.Context, msg *model.SourceMessage, thread *chat.Thread) (*IngestResult, error) {
	msg.ReplyCount = thread.Root.ReplyCount
	msg.Text = thread.Root.Text
	if err := s.stores.SourceMessages().Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("updating source message: %w", err)
	}

	item, err := s.recomputeAggregates(ctx, msg.ActionItemID, thread)
	if err != nil {
		return nil, err
	}

	if err := s.syncParticipants(ctx, item.ID, thread); err != nil {
		return nil, err
	}

	metrics.IngestDecisions.WithLabelValues(string(DecisionUpdated)).Inc()
	s.effects.AfterTransition(ctx, item, "thread_updated", nil, "", nil)
	s.checkEscalation(ctx, item, msg.ChannelID)
	return &IngestResult{Decision: DecisionUpdated, Item: item}, nil
}

func (s *ingestService) creationPath(ctx context.Context, channelID, threadTS string, thread *chat.Thread) (*IngestResult, error) {
	if s.projects.IsChannelMaintainer(channelID, thread.Root.AuthorID) {
		return s.reject(ctx, "maintainer-authored root", thread.Root.AuthorID), nil
	}

	author, err := s.identity.Resolve(ctx, Ref{ChatHandle: thread.Root.AuthorID})
	if err != nil {
		return nil, fmt.Errorf("resolving author: %w", err)
	}

	now := s.now().UTC()
	window, _ := s.projects.GroupingWindow(channelID)

	var groupItemID int64
	if window > 0 {
		recent, err := s.stores.SourceMessages().LatestGroupable(ctx, channelID, now.Add(-window))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("grouping lookup: %w", err)
		}
		if recent != nil {
			groupItemID = recent.ActionItemID
		}
	}

	msg := &model.SourceMessage{
		ID:         id.New(),
		ChannelID:  channelID,
		ThreadTS:   threadTS,
		Text:       thread.Root.Text,
		ReplyCount: thread.Root.ReplyCount,
		AuthorID:   author.ID,
		PostedAt:   thread.Root.PostedAt,
	}

	decision := DecisionCreated
	var item *model.ActionItem

	if groupItemID != 0 {
		decision = DecisionGrouped
		msg.ActionItemID = groupItemID
		if err := s.stores.SourceMessages().Create(ctx, msg); err != nil {
			return nil, fmt.Errorf("attaching grouped source message: %w", err)
		}
		item, err = s.recomputeAggregates(ctx, groupItemID, thread)
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
			item = &model.ActionItem{
				ID:           id.New(),
				Status:       model.StatusOpen,
				TotalReplies: thread.Root.ReplyCount,
			}
			if thread.Root.ReplyCount > 0 {
				item.FirstReplyOn = earliestReply(thread)
				item.LastReplyOn = thread.LatestReply
			}
			if err := sp.ActionItems().Create(ctx, item); err != nil {
				return fmt.Errorf("creating action item: %w", err)
			}
			msg.ActionItemID = item.ID
			return sp.SourceMessages().Create(ctx, msg)
		}); err != nil {
			return nil, err
		}
	}

	if err := s.syncParticipants(ctx, item.ID, thread); err != nil {
		return nil, err
	}

	metrics.IngestDecisions.WithLabelValues(string(decision)).Inc()
	s.effects.AfterTransition(ctx, item, "ingested", &author.ID, logger.Truncate(thread.Root.Text, 140), nil)
	s.checkEscalation(ctx, item, channelID)

	slog.InfoContext(ctx, "chat message ingested",
		"decision", decision,
		"action_item_id", item.ID,
		"grouped", groupItemID != 0)
	return &IngestResult{Decision: decision, Item: item}, nil
}

func (s *ingestService) handleDeletion(ctx context.Context, e chat.Deletion) (*IngestResult, error) {
	msg, err := s.stores.SourceMessages().DeleteByThread(ctx, e.ChannelID, e.ThreadTS)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.reject(ctx, "deletion of untracked thread", ""), nil
		}
		return nil, fmt.Errorf("deleting source message: %w", err)
	}

	item, err := s.stores.ActionItems().GetByID(ctx, msg.ActionItemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &IngestResult{Decision: DecisionDeleted}, nil
		}
		return nil, err
	}

	// When the last source is gone and no forge mirror backs the item, it is
	// closed as irrelevant rather than deleted; closed items stay reportable.
	remaining, err := s.stores.SourceMessages().ListByActionItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 && item.OpenLike() {
		if _, err := s.stores.TrackedIssues().GetByActionItem(ctx, item.ID); errors.Is(err, store.ErrNotFound) {
			resolution := model.ResolutionIrrelevant
			reason := "source message deleted"
			now := s.now().UTC()
			item.Status = model.StatusClosed
			item.Resolution = &resolution
			item.Reason = &reason
			item.ResolvedAt = &now
			item.SnoozedUntil = nil
			item.SnoozedByID = nil
			if err := s.stores.ActionItems().UpdateLifecycle(ctx, item); err != nil {
				return nil, err
			}
			s.effects.AfterTransition(ctx, item, "irrelevant", nil, reason, nil)
			s.effects.RemoveDocument(ctx, item.ID)
		}
	}

	metrics.IngestDecisions.WithLabelValues(string(DecisionDeleted)).Inc()
	return &IngestResult{Decision: DecisionDeleted, Item: item}, nil
}

func (s *ingestService) HandleIssueOpened(ctx context.Context, remote forge.RemoteIssue) (*IngestResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr("issue_opened"),
		Component: "triage.service.ingest",
	})

	if _, tracked := s.projects.ProjectForRepo(remote.Repository); !tracked {
		return s.reject(ctx, "untracked repository", remote.Repository), nil
	}
	for _, m := range s.projects.MaintainersForRepo(remote.Repository) {
		if m.ForgeHandle != "" && m.ForgeHandle == remote.AuthorLogin {
			return s.reject(ctx, "maintainer-authored issue", remote.AuthorLogin), nil
		}
	}

	author, err := s.identity.Resolve(ctx, Ref{ForgeHandle: remote.AuthorLogin, Email: remote.AuthorEmail})
	if err != nil {
		return nil, fmt.Errorf("resolving issue author: %w", err)
	}

	var (
		item    *model.ActionItem
		created bool
	)
	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		existing, err := sp.TrackedIssues().GetByNodeID(ctx, remote.NodeID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		mirror := &model.TrackedIssue{
			ID:         id.New(),
			NodeID:     remote.NodeID,
			Number:     remote.Number,
			Title:      remote.Title,
			State:      model.IssueState(remote.State),
			AuthorID:   author.ID,
			Repository: remote.Repository,
			Labels:     remote.Labels,
		}
		if remote.Body != "" {
			mirror.Body = &remote.Body
		}

		if existing != nil {
			// Redelivery: refresh the mirror, keep the linkage.
			mirror.ID = existing.ID
			mirror.ActionItemID = existing.ActionItemID
			if err := sp.TrackedIssues().Update(ctx, mirror); err != nil {
				return err
			}
			item, err = sp.ActionItems().GetByID(ctx, existing.ActionItemID)
			return err
		}

		created = true
		item = &model.ActionItem{
			ID:     id.New(),
			Status: model.StatusOpen,
		}
		if err := sp.ActionItems().Create(ctx, item); err != nil {
			return fmt.Errorf("creating action item: %w", err)
		}
		mirror.ActionItemID = item.ID
		_, _, err = sp.TrackedIssues().Upsert(ctx, mirror)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.participants.Sync(ctx, item.ID, []Ref{{ForgeHandle: remote.AuthorLogin, Email: remote.AuthorEmail}}, model.ParticipantRoleAuthor); err != nil {
		return nil, err
	}

	decision := DecisionUpdated
	if created {
		decision = DecisionCreated
	}
	metrics.IngestDecisions.WithLabelValues(string(decision)).Inc()
	s.effects.AfterTransition(ctx, item, "ingested", &author.ID, fmt.Sprintf("%s#%d %s", remote.Repository, remote.Number, logger.Truncate(remote.Title, 100)), nil)

	slog.InfoContext(ctx, "forge issue ingested",
		"decision", decision,
		"node_id", remote.NodeID,
		"action_item_id", item.ID)
	return &IngestResult{Decision: decision, Item: item}, nil
}

// recomputeAggregates rebuilds the reply-window aggregates across every
// source message grouped under the item.
func (s *ingestService) recomputeAggregates(ctx context.Context, itemID int64, thread *chat.Thread) (*model.ActionItem, error) {
	item, err := s.stores.ActionItems().GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	first := item.FirstReplyOn
	if e := earliestReply(thread); e != nil && (first == nil || e.Before(*first)) {
		first = e
	}
	last := item.LastReplyOn
	if thread.LatestReply != nil && (last == nil || thread.LatestReply.After(*last)) {
		last = thread.LatestReply
	}

	msgs, err := s.stores.SourceMessages().ListByActionItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, m := range msgs {
		total += m.ReplyCount
	}

	if err := s.stores.ActionItems().UpdateReplyWindow(ctx, itemID, first, last, total); err != nil {
		return nil, err
	}
	item.FirstReplyOn = first
	item.LastReplyOn = last
	item.TotalReplies = total
	return item, nil
}

// syncParticipants resets the roster and re-derives it from the union of
// thread reply authors and the previously known participants.
func (s *ingestService) syncParticipants(ctx context.Context, itemID int64, thread *chat.Thread) error {
	previous, err := s.participants.Reset(ctx, itemID)
	if err != nil {
		return err
	}

	for _, p := range previous {
		if err := s.stores.Participants().Upsert(ctx, &p); err != nil {
			return fmt.Errorf("restoring participant %d: %w", p.UserID, err)
		}
	}

	refs := []Ref{{ChatHandle: thread.Root.AuthorID}}
	roles := []model.ParticipantRole{model.ParticipantRoleAuthor}
	for _, reply := range thread.Replies {
		if reply.AuthorID == "" {
			continue
		}
		refs = append(refs, Ref{ChatHandle: reply.AuthorID})
		roles = append(roles, model.ParticipantRoleReplier)
	}
	for i, ref := range refs {
		if err := s.participants.Sync(ctx, itemID, []Ref{ref}, roles[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ingestService) checkEscalation(ctx context.Context, item *model.ActionItem, channelID string) {
	if !item.OpenLike() || item.TotalReplies < escalationReplyThreshold {
		return
	}
	if item.AssigneeID != nil {
		// Someone already owns it; nudge them privately rather than
		// paging maintainers in the channel.
		assignee, err := s.stores.Users().GetByID(ctx, *item.AssigneeID)
		if err != nil || assignee.ChatHandle == nil {
			return
		}
		s.effects.NotifyEphemeral(ctx, channelID, *assignee.ChatHandle,
			fmt.Sprintf("item %d you are assigned to has reached %d replies", item.ID, item.TotalReplies))
		return
	}
	maintainers := s.projects.MaintainersForChannel(channelID)
	for _, m := range maintainers {
		if m.ChatHandle == "" {
			continue
		}
		s.effects.Notify(ctx, channelID,
			fmt.Sprintf("<@%s> item %d has %d replies and no assignee", m.ChatHandle, item.ID, item.TotalReplies))
	}
}

func (s *ingestService) reject(ctx context.Context, why, detail string) *IngestResult {
	metrics.IngestDecisions.WithLabelValues(string(DecisionRejected)).Inc()
	slog.DebugContext(ctx, "inbound message rejected", "why", why, "detail", detail)
	return &IngestResult{Decision: DecisionRejected}
}

func earliestReply(thread *chat.Thread) *time.Time {
	var earliest *time.Time
	for _, r := range thread.Replies {
		t := r.PostedAt
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
	}
	return earliest
}

// IsNoise reports whether the message text is below the tracking threshold:
// trivially short, or a single emoji token.
func IsNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= 4 {
		return true
	}
	return isSingleEmoji(trimmed)
}

func isSingleEmoji(s string) bool {
	// Colon-form (":shipit:") with no spaces.
	if strings.HasPrefix(s, ":") && strings.HasSuffix(s, ":") && !strings.ContainsAny(s[1:len(s)-1], ": \t") {
		return true
	}
	// A single unicode emoji rune (with optional variation selectors).
	runes := []rune(s)
	if len(runes) == 0 || len(runes) > 3 {
		return false
	}
	first := runes[0]
	if !unicode.Is(unicode.So, first) && !(first >= 0x1F000 && first <= 0x1FAFF) {
		return false
	}
	for _, r := range runes[1:] {
		if r != 0xFE0F && !unicode.Is(unicode.Mn, r) {
			return false
		}
	}
	return true
}
