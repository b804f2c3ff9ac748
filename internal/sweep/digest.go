package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"triagedesk.app/triage/internal/metrics"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/store"
)

const digestLookback = 7 * 24 * time.Hour

// Digest sends each maintainer a weekly summary of their projects: open
// backlog, items closed in the last week, and who contributed. Maintainers
// who opted out are skipped.
func (s *Sweeper) Digest(ctx context.Context) error {
	now := s.now().UTC()
	since := now.Add(-digestLookback)

	for _, proj := range s.projects.Projects() {
		summary, err := s.projectSummary(ctx, proj, since)
		if err != nil {
			slog.ErrorContext(ctx, "building digest failed", "error", err, "project", proj.Name)
			metrics.SweepItems.WithLabelValues("digest", "error").Inc()
			continue
		}

		for _, m := range proj.Maintainers {
			if m.ChatHandle == "" {
				continue
			}
			if s.optedOut(ctx, m.ChatHandle) {
				metrics.SweepItems.WithLabelValues("digest", "skipped").Inc()
				continue
			}
			if err := s.notifier.PostMessage(ctx, m.ChatHandle, summary); err != nil {
				slog.WarnContext(ctx, "digest delivery failed",
					"error", err,
					"project", proj.Name,
					"maintainer", m.ChatHandle)
				metrics.SweepItems.WithLabelValues("digest", "error").Inc()
				continue
			}
			metrics.SweepItems.WithLabelValues("digest", "sent").Inc()
		}
	}

	slog.InfoContext(ctx, "digest sweep done")
	return nil
}

func (s *Sweeper) projectSummary(ctx context.Context, proj project.Project, since time.Time) (string, error) {
	channelIDs := make([]string, 0, len(proj.Channels))
	for _, ch := range proj.Channels {
		channelIDs = append(channelIDs, ch.ID)
	}

	open, err := s.stores.ActionItems().CountOpenForSources(ctx, channelIDs, proj.Repos)
	if err != nil {
		return "", fmt.Errorf("counting open items: %w", err)
	}
	closed, err := s.stores.ActionItems().CountClosedForSourcesSince(ctx, channelIDs, proj.Repos, since)
	if err != nil {
		return "", fmt.Errorf("counting closed items: %w", err)
	}
	contributors, err := s.stores.ActionItems().ListContributorsSince(ctx, channelIDs, proj.Repos, since)
	if err != nil {
		return "", fmt.Errorf("listing contributors: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weekly digest for %s\n", proj.Name)
	fmt.Fprintf(&b, "Open items: %d\n", open)
	fmt.Fprintf(&b, "Closed this week: %d\n", closed)
	if len(contributors) > 0 {
		names := make([]string, 0, len(contributors))
		for _, u := range contributors {
			switch {
			case u.ChatHandle != nil:
				names = append(names, "<@"+*u.ChatHandle+">")
			case u.ForgeHandle != nil:
				names = append(names, *u.ForgeHandle)
			}
		}
		fmt.Fprintf(&b, "Contributors: %s\n", strings.Join(names, ", "))
	}
	return b.String(), nil
}

func (s *Sweeper) optedOut(ctx context.Context, chatHandle string) bool {
	user, err := s.stores.Users().GetByChatHandle(ctx, chatHandle)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "opt-out lookup failed", "error", err, "maintainer", chatHandle)
		}
		return false
	}
	return user.OptOutDigest
}
