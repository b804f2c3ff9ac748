package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"triagedesk.app/triage/internal/http/dto"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/project"
	"triagedesk.app/triage/internal/service"
	"triagedesk.app/triage/internal/store"
)

// Ephemeral error strings rendered back to the invoking user. These are part
// of the command surface; handlers pick from them instead of leaking internal
// error text.
const (
	errNotAuthorized   = "not authorized"
	errProjectNotFound = "project not found"
	errInvalidFilter   = "invalid filter"
	errItemNotFound    = "item not found"
)

// historyLimit caps the activity entries rendered by the history action.
const historyLimit = 20

// CommandHandler executes admin actions invoked through the chat platform's
// slash-command integration. Every action requires the actor to be a
// configured manager.
type CommandHandler struct {
	lifecycle service.LifecycleService
	identity  service.IdentityService
	stores    service.StoreProvider
	projects  *project.Service
}

func NewCommandHandler(lifecycle service.LifecycleService, identity service.IdentityService, stores service.StoreProvider, projects *project.Service) *CommandHandler {
	return &CommandHandler{
		lifecycle: lifecycle,
		identity:  identity,
		stores:    stores,
		projects:  projects,
	}
}

func (h *CommandHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.CommandResponse{Error: "invalid request"})
		return
	}

	if !h.projects.IsManager(req.ActorChat) {
		c.JSON(http.StatusOK, dto.CommandResponse{Error: errNotAuthorized})
		return
	}

	actor, err := h.identity.Resolve(ctx, service.Ref{ChatHandle: req.ActorChat})
	if err != nil {
		slog.ErrorContext(ctx, "resolving command actor failed", "error", err, "actor", req.ActorChat)
		c.JSON(http.StatusInternalServerError, dto.CommandResponse{Error: "internal error"})
		return
	}

	resp := h.dispatch(ctx, req, actor)
	c.JSON(http.StatusOK, resp)
}

func (h *CommandHandler) dispatch(ctx context.Context, req dto.CommandRequest, actor *model.User) dto.CommandResponse {
	switch req.Action {
	case "assign":
		assignee, err := h.identity.Resolve(ctx, service.Ref{ChatHandle: req.AssigneeChat})
		if err != nil {
			return dto.CommandResponse{Error: "unknown assignee"}
		}
		return h.transition(req, func() (*model.ActionItem, error) {
			return h.lifecycle.Assign(ctx, req.ItemID, assignee.ID, &actor.ID)
		})
	case "unassign":
		return h.transition(req, func() (*model.ActionItem, error) {
			return h.lifecycle.Unassign(ctx, req.ItemID, &actor.ID)
		})
	case "snooze":
		if req.Days <= 0 {
			return dto.CommandResponse{Error: "snooze needs a positive day count"}
		}
		return h.transition(req, func() (*model.ActionItem, error) {
			return h.lifecycle.Snooze(ctx, req.ItemID, req.Days, actor.ID)
		})
	case "unsnooze":
		return h.transition(req, func() (*model.ActionItem, error) {
			return h.lifecycle.Unsnooze(ctx, req.ItemID, &actor.ID)
		})
	case "resolve":
		return h.transition(req, func() (*model.ActionItem, error) {
			return h.lifecycle.Resolve(ctx, req.ItemID, req.Reason, &actor.ID)
		})
	case "irrelevant":
		return h.transition(req, func() (*model.ActionItem, error) {
			return h.lifecycle.MarkIrrelevant(ctx, req.ItemID, req.Reason, &actor.ID)
		})
	case "follow_up":
		if req.Days <= 0 {
			return dto.CommandResponse{Error: "follow-up needs a positive day count"}
		}
		fu, err := h.lifecycle.ScheduleFollowUp(ctx, req.ItemID, req.Days, actor.ID)
		if err != nil {
			return commandError(err)
		}
		return dto.CommandResponse{OK: true, ItemID: fu.ChildID, Status: fmt.Sprintf("follow-up due %s", fu.DueOn.Format("2006-01-02"))}
	case "note":
		if req.Note == "" {
			return dto.CommandResponse{Error: "note text is required"}
		}
		if err := h.lifecycle.AddNote(ctx, req.ItemID, req.Note, &actor.ID); err != nil {
			return commandError(err)
		}
		return dto.CommandResponse{OK: true, ItemID: req.ItemID, Status: "note added"}
	case "link":
		user, err := h.identity.Link(ctx, service.Ref{ChatHandle: req.AssigneeChat})
		if err != nil {
			if errors.Is(err, service.ErrUnresolved) {
				return dto.CommandResponse{Error: "identities cannot be merged without a shared e-mail"}
			}
			return commandError(err)
		}
		return dto.CommandResponse{OK: true, Status: fmt.Sprintf("identities merged into user %d", user.ID)}
	case "digest_opt_out", "digest_opt_in":
		actor.OptOutDigest = req.Action == "digest_opt_out"
		if err := h.stores.Users().Update(ctx, actor); err != nil {
			return commandError(err)
		}
		return dto.CommandResponse{OK: true, Status: "digest preference saved"}
	case "summary":
		return h.summary(ctx, req)
	case "history":
		return h.history(ctx, req)
	case "reload":
		if err := h.projects.Reload(); err != nil {
			slog.ErrorContext(ctx, "project config reload failed", "error", err)
			return dto.CommandResponse{Error: "reload failed"}
		}
		return dto.CommandResponse{OK: true, Status: "project config reloaded"}
	default:
		return dto.CommandResponse{Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

func (h *CommandHandler) transition(req dto.CommandRequest, fn func() (*model.ActionItem, error)) dto.CommandResponse {
	item, err := fn()
	if err != nil {
		return commandError(err)
	}
	return dto.CommandResponse{OK: true, ItemID: item.ID, Status: string(item.Status)}
}

// summary answers "/triage summary <project> <filter>" with scoped counts.
func (h *CommandHandler) summary(ctx context.Context, req dto.CommandRequest) dto.CommandResponse {
	var proj *project.Project
	for _, p := range h.projects.Projects() {
		if p.Name == req.Project {
			proj = &p
			break
		}
	}
	if proj == nil {
		return dto.CommandResponse{Error: errProjectNotFound}
	}

	channelIDs := make([]string, 0, len(proj.Channels))
	for _, ch := range proj.Channels {
		channelIDs = append(channelIDs, ch.ID)
	}

	switch req.Filter {
	case "", "open":
		open, err := h.stores.ActionItems().CountOpenForSources(ctx, channelIDs, proj.Repos)
		if err != nil {
			return commandError(err)
		}
		return dto.CommandResponse{OK: true, Status: fmt.Sprintf("%s: %d open items", proj.Name, open)}
	case "closed":
		weekAgo := time.Now().UTC().Add(-7 * 24 * time.Hour)
		closed, err := h.stores.ActionItems().CountClosedForSourcesSince(ctx, channelIDs, proj.Repos, weekAgo)
		if err != nil {
			return commandError(err)
		}
		return dto.CommandResponse{OK: true, Status: fmt.Sprintf("%s: %d items closed this week", proj.Name, closed)}
	default:
		return dto.CommandResponse{Error: errInvalidFilter}
	}
}

// history renders the newest activity-log entries for an item, one per line.
func (h *CommandHandler) history(ctx context.Context, req dto.CommandRequest) dto.CommandResponse {
	if _, err := h.stores.ActionItems().GetByID(ctx, req.ItemID); err != nil {
		return commandError(err)
	}
	entries, err := h.stores.Activity().ListByActionItem(ctx, req.ItemID, historyLimit)
	if err != nil {
		return commandError(err)
	}
	if len(entries) == 0 {
		return dto.CommandResponse{OK: true, ItemID: req.ItemID, Status: "no activity recorded"}
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s %s", e.CreatedAt.Format("2006-01-02 15:04"), e.Verb)
		if e.Detail != nil {
			line += ": " + *e.Detail
		}
		lines = append(lines, line)
	}
	return dto.CommandResponse{OK: true, ItemID: req.ItemID, Status: strings.Join(lines, "\n")}
}

func commandError(err error) dto.CommandResponse {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return dto.CommandResponse{Error: errItemNotFound}
	case errors.Is(err, service.ErrInvalidTransition):
		return dto.CommandResponse{Error: err.Error()}
	default:
		return dto.CommandResponse{Error: "internal error"}
	}
}
