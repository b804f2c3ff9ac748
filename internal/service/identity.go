package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"triagedesk.app/triage/common/id"
	"triagedesk.app/triage/internal/model"
	"triagedesk.app/triage/internal/store"
)

// Ref is a loosely-typed actor reference from an event source. Any subset of
// the identifiers may be present.
type Ref struct {
	ChatHandle  string
	ForgeHandle string
	Email       string
}

func (r Ref) empty() bool {
	return r.ChatHandle == "" && r.ForgeHandle == "" && r.Email == ""
}

// ErrUnresolved is returned by Link when no e-mail is resolvable from any
// source; the caller must abort the linking flow without partial writes.
var ErrUnresolved = errors.New("identity unresolved: no e-mail from any source")

// IdentityService maps actor references to exactly one canonical user record.
type IdentityService interface {
	// Resolve returns the canonical user for the reference, creating one if
	// none of the identifiers match. Identifiers the matched record lacks are
	// filled in from the reference.
	Resolve(ctx context.Context, ref Ref) (*model.User, error)
	// Link reconciles every record matching the reference into one. When the
	// identifiers span multiple user rows the lowest-created survives, all
	// foreign keys are re-pointed in one transaction, and the rest are
	// deleted.
	Link(ctx context.Context, ref Ref) (*model.User, error)
}

type identityService struct {
	users    store.UserStore
	txRunner TxRunner
}

func NewIdentityService(users store.UserStore, txRunner TxRunner) IdentityService {
	return &identityService{users: users, txRunner: txRunner}
}

func (s *identityService) Resolve(ctx context.Context, ref Ref) (*model.User, error) {
	if ref.empty() {
		return nil, fmt.Errorf("empty actor reference")
	}

	matches, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		user := &model.User{ID: id.New()}
		applyRef(user, ref)
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("creating user: %w", err)
		}
		return user, nil
	}

	// Precedence: chat handle, then forge handle, then e-mail.
	user := matches[0]
	if enrich(user, ref) {
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("enriching user %d: %w", user.ID, err)
		}
	}
	return user, nil
}

func (s *identityService) Link(ctx context.Context, ref Ref) (*model.User, error) {
	matches, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	email := ref.Email
	for _, m := range matches {
		if email == "" && m.Email != nil {
			email = *m.Email
		}
	}
	if email == "" {
		return nil, ErrUnresolved
	}

	if len(matches) == 0 {
		return s.Resolve(ctx, Ref{ChatHandle: ref.ChatHandle, ForgeHandle: ref.ForgeHandle, Email: email})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	survivor := matches[0]
	enrich(survivor, Ref{ChatHandle: ref.ChatHandle, ForgeHandle: ref.ForgeHandle, Email: email})
	for _, m := range matches[1:] {
		if survivor.ChatHandle == nil && m.ChatHandle != nil {
			survivor.ChatHandle = m.ChatHandle
		}
		if survivor.ForgeHandle == nil && m.ForgeHandle != nil {
			survivor.ForgeHandle = m.ForgeHandle
		}
		if survivor.ForgeToken == nil && m.ForgeToken != nil {
			survivor.ForgeToken = m.ForgeToken
		}
	}

	if len(matches) == 1 {
		if err := s.users.Update(ctx, survivor); err != nil {
			return nil, fmt.Errorf("updating linked user %d: %w", survivor.ID, err)
		}
		return survivor, nil
	}

	loserIDs := make([]int64, 0, len(matches)-1)
	for _, m := range matches[1:] {
		loserIDs = append(loserIDs, m.ID)
	}

	// The loser's unique handles must be released before the survivor can
	// claim them, so the whole merge runs as one transaction.
	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if err := sp.Users().Merge(ctx, survivor.ID, loserIDs); err != nil {
			return err
		}
		return sp.Users().Update(ctx, survivor)
	}); err != nil {
		return nil, fmt.Errorf("merging users into %d: %w", survivor.ID, err)
	}

	slog.InfoContext(ctx, "merged duplicate user records",
		"survivor_id", survivor.ID,
		"merged_count", len(loserIDs))
	return survivor, nil
}

// lookup returns the distinct users matching any identifier, ordered by the
// identifier precedence they matched on.
func (s *identityService) lookup(ctx context.Context, ref Ref) ([]*model.User, error) {
	var matches []*model.User
	seen := make(map[int64]bool)

	add := func(u *model.User) {
		if u != nil && !seen[u.ID] {
			seen[u.ID] = true
			matches = append(matches, u)
		}
	}

	if ref.ChatHandle != "" {
		u, err := s.users.GetByChatHandle(ctx, ref.ChatHandle)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up chat handle: %w", err)
		}
		add(u)
	}
	if ref.ForgeHandle != "" {
		u, err := s.users.GetByForgeHandle(ctx, ref.ForgeHandle)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up forge handle: %w", err)
		}
		add(u)
	}
	if ref.Email != "" {
		u, err := s.users.GetByEmail(ctx, ref.Email)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up email: %w", err)
		}
		add(u)
	}
	return matches, nil
}

func applyRef(u *model.User, ref Ref) {
	if ref.ChatHandle != "" {
		u.ChatHandle = &ref.ChatHandle
	}
	if ref.ForgeHandle != "" {
		u.ForgeHandle = &ref.ForgeHandle
	}
	if ref.Email != "" {
		u.Email = &ref.Email
	}
}

// enrich fills identifiers the record lacks. Returns true when anything changed.
func enrich(u *model.User, ref Ref) bool {
	changed := false
	if u.ChatHandle == nil && ref.ChatHandle != "" {
		u.ChatHandle = &ref.ChatHandle
		changed = true
	}
	if u.ForgeHandle == nil && ref.ForgeHandle != "" {
		u.ForgeHandle = &ref.ForgeHandle
		changed = true
	}
	if u.Email == nil && ref.Email != "" {
		u.Email = &ref.Email
		changed = true
	}
	return changed
}
