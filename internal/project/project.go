// Package project holds the per-project tracking configuration: which chat
// channels and repositories are watched, who maintains them, and who may run
// admin commands. The core only reads through the lookup methods; the file is
// parsed once and swapped atomically on an explicit Reload.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

type Maintainer struct {
	ID          int64  `json:"id"`
	ChatHandle  string `json:"chat_handle"`
	ForgeHandle string `json:"forge_handle"`
}

type Channel struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	GroupingWindowMinutes int    `json:"grouping_window_minutes"`
}

type Project struct {
	Name        string       `json:"name"`
	Maintainers []Maintainer `json:"maintainers"`
	Channels    []Channel    `json:"channels"`
	Repos       []string     `json:"repositories"`
	Managers    []string     `json:"managers"` // chat handles empowered to run admin commands
	AllowedBots []string     `json:"allowed_bots,omitempty"`
}

type file struct {
	Projects []Project `json:"projects"`
}

type index struct {
	projects  []Project
	byChannel map[string]*Project
	channels  map[string]Channel
	byRepo    map[string]*Project
	managers  map[string]struct{}
	bots      map[string]struct{}
}

// Service is the config lookup handed to the core. All lookups read a
// snapshot built at load time; Reload swaps the snapshot in one assignment.
type Service struct {
	path string

	mu  sync.RWMutex
	idx *index
}

func NewService(path string) (*Service, error) {
	s := &Service{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the config file and replaces the lookup snapshot.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading project config: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing project config: %w", err)
	}

	idx := &index{
		projects:  f.Projects,
		byChannel: make(map[string]*Project),
		channels:  make(map[string]Channel),
		byRepo:    make(map[string]*Project),
		managers:  make(map[string]struct{}),
		bots:      make(map[string]struct{}),
	}
	for i := range f.Projects {
		p := &f.Projects[i]
		for _, ch := range p.Channels {
			idx.byChannel[ch.ID] = p
			idx.channels[ch.ID] = ch
		}
		for _, repo := range p.Repos {
			idx.byRepo[repo] = p
		}
		for _, m := range p.Managers {
			idx.managers[m] = struct{}{}
		}
		for _, b := range p.AllowedBots {
			idx.bots[b] = struct{}{}
		}
	}

	s.mu.Lock()
	s.idx = idx
	s.mu.Unlock()
	return nil
}

func (s *Service) snapshot() *index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// Channel returns the tracked channel config, or false for untracked channels.
func (s *Service) Channel(channelID string) (Channel, bool) {
	ch, ok := s.snapshot().channels[channelID]
	return ch, ok
}

// GroupingWindow returns the channel's grouping window. Zero means grouping
// is disabled for the channel.
func (s *Service) GroupingWindow(channelID string) (time.Duration, bool) {
	ch, ok := s.snapshot().channels[channelID]
	if !ok {
		return 0, false
	}
	return time.Duration(ch.GroupingWindowMinutes) * time.Minute, true
}

// MaintainersForChannel resolves the maintainers of the project that tracks
// the channel. Nil for untracked channels.
func (s *Service) MaintainersForChannel(channelID string) []Maintainer {
	if p, ok := s.snapshot().byChannel[channelID]; ok {
		return p.Maintainers
	}
	return nil
}

// MaintainersForRepo resolves the maintainers of the project that tracks the
// repository URI. Nil for untracked repositories.
func (s *Service) MaintainersForRepo(repo string) []Maintainer {
	if p, ok := s.snapshot().byRepo[repo]; ok {
		return p.Maintainers
	}
	return nil
}

// ProjectForRepo returns the owning project config.
func (s *Service) ProjectForRepo(repo string) (*Project, bool) {
	p, ok := s.snapshot().byRepo[repo]
	return p, ok
}

// Projects returns every configured project.
func (s *Service) Projects() []Project {
	return s.snapshot().projects
}

// IsManager reports whether the chat handle may run admin commands.
func (s *Service) IsManager(chatHandle string) bool {
	_, ok := s.snapshot().managers[chatHandle]
	return ok
}

// IsAllowedBot reports whether messages from this bot id are ingested.
func (s *Service) IsAllowedBot(botID string) bool {
	_, ok := s.snapshot().bots[botID]
	return ok
}

// IsChannelMaintainer reports whether the chat handle belongs to a maintainer
// of the channel's project. Maintainers' own thread roots are never tracked.
func (s *Service) IsChannelMaintainer(channelID, chatHandle string) bool {
	for _, m := range s.MaintainersForChannel(channelID) {
		if m.ChatHandle == chatHandle {
			return true
		}
	}
	return false
}
