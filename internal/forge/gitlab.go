// Package forge wraps the remote issue-tracker client. The triage core only
// needs enough of the remote issue to mirror it: identity, title, body,
// state, author, labels.
package forge

import (
	"context"
	"fmt"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// RemoteIssue is the forge-side view of an issue or merge request.
type RemoteIssue struct {
	NodeID      string
	Number      int64
	Title       string
	Body        string
	State       string // "open" or "closed"
	AuthorLogin string
	AuthorEmail string
	Repository  string
	Labels      []string
	WebURL      string
}

// Client fetches issue detail from the forge for webhook enrichment.
type Client interface {
	FetchIssue(ctx context.Context, projectPath string, number int64) (*RemoteIssue, error)
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type gitLabClient struct {
	client  *gitlab.Client
	timeout time.Duration
}

func NewGitLab(cfg Config) (Client, error) {
	var opts []gitlab.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
	}

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating forge client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &gitLabClient{client: client, timeout: timeout}, nil
}

func (c *gitLabClient) FetchIssue(ctx context.Context, projectPath string, number int64) (*RemoteIssue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	issue, _, err := c.client.Issues.GetIssue(
		projectPath,
		number,
		nil,
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching issue %s#%d: %w", projectPath, number, err)
	}

	state := "open"
	if issue.State == "closed" {
		state = "closed"
	}

	remote := &RemoteIssue{
		NodeID:     fmt.Sprintf("gitlab:issue:%d", issue.ID),
		Number:     int64(issue.IID),
		Title:      issue.Title,
		Body:       issue.Description,
		State:      state,
		Repository: projectPath,
		WebURL:     issue.WebURL,
	}
	if issue.Author != nil {
		remote.AuthorLogin = issue.Author.Username
	}
	for _, label := range issue.Labels {
		remote.Labels = append(remote.Labels, label)
	}
	return remote, nil
}
