package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier is the outbound boundary to the chat platform. The core hands it
// plain text and identifiers; rendering of interactive cards is the
// platform adapter's concern.
type Notifier interface {
	PostMessage(ctx context.Context, channelID, text string) error
	PostEphemeral(ctx context.Context, channelID, userHandle, text string) error
	OpenModal(ctx context.Context, triggerID string, view json.RawMessage) error
	UpdateBlocks(ctx context.Context, channelID, ts string, blocks json.RawMessage) error
}

// ThreadFetcher fetches a thread's context from the origin channel.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, channelID, threadTS string) (*Thread, error)
}

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a thin HTTP adapter for the chat platform's web API. Every call
// carries a bounded timeout; a timeout is the same failure class as a hard
// error upstream.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) PostMessage(ctx context.Context, channelID, text string) error {
	return c.call(ctx, "chat.postMessage", map[string]any{
		"channel": channelID,
		"text":    text,
	})
}

func (c *Client) PostEphemeral(ctx context.Context, channelID, userHandle, text string) error {
	return c.call(ctx, "chat.postEphemeral", map[string]any{
		"channel": channelID,
		"user":    userHandle,
		"text":    text,
	})
}

func (c *Client) OpenModal(ctx context.Context, triggerID string, view json.RawMessage) error {
	return c.call(ctx, "views.open", map[string]any{
		"trigger_id": triggerID,
		"view":       view,
	})
}

func (c *Client) UpdateBlocks(ctx context.Context, channelID, ts string, blocks json.RawMessage) error {
	return c.call(ctx, "chat.update", map[string]any{
		"channel": channelID,
		"ts":      ts,
		"blocks":  blocks,
	})
}

func (c *Client) FetchThread(ctx context.Context, channelID, threadTS string) (*Thread, error) {
	var resp struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Messages []struct {
			TS          string  `json:"ts"`
			User        string  `json:"user"`
			BotID       string  `json:"bot_id"`
			Text        string  `json:"text"`
			ReplyCount  int     `json:"reply_count"`
			LatestReply *string `json:"latest_reply"`
		} `json:"messages"`
	}
	if err := c.callInto(ctx, "conversations.replies", map[string]any{
		"channel": channelID,
		"ts":      threadTS,
	}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("chat api error: %s", resp.Error)
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("thread %s/%s not found", channelID, threadTS)
	}

	thread := &Thread{}
	for i, m := range resp.Messages {
		msg := Message{
			ChannelID:  channelID,
			TS:         m.TS,
			AuthorID:   m.User,
			BotID:      m.BotID,
			Text:       m.Text,
			ReplyCount: m.ReplyCount,
			PostedAt:   tsToTime(m.TS),
		}
		if i == 0 {
			thread.Root = msg
			if m.LatestReply != nil {
				t := tsToTime(*m.LatestReply)
				thread.LatestReply = &t
			}
			continue
		}
		thread.Replies = append(thread.Replies, msg)
	}
	return thread, nil
}

func (c *Client) call(ctx context.Context, method string, body map[string]any) error {
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := c.callInto(ctx, method, body, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("chat api %s: %s", method, resp.Error)
	}
	return nil
}

func (c *Client) callInto(ctx context.Context, method string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("chat api %s: status %d", method, res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
