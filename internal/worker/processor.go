package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"triagedesk.app/triage/common/logger"
	"triagedesk.app/triage/internal/chat"
	"triagedesk.app/triage/internal/forge"
	"triagedesk.app/triage/internal/queue"
	"triagedesk.app/triage/internal/service"
)

// Processor decodes queued tasks and hands them to the ingestion engine.
type Processor struct {
	ingest service.IngestService
	forge  forge.Client
}

func NewProcessor(ingest service.IngestService, forgeClient forge.Client) *Processor {
	return &Processor{ingest: ingest, forge: forgeClient}
}

func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	switch msg.TaskType {
	case queue.TaskTypeChatEvent:
		return p.processChatEvent(ctx, msg)
	case queue.TaskTypeIssueOpened:
		return p.processIssueOpened(ctx, msg)
	default:
		return fmt.Errorf("unknown task type %q", msg.TaskType)
	}
}

func (p *Processor) processChatEvent(ctx context.Context, msg queue.Message) error {
	var payload queue.ChatEventPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decoding chat event payload: %w", err)
	}

	ev, err := eventFromPayload(payload)
	if err != nil {
		return err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ChannelID: logger.Ptr(payload.ChannelID),
		EventType: logger.Ptr("chat_event"),
	})

	_, err = p.ingest.HandleChatEvent(ctx, ev)
	return err
}

func (p *Processor) processIssueOpened(ctx context.Context, msg queue.Message) error {
	var payload queue.IssueOpenedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decoding issue payload: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr("issue_opened"),
	})

	remote, err := p.forge.FetchIssue(ctx, payload.ProjectPath, payload.Number)
	if err != nil {
		return fmt.Errorf("fetching issue %s#%d: %w", payload.ProjectPath, payload.Number, err)
	}

	_, err = p.ingest.HandleIssueOpened(ctx, *remote)
	return err
}

func eventFromPayload(p queue.ChatEventPayload) (chat.Event, error) {
	switch p.Kind {
	case "root":
		return chat.RootMessage{
			ChannelID:  p.ChannelID,
			TS:         p.TS,
			AuthorID:   p.AuthorID,
			BotID:      p.BotID,
			Text:       p.Text,
			ReplyCount: p.ReplyCount,
			PostedAt:   p.PostedAt,
		}, nil
	case "reply":
		return chat.ReplyMessage{
			ChannelID: p.ChannelID,
			ThreadTS:  p.ThreadTS,
			TS:        p.TS,
			AuthorID:  p.AuthorID,
			BotID:     p.BotID,
			Text:      p.Text,
			PostedAt:  p.PostedAt,
		}, nil
	case "deletion":
		return chat.Deletion{
			ChannelID: p.ChannelID,
			ThreadTS:  p.ThreadTS,
		}, nil
	case "system":
		return chat.SystemNotice{
			ChannelID: p.ChannelID,
			SubType:   p.SubType,
		}, nil
	default:
		return nil, fmt.Errorf("unknown chat event kind %q", p.Kind)
	}
}
