package queue

import "time"

type TaskType string

const (
	TaskTypeChatEvent   TaskType = "chat_event"
	TaskTypeIssueOpened TaskType = "issue_opened"
)

// ChatEventPayload is the serialized form of a normalized chat event. Kind
// selects the variant the consumer reconstructs.
type ChatEventPayload struct {
	Kind       string    `json:"kind"` // "root", "reply", "deletion", "system"
	ChannelID  string    `json:"channel_id"`
	ThreadTS   string    `json:"thread_ts,omitempty"`
	TS         string    `json:"ts,omitempty"`
	AuthorID   string    `json:"author_id,omitempty"`
	BotID      string    `json:"bot_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	SubType    string    `json:"sub_type,omitempty"`
	ReplyCount int       `json:"reply_count,omitempty"`
	PostedAt   time.Time `json:"posted_at,omitempty"`
}

// IssueOpenedPayload carries the forge webhook coordinates; the consumer
// fetches full issue detail from the forge API before ingesting.
type IssueOpenedPayload struct {
	ProjectPath string `json:"project_path"`
	Number      int64  `json:"number"`
}
