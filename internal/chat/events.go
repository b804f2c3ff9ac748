package chat

import "time"

// Event is the normalized inbound chat event. It is a closed sum: the
// ingestion engine switches over the concrete variants instead of probing
// optional fields on one loose payload shape.
type Event interface {
	isEvent()
}

// RootMessage is a message starting (or seeding) a thread.
type RootMessage struct {
	ChannelID  string
	TS         string
	AuthorID   string // chat handle of the author
	BotID      string // set when posted by a bot integration
	Text       string
	ReplyCount int
	PostedAt   time.Time
}

// ReplyMessage is a message inside an existing thread.
type ReplyMessage struct {
	ChannelID string
	ThreadTS  string // root timestamp of the thread replied to
	TS        string
	AuthorID  string
	BotID     string
	Text      string
	PostedAt  time.Time
}

// Deletion is an upstream message-deleted notice for a thread root.
type Deletion struct {
	ChannelID string
	ThreadTS  string
}

// SystemNotice covers control subtypes (joins, topic changes, pins) that are
// never triaged.
type SystemNotice struct {
	ChannelID string
	SubType   string
}

func (RootMessage) isEvent()  {}
func (ReplyMessage) isEvent() {}
func (Deletion) isEvent()     {}
func (SystemNotice) isEvent() {}

// Message is one message within a fetched thread.
type Message struct {
	ChannelID  string
	TS         string
	AuthorID   string
	BotID      string
	Text       string
	ReplyCount int
	PostedAt   time.Time
}

// Thread is the thread context fetched from the origin channel: the root
// message plus its replies and the channel's latest-reply marker.
type Thread struct {
	Root        Message
	Replies     []Message
	LatestReply *time.Time
}
