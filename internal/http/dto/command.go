package dto

// CommandRequest is the admin action envelope posted by the chat platform's
// slash-command integration.
type CommandRequest struct {
	Action    string `json:"action" binding:"required"`
	ItemID    int64  `json:"item_id"`
	ActorChat string `json:"actor_chat_handle" binding:"required"`
	ChannelID string `json:"channel_id"`

	// Action-specific arguments.
	AssigneeChat string `json:"assignee_chat_handle,omitempty"`
	Days         int    `json:"days,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Note         string `json:"note,omitempty"`
	Project      string `json:"project,omitempty"`
	Filter       string `json:"filter,omitempty"`
}

// CommandResponse mirrors the ephemeral reply shape the chat platform
// renders back to the actor.
type CommandResponse struct {
	OK     bool   `json:"ok"`
	ItemID int64  `json:"item_id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
