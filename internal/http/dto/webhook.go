package dto

// ChatEventEnvelope is the outer payload delivered by the chat platform's
// event subscription. Type "url_verification" carries a handshake challenge;
// "event_callback" wraps the inner event.
type ChatEventEnvelope struct {
	Type      string       `json:"type"`
	Challenge string       `json:"challenge,omitempty"`
	Event     ChatRawEvent `json:"event"`
}

type ChatRawEvent struct {
	Type      string `json:"type"`
	SubType   string `json:"subtype,omitempty"`
	Channel   string `json:"channel"`
	User      string `json:"user,omitempty"`
	BotID     string `json:"bot_id,omitempty"`
	Text      string `json:"text,omitempty"`
	TS        string `json:"ts"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	DeletedTS string `json:"deleted_ts,omitempty"`
}

// ForgeWebhookPayload is the subset of the forge's issue/merge-request hook
// the ingest pipeline cares about; everything else is refetched through the
// forge API for enrichment.
type ForgeWebhookPayload struct {
	ObjectKind       string `json:"object_kind"`
	Project          struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	ObjectAttributes struct {
		IID    int64  `json:"iid"`
		Action string `json:"action"`
	} `json:"object_attributes"`
}
