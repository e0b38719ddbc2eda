package homechat

// Channel is a chat room or direct-message conversation on the server.
// Identity is the server-assigned ID; names are display values and are
// not guaranteed unique.
type Channel struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ChannelList is the response of the channels endpoint.
type ChannelList struct {
	Channels []Channel `json:"channels"`
}

// ChannelMembers is the response of the per-channel members endpoint.
type ChannelMembers struct {
	Members []Member `json:"members"`
}

// Member is a user participating in a channel.
type Member struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// ChatResponse is the server's acknowledgment of a sent message.
type ChatResponse struct {
	ID        int    `json:"id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// BotType distinguishes push-capable bots from pure API bots.
type BotType string

const (
	// BotTypeAPI is a bot that only issues outbound API calls.
	BotTypeAPI BotType = "api"

	// BotTypeWebhook is a bot the server pushes chat activity to.
	BotTypeWebhook BotType = "webhook"
)

// Bot describes a bot account on the server.
type Bot struct {
	ID          int     `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Type        BotType `json:"bot_type"`
	WebhookID   string  `json:"webhook_id,omitempty"`
}

// BotResponse is returned by bot creation. WebhookSecret is only
// populated when the server provisions a webhook bot; the caller is
// responsible for persisting it.
type BotResponse struct {
	Bot           Bot    `json:"bot"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BotStatus is the response of the per-bot status endpoint.
type BotStatus struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Online bool   `json:"online"`
}

// SearchResults is the response of the search endpoint.
type SearchResults struct {
	Query    string          `json:"query"`
	Users    []Member        `json:"users,omitempty"`
	Channels []Channel       `json:"channels,omitempty"`
	Messages []SearchMessage `json:"messages,omitempty"`
}

// SearchMessage is a single message hit in search results.
type SearchMessage struct {
	ID        int    `json:"id"`
	ChannelID int    `json:"channel_id"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// HealthInfo is the body of the health endpoint. Service and Version
// feed the status read model; only the HTTP status decides liveness.
type HealthInfo struct {
	Status  string `json:"status,omitempty"`
	Service string `json:"service,omitempty"`
	Version string `json:"version,omitempty"`
}
