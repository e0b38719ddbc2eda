// Package conversation turns free text ("send lights are on to
// general") into bridge actions. Intent parsing is deliberately dumb
// pattern matching; anything unrecognized is forwarded to the default
// room as-is.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/homechat-bridge/internal/coordinator"
	"github.com/haasonsaas/homechat-bridge/internal/homechat"
)

// voicePrefix marks relayed speech in the chat stream.
const voicePrefix = "[Voice] "

// voiceTitle is the title attached to relayed messages.
const voiceTitle = "Voice Command"

// Intent is the parsed interpretation of an input.
type Intent string

const (
	IntentSendMessage  Intent = "send_message"
	IntentStatusCheck  Intent = "status_check"
	IntentListChannels Intent = "list_channels"
	IntentForward      Intent = "forward"
)

// Result is the agent's answer to one input.
type Result struct {
	Intent Intent `json:"intent"`
	Speech string `json:"speech"`
	Sent   bool   `json:"sent"`
	RoomID string `json:"room_id,omitempty"`
}

// Agent processes free-text inputs.
type Agent struct {
	client *homechat.Client
	coord  *coordinator.Coordinator
	logger *slog.Logger
}

// NewAgent creates a conversation agent.
func NewAgent(client *homechat.Client, coord *coordinator.Coordinator, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client: client,
		coord:  coord,
		logger: logger.With("component", "conversation"),
	}
}

// Process interprets text and performs the matching action.
func (a *Agent) Process(ctx context.Context, text string) (*Result, error) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return nil, fmt.Errorf("empty input")
	}

	switch {
	case strings.HasPrefix(lowered, "send ") || strings.HasPrefix(lowered, "message "):
		message, channel := parseSendIntent(lowered)
		return a.send(ctx, IntentSendMessage, message, channel)
	case strings.Contains(lowered, "status") &&
		(strings.Contains(lowered, "homechat") || strings.Contains(lowered, "server")):
		return a.statusCheck(), nil
	case strings.Contains(lowered, "channel") &&
		(strings.Contains(lowered, "list") || strings.Contains(lowered, "show")):
		return a.listChannels(), nil
	default:
		return a.send(ctx, IntentForward, lowered, "")
	}
}

// parseSendIntent strips the verb and splits off a trailing
// "to <channel>" clause. The rightmost " to " wins, so "send back to
// basics to general" targets the general channel.
func parseSendIntent(text string) (message, channel string) {
	if after, ok := strings.CutPrefix(text, "send "); ok {
		message = after
	} else if after, ok := strings.CutPrefix(text, "message "); ok {
		message = after
	}

	if idx := strings.LastIndex(message, " to "); idx != -1 {
		channel = strings.TrimSpace(message[idx+len(" to "):])
		message = strings.TrimSpace(message[:idx])
	}
	return message, channel
}

func (a *Agent) send(ctx context.Context, intent Intent, message, channel string) (*Result, error) {
	roomID := channel
	if channel != "" && a.coord != nil {
		// Normalize to the server's channel name casing when we know it.
		if id, ok := a.coord.LookupChannelID(channel); ok {
			if name, ok := a.coord.LookupChannelName(id); ok {
				roomID = name
			}
		}
	}

	_, err := a.client.SendMessage(ctx, voicePrefix+message, roomID, "", voiceTitle)
	if err != nil {
		a.logger.Error("failed to relay voice message", "error", err)
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	speech := "Sent message to HomeChat"
	if roomID != "" {
		speech += " in " + roomID
	}
	return &Result{Intent: intent, Speech: speech, Sent: true, RoomID: roomID}, nil
}

func (a *Agent) statusCheck() *Result {
	speech := "HomeChat server status is unknown."
	if a.coord != nil {
		snap := a.coord.Snapshot()
		speech = fmt.Sprintf("HomeChat server is %s with %d channels available.",
			snap.Status, snap.ChannelCount())
	}
	return &Result{Intent: IntentStatusCheck, Speech: speech}
}

func (a *Agent) listChannels() *Result {
	speech := "No channels available."
	if a.coord != nil {
		snap := a.coord.Snapshot()
		if snap.ChannelCount() > 0 {
			names := make([]string, 0, snap.ChannelCount())
			for _, ch := range snap.Channels {
				names = append(names, ch.Name)
			}
			speech = "Available channels: " + strings.Join(names, ", ")
		}
	}
	return &Result{Intent: IntentListChannels, Speech: speech}
}
