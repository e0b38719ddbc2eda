package dispatch

import (
	"fmt"
	"time"
)

// notification carries the decoded send_notification payload.
type notification struct {
	Message          string `json:"message"`
	Title            string `json:"title"`
	Priority         string `json:"priority"`
	Type             string `json:"type"`
	DeviceName       string `json:"device_name"`
	RoomID           string `json:"room_id"`
	IncludeTimestamp *bool  `json:"include_timestamp"`
}

// formatNotification renders a notification into chat markdown. The
// exact marker strings are part of the notify contract; automations
// and users recognize them.
func formatNotification(n notification, now time.Time) string {
	msg := n.Message

	switch n.Priority {
	case "urgent":
		msg = "🚨 **URGENT** 🚨\n" + msg
	case "high":
		msg = "⚠️ **HIGH PRIORITY**\n" + msg
	case "low":
		msg = "ℹ️ " + msg
	}

	messageType := n.Type
	if messageType == "" {
		messageType = "notification"
	}

	if n.Title != "" && messageType == "notification" {
		msg = fmt.Sprintf("🏠 **%s**\n%s", n.Title, msg)
	}

	switch messageType {
	case "alert":
		msg = "🔔 **ALERT**\n" + msg
	case "automation":
		msg = "🤖 **Automation**\n" + msg
	case "device":
		device := n.DeviceName
		if device == "" {
			device = "Unknown Device"
		}
		msg = fmt.Sprintf("📱 **%s**\n%s", device, msg)
	case "security":
		msg = "🔒 **Security**\n" + msg
	}

	if n.IncludeTimestamp == nil || *n.IncludeTimestamp {
		msg = fmt.Sprintf("%s\n\n_Sent at %s_", msg, now.Format("15:04:05"))
	}
	return msg
}
