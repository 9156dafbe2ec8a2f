package models

import (
	"strconv"
	"strings"
	"time"
)

// Event is one inbound platform update, already reduced to the fields the
// engine cares about. The webhook layer builds it from the raw payload so
// nothing downstream has to know the wire format. Callback-button presses
// arrive with their data in Text, so commands route the same way whether
// typed or tapped.
type Event struct {
	UpdateID     int64     `json:"update_id"`
	ChatID       int64     `json:"chat_id"`
	TelegramID   int64     `json:"telegram_id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Text         string    `json:"text"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// HasContact reports whether the event carries a shared contact payload.
func (e Event) HasContact() bool {
	return strings.TrimSpace(e.ContactPhone) != ""
}

// Command returns the leading slash command of the event text, lowercased
// and with any @botname suffix stripped, or "" when the text is not a
// command. The remainder after the command is returned as args.
func (e Event) Command() (cmd, args string) {
	text := strings.TrimSpace(e.Text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, args, _ = strings.Cut(text, " ")
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

// SenderName composes a display name from the event's profile fields,
// falling back to the username and finally the numeric ID.
func (e Event) SenderName() string {
	name := strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName))
	if name != "" {
		return name
	}
	if u := strings.TrimSpace(e.Username); u != "" {
		return u
	}
	return "id" + strconv.FormatInt(e.TelegramID, 10)
}
