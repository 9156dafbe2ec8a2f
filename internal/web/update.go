package web

import (
	"time"

	"fok-catalog/go-backend/pkg/models"
)

// Update is the platform's webhook payload, cut down to the update kinds the
// engine consumes. Everything else decodes to an empty Update and is
// acknowledged without processing so the platform does not redeliver it.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	From      *Sender  `json:"from"`
	Chat      Chat     `json:"chat"`
	Text      string   `json:"text"`
	Contact   *Contact `json:"contact"`
}

type Sender struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Contact struct {
	PhoneNumber string `json:"phone_number"`
	UserID      int64  `json:"user_id"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *Sender  `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Event flattens the update into the router's inbound form. ok is false for
// update kinds the engine ignores: bot senders, edits, channel posts, member
// events. Button presses carry their payload in Data and route exactly like
// typed text.
func (u Update) Event(now time.Time) (models.Event, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil && !u.Message.From.IsBot:
		m := u.Message
		ev := models.Event{
			UpdateID:   u.UpdateID,
			ChatID:     m.Chat.ID,
			TelegramID: m.From.ID,
			Username:   m.From.Username,
			FirstName:  m.From.FirstName,
			LastName:   m.From.LastName,
			Text:       m.Text,
			ReceivedAt: now,
		}
		if m.Contact != nil {
			ev.ContactPhone = m.Contact.PhoneNumber
		}
		return ev, true

	case u.CallbackQuery != nil && u.CallbackQuery.From != nil && !u.CallbackQuery.From.IsBot:
		cq := u.CallbackQuery
		ev := models.Event{
			UpdateID:   u.UpdateID,
			ChatID:     cq.From.ID,
			TelegramID: cq.From.ID,
			Username:   cq.From.Username,
			FirstName:  cq.From.FirstName,
			LastName:   cq.From.LastName,
			Text:       cq.Data,
			ReceivedAt: now,
		}
		if cq.Message != nil && cq.Message.Chat.ID != 0 {
			ev.ChatID = cq.Message.Chat.ID
		}
		return ev, true
	}
	return models.Event{}, false
}
