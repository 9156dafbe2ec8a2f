package models

import (
	"time"
)

// Conversation flows. A session is always inside exactly one flow; an empty
// flow means the user is idle and plain text is not expected.
const (
	FlowRegistration = "registration"
	FlowApplication  = "submit_application"
)

// Steps within flows. Registration steps mirror the user's registration
// state; application steps are session-only.
const (
	StepAwaitingName     = "awaiting_name"
	StepAwaitingPhone    = "awaiting_phone"
	StepChoosingFacility = "choosing_facility"
	StepChoosingSport    = "choosing_sport"
)

// ConversationSession is the short-lived dialog state for one user. It
// lives in Redis with a sliding TTL; losing it resets the dialog but never
// loses durable facts, which are only ever written to the user document.
type ConversationSession struct {
	TelegramID int64             `json:"telegram_id"`
	Flow       string            `json:"flow"`
	Step       string            `json:"step"`
	Scratch    map[string]string `json:"scratch,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Put sets a scratch value, allocating the map on first use.
func (s *ConversationSession) Put(key, value string) {
	if s.Scratch == nil {
		s.Scratch = make(map[string]string, 4)
	}
	s.Scratch[key] = value
}

func (s *ConversationSession) Get(key string) string {
	return s.Scratch[key]
}

// Reset clears the flow, step and scratch data in place.
func (s *ConversationSession) Reset() {
	s.Flow = ""
	s.Step = ""
	s.Scratch = nil
}
