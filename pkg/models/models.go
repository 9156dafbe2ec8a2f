package models

import (
	"strings"
	"time"
)

// Role is a plain attribute on the user document. Capability checks live in
// the authz package; the model only names the values.
type Role string

const (
	RoleNone       Role = "none"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func NormalizeRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperAdmin:
		return RoleSuperAdmin
	default:
		return RoleNone
	}
}

// RegistrationState tracks how far a user has progressed through the
// registration dialog. It lives on the user document rather than the
// session, so a finished registration survives session expiry.
type RegistrationState string

const (
	RegistrationStarted       RegistrationState = "started"
	RegistrationAwaitingName  RegistrationState = "awaiting_name"
	RegistrationAwaitingPhone RegistrationState = "awaiting_phone"
	RegistrationCompleted     RegistrationState = "completed"
)

type User struct {
	ID                string            `bson:"_id,omitempty" json:"id"`
	TelegramID        int64             `bson:"telegram_id" json:"telegram_id"`
	Username          string            `bson:"username,omitempty" json:"username,omitempty"`
	FirstName         string            `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName          string            `bson:"last_name,omitempty" json:"last_name,omitempty"`
	DisplayName       string            `bson:"display_name,omitempty" json:"display_name,omitempty"`
	Phone             string            `bson:"phone,omitempty" json:"phone,omitempty"`
	Role              Role              `bson:"role" json:"role"`
	RegistrationState RegistrationState `bson:"registration_state" json:"registration_state"`
	Blocked           bool              `bson:"blocked" json:"blocked"`
	TotalApplications int               `bson:"total_applications" json:"total_applications"`
	LastActivity      time.Time         `bson:"last_activity" json:"last_activity"`
	CreatedAt         time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at" json:"updated_at"`
}

// Registered reports whether the user finished the registration dialog and
// may therefore submit applications.
func (u User) Registered() bool {
	return u.RegistrationState == RegistrationCompleted
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
}

// Facility is a sports facility catalog entry. The engine reads facilities
// when validating an application and snapshots their fields into it.
type Facility struct {
	ID                string    `bson:"_id,omitempty" json:"id"`
	Name              string    `bson:"name" json:"name"`
	District          string    `bson:"district,omitempty" json:"district,omitempty"`
	Address           string    `bson:"address,omitempty" json:"address,omitempty"`
	Sports            []string  `bson:"sports" json:"sports"`
	Active            bool      `bson:"active" json:"active"`
	TotalApplications int       `bson:"total_applications" json:"total_applications"`
	SortOrder         int       `bson:"sort_order" json:"sort_order"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}

// CanonicalSport matches case-insensitively on the trimmed sport name and
// returns the catalog spelling, so every application stores one spelling
// per facility sport and the pending-uniqueness index can do its job.
func (f Facility) CanonicalSport(sport string) (string, bool) {
	sport = strings.TrimSpace(sport)
	for _, s := range f.Sports {
		if strings.EqualFold(s, sport) {
			return s, true
		}
	}
	return "", false
}

// OffersSport matches case-insensitively on the trimmed sport name.
func (f Facility) OffersSport(sport string) bool {
	_, ok := f.CanonicalSport(sport)
	return ok
}

type ApplicationStatus string

const (
	StatusPending     ApplicationStatus = "pending"
	StatusAccepted    ApplicationStatus = "accepted"
	StatusTransferred ApplicationStatus = "transferred"
	StatusCompleted   ApplicationStatus = "completed"
	StatusCancelled   ApplicationStatus = "cancelled"
)

// ParseStatus maps raw input to a known status; ok is false for anything else.
func ParseStatus(raw string) (ApplicationStatus, bool) {
	switch ApplicationStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusAccepted:
		return StatusAccepted, true
	case StatusTransferred:
		return StatusTransferred, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusCancelled:
		return StatusCancelled, true
	default:
		return "", false
	}
}

// Terminal reports whether the status has no outgoing transitions.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// StatusChange is one entry in an application's audit trail. Actor is the
// Telegram ID of whoever drove the transition.
type StatusChange struct {
	Status ApplicationStatus `bson:"status" json:"status"`
	Actor  int64             `bson:"actor" json:"actor"`
	At     time.Time         `bson:"at" json:"at"`
}

// Application is a user's request to be connected with a facility for a
// sport. User and facility fields are snapshotted at submit time so the
// record stays meaningful when either source document changes later.
//
// Version starts at 1 and increments on every successful transition; all
// writes go through compare-and-swap on it. Outbox holds notifications
// queued in the same document write that changed the status, to be drained
// into the broker afterwards.
type Application struct {
	ID               string            `bson:"_id,omitempty" json:"id"`
	Ref              string            `bson:"ref" json:"ref"`
	UserID           string            `bson:"user_id" json:"user_id"`
	UserTelegramID   int64             `bson:"user_telegram_id" json:"user_telegram_id"`
	UserName         string            `bson:"user_name" json:"user_name"`
	UserPhone        string            `bson:"user_phone" json:"user_phone"`
	FacilityID       string            `bson:"facility_id" json:"facility_id"`
	FacilityName     string            `bson:"facility_name" json:"facility_name"`
	FacilityDistrict string            `bson:"facility_district,omitempty" json:"facility_district,omitempty"`
	Sport            string            `bson:"sport" json:"sport"`
	Status           ApplicationStatus `bson:"status" json:"status"`
	Version          int64             `bson:"version" json:"version"`
	StatusHistory    []StatusChange    `bson:"status_history" json:"status_history"`
	Outbox           []Notification    `bson:"outbox,omitempty" json:"outbox,omitempty"`
	CreatedAt        time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `bson:"updated_at" json:"updated_at"`
}

// Notification kinds double as template identifiers on the delivery side.
const (
	NotifyApplicationCreated   = "application_created"
	NotifyApplicationStatus    = "application_status"
	NotifyApplicationCancelled = "application_cancelled"
	NotifyApplicationSubmitted = "application_submitted"
	NotifyRegistrationDone     = "registration_done"
	NotifyCooldown             = "cooldown"
	NotifyPrompt               = "prompt"
)

// Notification is a queued outbound message. The engine only guarantees the
// notification was durably queued; rendering and delivery happen in the
// worker.
type Notification struct {
	ID              string            `bson:"id" json:"id"`
	Kind            string            `bson:"kind" json:"kind"`
	RecipientChatID int64             `bson:"recipient_chat_id,omitempty" json:"recipient_chat_id,omitempty"`
	AdminBroadcast  bool              `bson:"admin_broadcast,omitempty" json:"admin_broadcast,omitempty"`
	Params          map[string]string `bson:"params,omitempty" json:"params,omitempty"`
	CreatedAt       time.Time         `bson:"created_at" json:"created_at"`
}
