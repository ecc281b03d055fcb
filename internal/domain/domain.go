// Package domain holds the plain entity types shared by every
// component: the Store Gateway returns them, the Scheduler and Chat
// Gateway operate on them, the HTTP form parses into them. None of
// them carry behavior beyond simple accessors-by-field; SQL, actor
// wiring and formatting all live in their own packages.
package domain

import "time"

// ChatSystem groups one Telegram channel (the "events channel", where
// announcements are posted) with the group chats linked to it via
// /link. Hosting an event means having a relation, through one of
// those chats, to this system.
type ChatSystem struct {
	ID            int32
	EventsChannel int64 // Telegram channel id
}

// Chat is one group chat linked to a ChatSystem.
type Chat struct {
	ID       int32
	SystemID int32
	ChatID   int64 // Telegram chat id
}

// User is a person known to the bot, identified by their Telegram user id.
type User struct {
	ID         int32
	TelegramID int64
	Username   string
}

// Host associates a User with an Event as one of its hosts.
type Host struct {
	ID       int32
	EventID  int32
	UserID   int32
	Username string
}

// Event is a single scheduled event, owned by a ChatSystem. StartDate
// and EndDate are always stored and compared in UTC; Timezone records
// the zone name the host originally entered it in, for display only.
type Event struct {
	ID          int32
	SystemID    int32
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	Timezone    string
	Hosts       []Host
}

// CreateEvent is the set of fields needed to insert a new Event. Hosts
// is allowed to be empty: see eventerr.Hosts.
type CreateEvent struct {
	SystemID    int32
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	Timezone    string
	HostIDs     []int32
}

// UpdateEvent carries the new field values for an edit. All fields are
// required; the form always submits a complete replacement, matching
// the original event bot's edit semantics (no partial-field PATCH).
type UpdateEvent struct {
	ID          int32
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	Timezone    string
}

// NewEventLink is a one-time, possession-based credential that lets
// whoever holds the (id, secret) pair create exactly one event for a
// ChatSystem, provided they are also a member of one of its chats at
// redemption time.
type NewEventLink struct {
	ID       int32
	UserID   int32
	SystemID int32
	Secret   string // bcrypt hash, never the plaintext
	Used     bool
}

// EditEventLink is the edit-flow analogue of NewEventLink, scoped to
// one specific Event rather than a whole ChatSystem.
type EditEventLink struct {
	ID       int32
	UserID   int32
	SystemID int32
	EventID  int32
	Secret   string
	Used     bool
}
