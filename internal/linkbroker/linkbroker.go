// Package linkbroker implements the Link Broker: issuing and
// redeeming the one-time, possession-based links that let a host
// create or edit an event through the web form. Grounded on the
// original bot's new_event_link/edit_event_link models and the
// callback-query handlers that issue them.
package linkbroker

import (
	"context"
	"crypto/rand"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

// tokenAlphabet is the original bot's actual encoding alphabet,
// reproduced verbatim — note the non-alphabetical 'z' placed right
// after 'i', not a typo to silently fix.
const tokenAlphabet = "abcdefghizklmnopqrstuvwxyz1234567890"

const tokenBytes = 8

// Store is the subset of the Store Gateway the Link Broker needs.
type Store interface {
	CreateNewEventLink(ctx context.Context, userID, systemID int32, secret string) (*domain.NewEventLink, error)
	NewEventLinkByID(ctx context.Context, id int32) (*domain.NewEventLink, error)
	RedeemNewEventLink(ctx context.Context, linkID int32, create *domain.CreateEvent) (*domain.Event, error)

	CreateEditEventLink(ctx context.Context, userID, systemID, eventID int32, secret string) (*domain.EditEventLink, error)
	EditEventLinkByID(ctx context.Context, id int32) (*domain.EditEventLink, error)
	RedeemEditEventLink(ctx context.Context, linkID int32, update *domain.UpdateEvent) (*domain.Event, error)

	EventByID(ctx context.Context, id int32) (*domain.Event, error)
	ChatSystemByID(ctx context.Context, id int32) (*domain.ChatSystem, error)
}

// ChatMembership answers whether a user currently belongs to a chat
// linked to a system — the "authorization beyond possession" check
// for new-event redemption. Backed by the User Index.
type ChatMembership interface {
	MemberOfSystem(userID int32, eventsChannel int64) bool
}

// Broker is the Link Broker.
type Broker struct {
	store      Store
	membership ChatMembership
	baseURL    string
}

func New(store Store, membership ChatMembership, baseURL string) *Broker {
	return &Broker{store: store, membership: membership, baseURL: baseURL}
}

// generateToken returns a plaintext token and its bcrypt hash.
func generateToken() (plaintext string, hash string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}

	encoded := make([]byte, len(raw))
	for i, b := range raw {
		encoded[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	plaintext = string(encoded)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return plaintext, string(hashed), nil
}

// IssueNewEventLink generates a link letting userID create an event
// for systemID, and returns the URL to send them.
func (b *Broker) IssueNewEventLink(ctx context.Context, userID, systemID int32) (string, error) {
	plaintext, hash, err := generateToken()
	if err != nil {
		return "", eventerr.Wrap(eventerr.Telegram, err)
	}

	link, err := b.store.CreateNewEventLink(ctx, userID, systemID, hash)
	if err != nil {
		return "", err
	}

	return b.url("new", plaintext, link.ID), nil
}

// IssueEditEventLink generates a link letting userID edit eventID.
func (b *Broker) IssueEditEventLink(ctx context.Context, userID, systemID, eventID int32) (string, error) {
	plaintext, hash, err := generateToken()
	if err != nil {
		return "", eventerr.Wrap(eventerr.Telegram, err)
	}

	link, err := b.store.CreateEditEventLink(ctx, userID, systemID, eventID, hash)
	if err != nil {
		return "", err
	}

	return b.url("edit", plaintext, link.ID), nil
}

func (b *Broker) url(kind, plaintext string, id int32) string {
	return b.baseURL + "/events/" + kind + "/" + plaintext + "=" + strconv.Itoa(int(id))
}

// LookupEditEvent verifies the token and returns the event it targets,
// for the GET form to pre-fill its fields. It does not mark the link
// used — only a successful POST does that.
func (b *Broker) LookupEditEvent(ctx context.Context, linkID int32, plaintext string) (*domain.Event, error) {
	link, err := b.store.EditEventLinkByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(link.Secret), []byte(plaintext)); err != nil {
		return nil, eventerr.New(eventerr.Permissions)
	}
	return b.store.EventByID(ctx, link.EventID)
}

// RedeemNewEvent verifies the token, checks the link's issuing user is
// currently a member of one of the target system's chats, and on
// success creates the event with that user as the default host.
// Link-used and event-create happen inside one store transaction (see
// storegw.RedeemNewEventLink); there is no window where the link is
// consumed without the event existing. The HTTP form never carries its
// own notion of identity — possession of the token stands in for it,
// exactly as the link was only ever handed to the user who requested
// it over Telegram.
func (b *Broker) RedeemNewEvent(ctx context.Context, linkID int32, plaintext string, create domain.CreateEvent) (*domain.Event, error) {
	link, err := b.store.NewEventLinkByID(ctx, linkID)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(link.Secret), []byte(plaintext)); err != nil {
		return nil, eventerr.New(eventerr.Permissions)
	}

	cs, err := b.store.ChatSystemByID(ctx, link.SystemID)
	if err != nil {
		return nil, err
	}
	if !b.membership.MemberOfSystem(link.UserID, cs.EventsChannel) {
		return nil, eventerr.New(eventerr.Permissions)
	}

	create.SystemID = link.SystemID
	if len(create.HostIDs) == 0 {
		create.HostIDs = []int32{link.UserID}
	}

	event, err := b.store.RedeemNewEventLink(ctx, linkID, &create)
	if eventerr.Is(err, eventerr.Hosts) {
		return event, nil
	}
	return event, err
}

// RedeemEditEvent verifies the token, checks the link's issuing user
// is still among the target event's hosts, and on success applies the
// update.
func (b *Broker) RedeemEditEvent(ctx context.Context, linkID int32, plaintext string, update domain.UpdateEvent) (*domain.Event, error) {
	link, err := b.store.EditEventLinkByID(ctx, linkID)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(link.Secret), []byte(plaintext)); err != nil {
		return nil, eventerr.New(eventerr.Permissions)
	}

	event, err := b.store.EventByID(ctx, link.EventID)
	if err != nil {
		return nil, err
	}
	if !isHost(event.Hosts, link.UserID) {
		return nil, eventerr.New(eventerr.Permissions)
	}

	update.ID = link.EventID
	return b.store.RedeemEditEventLink(ctx, linkID, &update)
}

func isHost(hosts []domain.Host, userID int32) bool {
	for _, h := range hosts {
		if h.UserID == userID {
			return true
		}
	}
	return false
}

