package linkbroker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

type fakeStore struct {
	newLinks  map[int32]*domain.NewEventLink
	editLinks map[int32]*domain.EditEventLink
	events    map[int32]*domain.Event
	systems   map[int32]*domain.ChatSystem
	nextID    int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		newLinks:  map[int32]*domain.NewEventLink{},
		editLinks: map[int32]*domain.EditEventLink{},
		events:    map[int32]*domain.Event{},
		systems:   map[int32]*domain.ChatSystem{},
	}
}

func (f *fakeStore) id() int32 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateNewEventLink(ctx context.Context, userID, systemID int32, secret string) (*domain.NewEventLink, error) {
	l := &domain.NewEventLink{ID: f.id(), UserID: userID, SystemID: systemID, Secret: secret}
	f.newLinks[l.ID] = l
	return l, nil
}

func (f *fakeStore) NewEventLinkByID(ctx context.Context, id int32) (*domain.NewEventLink, error) {
	l, ok := f.newLinks[id]
	if !ok || l.Used {
		return nil, eventerr.New(eventerr.Lookup)
	}
	return l, nil
}

func (f *fakeStore) RedeemNewEventLink(ctx context.Context, linkID int32, create *domain.CreateEvent) (*domain.Event, error) {
	f.newLinks[linkID].Used = true
	e := &domain.Event{ID: f.id(), SystemID: create.SystemID, Title: create.Title, StartDate: create.StartDate, EndDate: create.EndDate}
	for _, h := range create.HostIDs {
		e.Hosts = append(e.Hosts, domain.Host{UserID: h})
	}
	f.events[e.ID] = e
	return e, nil
}

func (f *fakeStore) CreateEditEventLink(ctx context.Context, userID, systemID, eventID int32, secret string) (*domain.EditEventLink, error) {
	l := &domain.EditEventLink{ID: f.id(), UserID: userID, SystemID: systemID, EventID: eventID, Secret: secret}
	f.editLinks[l.ID] = l
	return l, nil
}

func (f *fakeStore) EditEventLinkByID(ctx context.Context, id int32) (*domain.EditEventLink, error) {
	l, ok := f.editLinks[id]
	if !ok || l.Used {
		return nil, eventerr.New(eventerr.Lookup)
	}
	return l, nil
}

func (f *fakeStore) RedeemEditEventLink(ctx context.Context, linkID int32, update *domain.UpdateEvent) (*domain.Event, error) {
	f.editLinks[linkID].Used = true
	e := f.events[update.ID]
	e.Title = update.Title
	return e, nil
}

func (f *fakeStore) EventByID(ctx context.Context, id int32) (*domain.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, eventerr.New(eventerr.MissingEvent)
	}
	return e, nil
}

func (f *fakeStore) ChatSystemByID(ctx context.Context, id int32) (*domain.ChatSystem, error) {
	cs, ok := f.systems[id]
	if !ok {
		return nil, eventerr.New(eventerr.Lookup)
	}
	return cs, nil
}

type fakeMembership struct {
	member bool
}

func (f *fakeMembership) MemberOfSystem(userID int32, eventsChannel int64) bool {
	return f.member
}

func TestIssueNewEventLink_URLShape(t *testing.T) {
	store := newFakeStore()
	store.systems[1] = &domain.ChatSystem{ID: 1, EventsChannel: 42}
	b := New(store, &fakeMembership{member: true}, "https://events.example.com")

	url, err := b.IssueNewEventLink(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://events.example.com/events/new/"))

	lastEq := strings.LastIndex(url, "=")
	require.Positive(t, lastEq)
	assert.Equal(t, "1", url[lastEq+1:])
}

func TestRedeemNewEvent_RequiresMembership(t *testing.T) {
	store := newFakeStore()
	store.systems[1] = &domain.ChatSystem{ID: 1, EventsChannel: 42}
	b := New(store, &fakeMembership{member: false}, "https://events.example.com")

	url, err := b.IssueNewEventLink(context.Background(), 7, 1)
	require.NoError(t, err)
	plaintext, id := splitURL(t, url)

	_, err = b.RedeemNewEvent(context.Background(), id, plaintext, domain.CreateEvent{Title: "x"})
	require.True(t, eventerr.Is(err, eventerr.Permissions))
}

func TestRedeemNewEvent_WrongTokenRejected(t *testing.T) {
	store := newFakeStore()
	store.systems[1] = &domain.ChatSystem{ID: 1, EventsChannel: 42}
	b := New(store, &fakeMembership{member: true}, "https://events.example.com")

	url, err := b.IssueNewEventLink(context.Background(), 7, 1)
	require.NoError(t, err)
	_, id := splitURL(t, url)

	_, err = b.RedeemNewEvent(context.Background(), id, "not-the-right-token", domain.CreateEvent{Title: "x"})
	require.True(t, eventerr.Is(err, eventerr.Permissions))
}

func TestRedeemNewEvent_Success(t *testing.T) {
	store := newFakeStore()
	store.systems[1] = &domain.ChatSystem{ID: 1, EventsChannel: 42}
	b := New(store, &fakeMembership{member: true}, "https://events.example.com")

	url, err := b.IssueNewEventLink(context.Background(), 7, 1)
	require.NoError(t, err)
	plaintext, id := splitURL(t, url)

	event, err := b.RedeemNewEvent(context.Background(), id, plaintext, domain.CreateEvent{Title: "Potluck"})
	require.NoError(t, err)
	assert.Equal(t, "Potluck", event.Title)
	assert.True(t, store.newLinks[id].Used)
	require.Len(t, event.Hosts, 1)
	assert.Equal(t, int32(7), event.Hosts[0].UserID)

	// A second redemption of the same link must fail.
	_, err = b.RedeemNewEvent(context.Background(), id, plaintext, domain.CreateEvent{Title: "Potluck"})
	require.True(t, eventerr.Is(err, eventerr.Lookup))
}

func TestRedeemEditEvent_RequiresHost(t *testing.T) {
	store := newFakeStore()
	store.events[100] = &domain.Event{ID: 100, Hosts: []domain.Host{{UserID: 9}}}
	b := New(store, &fakeMembership{member: true}, "https://events.example.com")

	// Issued to user 123, who is not among the event's hosts: the link
	// itself is the authorization token, so redemption must fail even
	// with a correct plaintext.
	url, err := b.IssueEditEventLink(context.Background(), 123, 1, 100)
	require.NoError(t, err)
	plaintext, id := splitURL(t, url)

	_, err = b.RedeemEditEvent(context.Background(), id, plaintext, domain.UpdateEvent{Title: "new title"})
	require.True(t, eventerr.Is(err, eventerr.Permissions))
}

func TestRedeemEditEvent_Success(t *testing.T) {
	store := newFakeStore()
	store.events[100] = &domain.Event{ID: 100, Hosts: []domain.Host{{UserID: 9}}}
	b := New(store, &fakeMembership{member: true}, "https://events.example.com")

	url, err := b.IssueEditEventLink(context.Background(), 9, 1, 100)
	require.NoError(t, err)
	plaintext, id := splitURL(t, url)

	event, err := b.RedeemEditEvent(context.Background(), id, plaintext, domain.UpdateEvent{Title: "updated"})
	require.NoError(t, err)
	assert.Equal(t, "updated", event.Title)
}

func TestLookupEditEvent_ReturnsEventWithoutConsumingLink(t *testing.T) {
	store := newFakeStore()
	store.events[100] = &domain.Event{ID: 100, Title: "Potluck", Hosts: []domain.Host{{UserID: 9}}}
	b := New(store, &fakeMembership{member: true}, "https://events.example.com")

	url, err := b.IssueEditEventLink(context.Background(), 9, 1, 100)
	require.NoError(t, err)
	plaintext, id := splitURL(t, url)

	event, err := b.LookupEditEvent(context.Background(), id, plaintext)
	require.NoError(t, err)
	assert.Equal(t, "Potluck", event.Title)
	assert.False(t, store.editLinks[id].Used)
}

func TestTokenAlphabet_MatchesKnownEncoding(t *testing.T) {
	assert.Equal(t, "abcdefghizklmnopqrstuvwxyz1234567890", tokenAlphabet)
}

func TestGenerateToken_HashVerifiesAgainstPlaintext(t *testing.T) {
	plaintext, hash, err := generateToken()
	require.NoError(t, err)
	assert.Len(t, plaintext, tokenBytes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)))
}

func splitURL(t *testing.T, url string) (plaintext string, id int32) {
	t.Helper()
	lastEq := strings.LastIndex(url, "=")
	require.Positive(t, lastEq)
	tail := url[strings.LastIndex(url, "/")+1:]
	tailEq := strings.LastIndex(tail, "=")
	require.Positive(t, tailEq)

	idStr := url[lastEq+1:]
	var n int32
	for _, c := range idStr {
		n = n*10 + int32(c-'0')
	}
	return tail[:tailEq], n
}
