// Package userindex implements the User Index: an in-memory map of
// which chats a user belongs to and which chats feed each events
// channel, warmed from the store at startup and kept current by Chat
// Ingress as membership changes arrive. Grounded on the original bot's
// UsersActor (TouchUser/TouchChannel/LookupChannels/RemoveRelation).
package userindex

import (
	"context"

	"github.com/asonix/eventbot/internal/domain"
)

// Store is the subset of the Store Gateway the User Index needs to
// warm up and to persist the relations it tracks.
type Store interface {
	TouchUser(ctx context.Context, telegramID int64, username string) (*domain.User, error)
	NewRelation(ctx context.Context, userID, chatID int32) error
	RemoveRelation(ctx context.Context, userID, chatID int32) (remaining int, err error)
	DeleteUserByID(ctx context.Context, userID int32) error
}

// Relation is one warm-start row: a user belonging to a chat, which
// itself belongs to a system whose announcements post to eventsChannel.
type Relation struct {
	UserID        int32
	TelegramID    int64
	ChatID        int32
	SystemID      int32
	EventsChannel int64
}

// Index is the actor. Like the Scheduler, it runs its own goroutine
// with a private mailbox so its maps are never touched concurrently.
type Index struct {
	store Store

	userChats    map[int32]map[int32]struct{} // userID -> set of chatID
	channelUsers map[int64]map[int32]struct{} // eventsChannel -> set of userID
	userTelegram map[int32]int64              // userID -> telegram user id

	reqCh chan func()
}

func New(store Store) *Index {
	return &Index{
		store:        store,
		userChats:    make(map[int32]map[int32]struct{}),
		channelUsers: make(map[int64]map[int32]struct{}),
		userTelegram: make(map[int32]int64),
		reqCh:        make(chan func()),
	}
}

// WarmStart populates the index from a snapshot of every persisted
// user-chat relation, normally read once at process startup.
func (idx *Index) WarmStart(relations []Relation) {
	for _, r := range relations {
		idx.addLocked(r.UserID, r.TelegramID, r.ChatID, r.EventsChannel)
	}
}

// Run is the mailbox loop; it returns when ctx is canceled.
func (idx *Index) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-idx.reqCh:
			op()
		}
	}
}

func (idx *Index) send(ctx context.Context, op func()) {
	done := make(chan struct{})
	wrapped := func() { op(); close(done) }
	select {
	case idx.reqCh <- wrapped:
		select {
		case <-done:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}

func (idx *Index) addLocked(userID int32, telegramID int64, chatID int32, eventsChannel int64) {
	if idx.userChats[userID] == nil {
		idx.userChats[userID] = make(map[int32]struct{})
	}
	idx.userChats[userID][chatID] = struct{}{}

	if idx.channelUsers[eventsChannel] == nil {
		idx.channelUsers[eventsChannel] = make(map[int32]struct{})
	}
	idx.channelUsers[eventsChannel][userID] = struct{}{}

	idx.userTelegram[userID] = telegramID
}

// Touch ensures userID/telegramID is known to the store, then records
// membership in chatID (whose owning system announces on
// eventsChannel), both in the store and in memory.
func (idx *Index) Touch(ctx context.Context, telegramID int64, username string, chatID int32, eventsChannel int64) error {
	user, err := idx.store.TouchUser(ctx, telegramID, username)
	if err != nil {
		return err
	}
	if err := idx.store.NewRelation(ctx, user.ID, chatID); err != nil {
		return err
	}

	idx.send(ctx, func() { idx.addLocked(user.ID, telegramID, chatID, eventsChannel) })
	return nil
}

// Remove drops a user's membership in chatID. If the user has no
// remaining chat relations anywhere, their row is deleted from the
// store entirely, matching the zero-relation-user-deletion invariant.
func (idx *Index) Remove(ctx context.Context, userID int32, chatID int32, eventsChannel int64) error {
	remaining, err := idx.store.RemoveRelation(ctx, userID, chatID)
	if err != nil {
		return err
	}

	idx.send(ctx, func() {
		if set := idx.userChats[userID]; set != nil {
			delete(set, chatID)
			if len(set) == 0 {
				delete(idx.userChats, userID)
			}
		}
		if set := idx.channelUsers[eventsChannel]; set != nil {
			delete(set, userID)
		}
	})

	if remaining == 0 {
		if err := idx.store.DeleteUserByID(ctx, userID); err != nil {
			return err
		}
		idx.send(ctx, func() { delete(idx.userTelegram, userID) })
	}
	return nil
}

// MemberOfSystem reports whether userID currently belongs to any chat
// feeding eventsChannel — the new-event-link authorization check.
func (idx *Index) MemberOfSystem(userID int32, eventsChannel int64) bool {
	result := make(chan bool, 1)
	ctx := context.Background()
	idx.send(ctx, func() {
		_, ok := idx.channelUsers[eventsChannel][userID]
		result <- ok
	})
	return <-result
}

// LookupChats returns every chat userID currently belongs to, used by
// the /id and /events commands to scope an answer to the asker.
func (idx *Index) LookupChats(ctx context.Context, userID int32) []int32 {
	result := make(chan []int32, 1)
	idx.send(ctx, func() {
		chats := idx.userChats[userID]
		out := make([]int32, 0, len(chats))
		for chatID := range chats {
			out = append(out, chatID)
		}
		result <- out
	})
	return <-result
}
