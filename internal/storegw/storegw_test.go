package storegw

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	gw := Open(db, DialectSQLite, 4)
	require.NoError(t, gw.Migrate(context.Background()))
	return gw
}

func TestMigrate_Idempotent(t *testing.T) {
	gw := newTestGateway(t)
	require.NoError(t, gw.Migrate(context.Background()))
}

func TestChatSystemCRUD(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	cs, err := gw.CreateChatSystem(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, int64(1001), cs.EventsChannel)

	found, err := gw.ChatSystemByChannel(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, cs.ID, found.ID)

	_, err = gw.ChatSystemByChannel(ctx, 9999)
	require.True(t, eventerr.Is(err, eventerr.Lookup))

	require.NoError(t, gw.DeleteChatSystem(ctx, cs.ID))
	_, err = gw.ChatSystemByID(ctx, cs.ID)
	require.True(t, eventerr.Is(err, eventerr.Lookup))
}

func TestCreateEvent_ZeroHostsIsPermissible(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	cs, err := gw.CreateChatSystem(ctx, 2002)
	require.NoError(t, err)

	start := time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	event, err := gw.CreateEvent(ctx, &domain.CreateEvent{
		SystemID: cs.ID, Title: "Board Games", Description: "bring dice",
		StartDate: start, EndDate: end, Timezone: "US/Central",
	})
	require.True(t, eventerr.Is(err, eventerr.Hosts), "zero hosts is reported but not fatal")
	require.NotNil(t, event)
	require.Empty(t, event.Hosts)

	fetched, err := gw.EventByID(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, "Board Games", fetched.Title)
}

func TestCreateEvent_CondensesHosts(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	cs, err := gw.CreateChatSystem(ctx, 3003)
	require.NoError(t, err)

	alice, err := gw.TouchUser(ctx, 1, "alice")
	require.NoError(t, err)
	bob, err := gw.TouchUser(ctx, 2, "bob")
	require.NoError(t, err)

	start := time.Now().Add(time.Hour)
	event, err := gw.CreateEvent(ctx, &domain.CreateEvent{
		SystemID: cs.ID, Title: "Potluck", Description: "",
		StartDate: start, EndDate: start.Add(time.Hour), Timezone: "US/Eastern",
		HostIDs: []int32{alice.ID, bob.ID},
	})
	require.NoError(t, err)
	require.Len(t, event.Hosts, 2)

	fetched, err := gw.EventByID(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Hosts, 2)
}

func TestRedeemNewEventLink_MarksUsedAndCreatesAtomically(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	cs, err := gw.CreateChatSystem(ctx, 4004)
	require.NoError(t, err)
	user, err := gw.TouchUser(ctx, 10, "host")
	require.NoError(t, err)

	link, err := gw.CreateNewEventLink(ctx, user.ID, cs.ID, "bcrypt-hash")
	require.NoError(t, err)

	start := time.Now().Add(time.Hour)
	_, err = gw.RedeemNewEventLink(ctx, link.ID, &domain.CreateEvent{
		SystemID: cs.ID, Title: "Movie Night", Description: "",
		StartDate: start, EndDate: start.Add(time.Hour), Timezone: "US/Pacific",
		HostIDs: []int32{user.ID},
	})
	require.NoError(t, err)

	// The link is used now and cannot be redeemed again.
	_, err = gw.NewEventLinkByID(ctx, link.ID)
	require.True(t, eventerr.Is(err, eventerr.Lookup))
}

func TestUserRelations_WarmStartAndRemoval(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	cs, err := gw.CreateChatSystem(ctx, 5005)
	require.NoError(t, err)
	chat, err := gw.CreateChat(ctx, cs.ID, 555)
	require.NoError(t, err)
	user, err := gw.TouchUser(ctx, 20, "member")
	require.NoError(t, err)

	require.NoError(t, gw.NewRelation(ctx, user.ID, chat.ID))

	relations, err := gw.AllUserRelations(ctx)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	require.Equal(t, int64(5005), relations[0].EventsChannel)

	remaining, err := gw.RemoveRelation(ctx, user.ID, chat.ID)
	require.NoError(t, err)
	require.Zero(t, remaining)
}
