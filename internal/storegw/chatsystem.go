package storegw

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

// CreateChatSystem inserts a ChatSystem for the given events channel,
// grounded on a channel_post "/init" command.
func (g *Gateway) CreateChatSystem(ctx context.Context, eventsChannel int64) (*domain.ChatSystem, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := "INSERT INTO chat_systems (events_channel) VALUES (" + g.placeholder(1) + ") RETURNING id"
	var id int32
	if err := g.db.QueryRowContext(ctx, query, eventsChannel).Scan(&id); err != nil {
		return nil, eventerr.Wrap(eventerr.Insert, err)
	}

	return &domain.ChatSystem{ID: id, EventsChannel: eventsChannel}, nil
}

// ChatSystemByChannel looks up a ChatSystem by its events channel id.
func (g *Gateway) ChatSystemByChannel(ctx context.Context, eventsChannel int64) (*domain.ChatSystem, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return g.scanChatSystem(ctx, "events_channel = "+g.placeholder(1), eventsChannel)
}

// ChatSystemByID looks up a ChatSystem by its primary key.
func (g *Gateway) ChatSystemByID(ctx context.Context, id int32) (*domain.ChatSystem, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return g.scanChatSystem(ctx, "id = "+g.placeholder(1), id)
}

// ChatSystemByEventID resolves the owning ChatSystem for an event,
// grounded on the Rust original's GetChatSystemByEventId message,
// used by the Scheduler and Chat Gateway to find where to announce.
func (g *Gateway) ChatSystemByEventID(ctx context.Context, eventID int32) (*domain.ChatSystem, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT cs.id, cs.events_channel
	          FROM chat_systems AS cs
	          JOIN events AS e ON e.system_id = cs.id
	          WHERE e.id = ` + g.placeholder(1)

	var cs domain.ChatSystem
	err = g.db.QueryRowContext(ctx, query, eventID).Scan(&cs.ID, &cs.EventsChannel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventerr.New(eventerr.Lookup)
	}
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return &cs, nil
}

func (g *Gateway) scanChatSystem(ctx context.Context, where string, arg any) (*domain.ChatSystem, error) {
	query := "SELECT id, events_channel FROM chat_systems WHERE " + where

	var cs domain.ChatSystem
	err := g.db.QueryRowContext(ctx, query, arg).Scan(&cs.ID, &cs.EventsChannel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventerr.New(eventerr.Lookup)
	}
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return &cs, nil
}

// DeleteChatSystem removes a ChatSystem and, via foreign-key cascade,
// every chat, event and link that belongs to it.
func (g *Gateway) DeleteChatSystem(ctx context.Context, id int32) error {
	release, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := g.db.ExecContext(ctx, "DELETE FROM chat_systems WHERE id = "+g.placeholder(1), id)
	if err != nil {
		return eventerr.Wrap(eventerr.Delete, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eventerr.Wrap(eventerr.Delete, err)
	}
	if n == 0 {
		return eventerr.New(eventerr.Delete)
	}
	return nil
}
