package storegw

import (
	"context"
	"database/sql"
	"errors"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

// CreateChat links a Telegram group chat to a ChatSystem, grounded on
// the /link command's admin-overlap admission.
func (g *Gateway) CreateChat(ctx context.Context, systemID int32, chatID int64) (*domain.Chat, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := "INSERT INTO chats (chat_id, system_id) VALUES (" + g.placeholder(1) + ", " + g.placeholder(2) + ") RETURNING id"
	var id int32
	if err := g.db.QueryRowContext(ctx, query, chatID, systemID).Scan(&id); err != nil {
		return nil, eventerr.Wrap(eventerr.Insert, err)
	}

	return &domain.Chat{ID: id, SystemID: systemID, ChatID: chatID}, nil
}

// ChatsBySystemID lists every chat linked to a ChatSystem.
func (g *Gateway) ChatsBySystemID(ctx context.Context, systemID int32) ([]domain.Chat, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := g.db.QueryContext(ctx, "SELECT id, chat_id, system_id FROM chats WHERE system_id = "+g.placeholder(1), systemID)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.ChatID, &c.SystemID); err != nil {
			return nil, eventerr.Wrap(eventerr.Lookup, err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return chats, nil
}

// ChatByChatID looks up a linked chat by its Telegram chat id.
func (g *Gateway) ChatByChatID(ctx context.Context, chatID int64) (*domain.Chat, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var c domain.Chat
	err = g.db.QueryRowContext(ctx, "SELECT id, chat_id, system_id FROM chats WHERE chat_id = "+g.placeholder(1), chatID).
		Scan(&c.ID, &c.ChatID, &c.SystemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventerr.New(eventerr.Lookup)
	}
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return &c, nil
}

// DeleteChat removes a chat's link to its system (used when the bot is
// removed from a group, or the group stops existing).
func (g *Gateway) DeleteChat(ctx context.Context, chatID int64) error {
	release, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := g.db.ExecContext(ctx, "DELETE FROM chats WHERE chat_id = "+g.placeholder(1), chatID)
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
