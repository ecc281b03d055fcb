package storegw

import (
	"context"
	"database/sql"
	"errors"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

// TouchUser inserts a user row if one doesn't already exist for
// telegramID, updating its username either way, mirroring the original
// TouchUser message (new members are seen far more often than they are
// first-seen, so this is an upsert, not a plain insert).
func (g *Gateway) TouchUser(ctx context.Context, telegramID int64, username string) (*domain.User, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var query string
	if g.dialect == DialectSQLite {
		query = `INSERT INTO users (user_id, username) VALUES (?, ?)
		         ON CONFLICT(user_id) DO UPDATE SET username = excluded.username
		         RETURNING id`
	} else {
		query = `INSERT INTO users (user_id, username) VALUES ($1, $2)
		         ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username
		         RETURNING id`
	}

	var id int32
	if err := g.db.QueryRowContext(ctx, query, telegramID, username).Scan(&id); err != nil {
		return nil, eventerr.Wrap(eventerr.Insert, err)
	}
	return &domain.User{ID: id, TelegramID: telegramID, Username: username}, nil
}

// UserByTelegramID looks up a User by their Telegram user id.
func (g *Gateway) UserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var u domain.User
	err = g.db.QueryRowContext(ctx, "SELECT id, user_id, username FROM users WHERE user_id = "+g.placeholder(1), telegramID).
		Scan(&u.ID, &u.TelegramID, &u.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventerr.New(eventerr.Lookup)
	}
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return &u, nil
}

// DeleteUserByID removes a user row entirely. Callers are expected to
// call this only once the User Index confirms the user has no
// remaining chat relations, matching the zero-relation-user-deletion
// invariant.
func (g *Gateway) DeleteUserByID(ctx context.Context, userID int32) error {
	release, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := g.db.ExecContext(ctx, "DELETE FROM users WHERE id = "+g.placeholder(1), userID)
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

// NewRelation records that a user belongs to a chat.
func (g *Gateway) NewRelation(ctx context.Context, userID, chatID int32) error {
	release, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	query := "INSERT INTO user_chats (users_id, chats_id) VALUES (" + g.placeholder(1) + ", " + g.placeholder(2) + ") ON CONFLICT DO NOTHING"
	if _, err := g.db.ExecContext(ctx, query, userID, chatID); err != nil {
		return eventerr.Wrap(eventerr.Insert, err)
	}
	return nil
}

// RemoveRelation deletes a user-chat relation. Returns the number of
// relations the user still has afterward, so the caller can decide
// whether to also DeleteUserByID.
func (g *Gateway) RemoveRelation(ctx context.Context, userID, chatID int32) (remaining int, err error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	if _, err := g.db.ExecContext(ctx,
		"DELETE FROM user_chats WHERE users_id = "+g.placeholder(1)+" AND chats_id = "+g.placeholder(2),
		userID, chatID); err != nil {
		return 0, eventerr.Wrap(eventerr.Delete, err)
	}

	row := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_chats WHERE users_id = "+g.placeholder(1), userID)
	if err := row.Scan(&remaining); err != nil {
		return 0, eventerr.Wrap(eventerr.Lookup, err)
	}
	return remaining, nil
}

// UserRelation is one (user, chat, events_channel) triple used to warm
// up the in-memory User Index at startup.
type UserRelation struct {
	UserID        int32
	TelegramID    int64
	ChatID        int32
	SystemID      int32
	EventsChannel int64
}

// AllUserRelations returns every user-chat relation in the store,
// joined out to the owning channel, for User Index warm-start.
func (g *Gateway) AllUserRelations(ctx context.Context) ([]UserRelation, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT u.id, u.user_id, c.id, c.system_id, cs.events_channel
	          FROM user_chats AS uc
	          JOIN users AS u ON u.id = uc.users_id
	          JOIN chats AS c ON c.id = uc.chats_id
	          JOIN chat_systems AS cs ON cs.id = c.system_id`

	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	defer rows.Close()

	var out []UserRelation
	for rows.Next() {
		var r UserRelation
		if err := rows.Scan(&r.UserID, &r.TelegramID, &r.ChatID, &r.SystemID, &r.EventsChannel); err != nil {
			return nil, eventerr.Wrap(eventerr.Lookup, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return out, nil
}
