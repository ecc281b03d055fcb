package storegw

import (
	"context"
	"database/sql"
	"errors"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

// CreateNewEventLink persists a new-event link. secret is already the
// bcrypt hash; hashing happens in internal/linkbroker, never here.
func (g *Gateway) CreateNewEventLink(ctx context.Context, userID, systemID int32, secret string) (*domain.NewEventLink, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `INSERT INTO new_event_links (users_id, system_id, secret) VALUES (` + g.placeholders(3) + `) RETURNING id`
	var id int32
	if err := g.db.QueryRowContext(ctx, query, userID, systemID, secret).Scan(&id); err != nil {
		return nil, eventerr.Wrap(eventerr.Insert, err)
	}

	return &domain.NewEventLink{ID: id, UserID: userID, SystemID: systemID, Secret: secret}, nil
}

// NewEventLinkByID loads an unused new-event link. A used link, or no
// link at all, both look like eventerr.Lookup to the caller: which one
// it was carries no information a legitimate redeemer needs.
func (g *Gateway) NewEventLinkByID(ctx context.Context, id int32) (*domain.NewEventLink, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT id, users_id, system_id, secret, used FROM new_event_links
	          WHERE id = ` + g.placeholder(1) + ` AND used = ` + g.falseLiteral()

	var l domain.NewEventLink
	err = g.db.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.UserID, &l.SystemID, &l.Secret, &l.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventerr.New(eventerr.Lookup)
	}
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return &l, nil
}

// MarkNewEventLinkUsed flips a new-event link's used flag. Named for
// what it does (the original's same-purpose method is misleadingly
// named "delete").
func (g *Gateway) MarkNewEventLinkUsed(ctx context.Context, tx *sql.Tx, id int32) error {
	query := "UPDATE new_event_links SET used = " + g.trueLiteral() + " WHERE id = " + g.placeholder(1)
	res, err := tx.ExecContext(ctx, query, id)
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

// CreateEditEventLink persists an edit-event link.
func (g *Gateway) CreateEditEventLink(ctx context.Context, userID, systemID, eventID int32, secret string) (*domain.EditEventLink, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `INSERT INTO edit_event_links (users_id, system_id, events_id, secret) VALUES (` + g.placeholders(4) + `) RETURNING id`
	var id int32
	if err := g.db.QueryRowContext(ctx, query, userID, systemID, eventID, secret).Scan(&id); err != nil {
		return nil, eventerr.Wrap(eventerr.Insert, err)
	}

	return &domain.EditEventLink{ID: id, UserID: userID, SystemID: systemID, EventID: eventID, Secret: secret}, nil
}

// EditEventLinkByID loads an unused edit-event link.
func (g *Gateway) EditEventLinkByID(ctx context.Context, id int32) (*domain.EditEventLink, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT id, users_id, system_id, events_id, secret, used FROM edit_event_links
	          WHERE id = ` + g.placeholder(1) + ` AND used = ` + g.falseLiteral()

	var l domain.EditEventLink
	err = g.db.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.UserID, &l.SystemID, &l.EventID, &l.Secret, &l.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventerr.New(eventerr.Lookup)
	}
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	return &l, nil
}

// MarkEditEventLinkUsed flips an edit-event link's used flag.
func (g *Gateway) MarkEditEventLinkUsed(ctx context.Context, tx *sql.Tx, id int32) error {
	query := "UPDATE edit_event_links SET used = " + g.trueLiteral() + " WHERE id = " + g.placeholder(1)
	res, err := tx.ExecContext(ctx, query, id)
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

// RedeemNewEventLink marks link used and creates the event in a single
// transaction: either both happen, or neither does, so a link can
// never be consumed without the event it promised actually existing.
// Authorization (is the redeemer currently a member of one of the
// system's chats) is checked by the caller (internal/linkbroker)
// before this is invoked.
func (g *Gateway) RedeemNewEventLink(ctx context.Context, linkID int32, create *domain.CreateEvent) (*domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Transaction, err)
	}

	if err := g.MarkNewEventLinkUsed(ctx, tx, linkID); err != nil {
		return nil, rollbackAndReturn(tx, err)
	}

	event, hostsErr, err := g.createEventTx(ctx, tx, create)
	if err != nil {
		return nil, rollbackAndReturn(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, eventerr.Wrap(eventerr.Commit, err)
	}

	if hostsErr != nil {
		return event, hostsErr
	}
	return event, nil
}

// RedeemEditEventLink marks link used and applies the update in a
// single transaction, same atomicity reasoning as RedeemNewEventLink.
func (g *Gateway) RedeemEditEventLink(ctx context.Context, linkID int32, update *domain.UpdateEvent) (*domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Transaction, err)
	}

	if err := g.MarkEditEventLinkUsed(ctx, tx, linkID); err != nil {
		return nil, rollbackAndReturn(tx, err)
	}

	query := `UPDATE events SET title = ` + g.placeholder(1) + `, description = ` + g.placeholder(2) +
		`, start_date = ` + g.placeholder(3) + `, end_date = ` + g.placeholder(4) +
		`, timezone = ` + g.placeholder(5) + ` WHERE id = ` + g.placeholder(6)

	res, err := tx.ExecContext(ctx, query, update.Title, update.Description, update.StartDate.UTC(), update.EndDate.UTC(), update.Timezone, update.ID)
	if err != nil {
		return nil, rollbackAndReturn(tx, eventerr.Wrap(eventerr.Insert, err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, rollbackAndReturn(tx, eventerr.Wrap(eventerr.Insert, err))
	} else if n == 0 {
		return nil, rollbackAndReturn(tx, eventerr.New(eventerr.MissingEvent))
	}

	if err := tx.Commit(); err != nil {
		return nil, eventerr.Wrap(eventerr.Commit, err)
	}

	return g.eventByIDLocked(ctx, update.ID)
}

func rollbackAndReturn(tx *sql.Tx, cause error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return eventerr.Wrap(eventerr.Rollback, errors.Join(cause, rbErr))
	}
	return cause
}

func (g *Gateway) trueLiteral() string {
	if g.dialect == DialectSQLite {
		return "1"
	}
	return "TRUE"
}

func (g *Gateway) falseLiteral() string {
	if g.dialect == DialectSQLite {
		return "0"
	}
	return "FALSE"
}
