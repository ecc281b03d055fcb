package storegw

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

// CreateEvent inserts an event and its host rows in one transaction.
// Zero hosts is tolerated: the event is still created, and the caller
// gets back eventerr.Hosts alongside the created event so it can
// decide whether to warn anyone, matching the original's treatment of
// "no hosts" as a permissible absence rather than a failed insert.
func (g *Gateway) CreateEvent(ctx context.Context, create *domain.CreateEvent) (*domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Transaction, err)
	}

	event, hostsErr, err := g.createEventTx(ctx, tx, create)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, eventerr.Wrap(eventerr.Rollback, errors.Join(err, rbErr))
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eventerr.Wrap(eventerr.Commit, err)
	}

	if hostsErr != nil {
		return event, hostsErr
	}
	return event, nil
}

func (g *Gateway) createEventTx(ctx context.Context, tx *sql.Tx, create *domain.CreateEvent) (*domain.Event, error, error) {
	query := `INSERT INTO events (start_date, end_date, title, description, system_id, timezone)
	          VALUES (` + g.placeholders(6) + `) RETURNING id`

	var id int32
	err := tx.QueryRowContext(ctx, query,
		create.StartDate.UTC(), create.EndDate.UTC(), create.Title, create.Description, create.SystemID, create.Timezone,
	).Scan(&id)
	if err != nil {
		return nil, nil, eventerr.Wrap(eventerr.Insert, err)
	}

	event := &domain.Event{
		ID:          id,
		SystemID:    create.SystemID,
		Title:       create.Title,
		Description: create.Description,
		StartDate:   create.StartDate.UTC(),
		EndDate:     create.EndDate.UTC(),
		Timezone:    create.Timezone,
	}

	if len(create.HostIDs) == 0 {
		return event, eventerr.New(eventerr.Hosts), nil
	}

	for _, userID := range create.HostIDs {
		hostQuery := "INSERT INTO hosts (users_id, events_id) VALUES (" + g.placeholder(1) + ", " + g.placeholder(2) + ")"
		if _, err := tx.ExecContext(ctx, hostQuery, userID, id); err != nil {
			return nil, nil, eventerr.Wrap(eventerr.Insert, err)
		}

		var username string
		userQuery := "SELECT username FROM users WHERE id = " + g.placeholder(1)
		if err := tx.QueryRowContext(ctx, userQuery, userID).Scan(&username); err != nil {
			return nil, nil, eventerr.Wrap(eventerr.Lookup, err)
		}
		event.Hosts = append(event.Hosts, domain.Host{EventID: id, UserID: userID, Username: username})
	}

	return event, nil, nil
}

// UpdateEvent replaces an event's mutable fields. Hosts are not
// touched by an edit; only the Link Broker's delete-event flow changes
// host membership, by deleting the whole event.
func (g *Gateway) UpdateEvent(ctx context.Context, update *domain.UpdateEvent) (*domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `UPDATE events SET title = ` + g.placeholder(1) + `, description = ` + g.placeholder(2) +
		`, start_date = ` + g.placeholder(3) + `, end_date = ` + g.placeholder(4) +
		`, timezone = ` + g.placeholder(5) + ` WHERE id = ` + g.placeholder(6)

	res, err := g.db.ExecContext(ctx, query,
		update.Title, update.Description, update.StartDate.UTC(), update.EndDate.UTC(), update.Timezone, update.ID)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Insert, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Insert, err)
	}
	if n == 0 {
		return nil, eventerr.New(eventerr.MissingEvent)
	}

	return g.eventByIDLocked(ctx, update.ID)
}

const eventSelectColumns = `e.id, e.start_date, e.end_date, e.title, e.description, e.system_id, e.timezone,
	                        h.users_id, u.username`

const eventJoin = `FROM events AS e
	                LEFT JOIN hosts AS h ON h.events_id = e.id
	                LEFT JOIN users AS u ON u.id = h.users_id`

// EventByID looks up one event, with its hosts condensed from the
// one-row-per-host join.
func (g *Gateway) EventByID(ctx context.Context, id int32) (*domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return g.eventByIDLocked(ctx, id)
}

// eventByIDLocked is EventByID without acquiring a worker slot, for
// callers that already hold one (the link-redeem transactions).
func (g *Gateway) eventByIDLocked(ctx context.Context, id int32) (*domain.Event, error) {
	query := "SELECT " + eventSelectColumns + " " + eventJoin + " WHERE e.id = " + g.placeholder(1)
	rows, err := g.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	defer rows.Close()

	events, err := condenseEventRows(rows)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	if len(events) == 0 {
		return nil, eventerr.New(eventerr.MissingEvent)
	}
	return &events[0], nil
}

// EventsInRange returns every event whose start or end falls within
// [from, to], for the Scheduler's hourly re-ingestion window.
func (g *Gateway) EventsInRange(ctx context.Context, from, to time.Time) ([]domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := "SELECT " + eventSelectColumns + " " + eventJoin +
		" WHERE e.start_date BETWEEN " + g.placeholder(1) + " AND " + g.placeholder(2) +
		" OR e.end_date BETWEEN " + g.placeholder(3) + " AND " + g.placeholder(4) +
		" ORDER BY e.id"

	rows, err := g.db.QueryContext(ctx, query, from.UTC(), to.UTC(), from.UTC(), to.UTC())
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	defer rows.Close()

	return condenseEventRows(rows)
}

// EventsByChatID lists events owned by the ChatSystem that a chat
// belongs to, ordered by start date, for the /events command.
func (g *Gateway) EventsByChatID(ctx context.Context, chatID int64) ([]domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := "SELECT " + eventSelectColumns + " " + eventJoin +
		" JOIN chat_systems AS cs ON cs.id = e.system_id" +
		" JOIN chats AS c ON c.system_id = cs.id" +
		" WHERE c.chat_id = " + g.placeholder(1) +
		" ORDER BY e.start_date, e.id"

	rows, err := g.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	defer rows.Close()

	return condenseEventRows(rows)
}

// EventsBySystemID lists every event owned by a system, ordered by
// start date, for the Chat Gateway's post-notification events listing.
func (g *Gateway) EventsBySystemID(ctx context.Context, systemID int32) ([]domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := "SELECT " + eventSelectColumns + " " + eventJoin +
		" WHERE e.system_id = " + g.placeholder(1) +
		" ORDER BY e.start_date, e.id"

	rows, err := g.db.QueryContext(ctx, query, systemID)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	defer rows.Close()

	return condenseEventRows(rows)
}

// EventsByUserID lists events the given user hosts, for the
// /edit and /delete commands.
func (g *Gateway) EventsByUserID(ctx context.Context, userID int32) ([]domain.Event, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT ` + eventSelectColumns + ` ` + eventJoin + `
	          WHERE e.id IN (SELECT events_id FROM hosts WHERE users_id = ` + g.placeholder(1) + `)
	          ORDER BY e.start_date, e.id`

	rows, err := g.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, eventerr.Wrap(eventerr.Lookup, err)
	}
	defer rows.Close()

	return condenseEventRows(rows)
}

// DeleteEvent removes an event and, via cascade, its host rows.
func (g *Gateway) DeleteEvent(ctx context.Context, id int32) error {
	release, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := g.db.ExecContext(ctx, "DELETE FROM events WHERE id = "+g.placeholder(1), id)
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

// condenseEventRows merges the one-row-per-host join result into one
// domain.Event per event id, preserving row order of first appearance.
// Grounded on the original's Event::condense_events (ordered variant).
func condenseEventRows(rows *sql.Rows) ([]domain.Event, error) {
	var order []int32
	byID := make(map[int32]*domain.Event)

	for rows.Next() {
		var (
			e            domain.Event
			hostUserID   sql.NullInt32
			hostUsername sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.StartDate, &e.EndDate, &e.Title, &e.Description, &e.SystemID, &e.Timezone,
			&hostUserID, &hostUsername); err != nil {
			return nil, err
		}

		existing, ok := byID[e.ID]
		if !ok {
			existing = &e
			byID[e.ID] = existing
			order = append(order, e.ID)
		}

		if hostUserID.Valid {
			existing.Hosts = append(existing.Hosts, domain.Host{
				EventID:  e.ID,
				UserID:   hostUserID.Int32,
				Username: hostUsername.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Event, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}
