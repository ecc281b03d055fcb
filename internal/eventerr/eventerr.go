// Package eventerr defines the error taxonomy shared by every
// component: one wrapper type carrying a Kind, instead of a distinct
// Go error type per failure mode.
package eventerr

import "fmt"

// Kind classifies why an operation failed.
type Kind int

const (
	// Unknown is the zero value; never constructed deliberately.
	Unknown Kind = iota
	// MissingEnv means a required environment variable was not set.
	MissingEnv
	// CreateConnection means the database connection pool could not be established.
	CreateConnection
	// Lookup means a SELECT found no matching row.
	Lookup
	// Prepare means a statement failed to prepare.
	Prepare
	// Insert means an INSERT affected no rows or failed.
	Insert
	// Delete means a DELETE/UPDATE-as-delete affected no rows.
	Delete
	// Transaction means starting a transaction failed.
	Transaction
	// Rollback means a transaction rollback itself failed.
	Rollback
	// Commit means a transaction commit failed.
	Commit
	// Hosts means an event has no hosts. Callers treat this as a
	// permissible absence, not a failure: see store.CreateEvent.
	Hosts
	// MissingConnection means the Store Gateway's worker pool has no
	// connection available (the database is unreachable).
	MissingConnection
	// Canceled means the operation's context was canceled.
	Canceled
	// Telegram means a call to the chat platform failed.
	Telegram
	// TelegramLookup means a chat platform lookup (admins, chat info) found nothing.
	TelegramLookup
	// MissingEvent means an event id did not resolve to a known event.
	MissingEvent
	// Permissions means the caller is not authorized to perform the operation.
	Permissions
	// Frontend means the HTTP form request was malformed or incomplete.
	Frontend
)

func (k Kind) String() string {
	switch k {
	case MissingEnv:
		return "missing environment variable"
	case CreateConnection:
		return "could not create connection"
	case Lookup:
		return "lookup failed"
	case Prepare:
		return "could not prepare statement"
	case Insert:
		return "insert failed"
	case Delete:
		return "delete failed"
	case Transaction:
		return "could not start transaction"
	case Rollback:
		return "rollback failed"
	case Commit:
		return "commit failed"
	case Hosts:
		return "event has no hosts"
	case MissingConnection:
		return "no database connection available"
	case Canceled:
		return "operation canceled"
	case Telegram:
		return "telegram API call failed"
	case TelegramLookup:
		return "telegram lookup returned nothing"
	case MissingEvent:
		return "event not found"
	case Permissions:
		return "not permitted"
	case Frontend:
		return "invalid form submission"
	default:
		return "unknown error"
	}
}

// Error wraps a Kind with the underlying cause, if any.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error of the given kind with no cause.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap constructs an Error of the given kind wrapping cause. If cause
// is nil, Wrap returns nil, so it is safe to use directly on an err
// variable that might not be set.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
