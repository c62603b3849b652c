package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var (
	// ErrNotFound is returned when no reminder has the requested id.
	ErrNotFound = errors.New("reminder not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default when empty): SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Stats summarizes one user's reminders.
type Stats struct {
	Total      int
	Active     int
	Completed  int
	Cancelled  int
	ByCategory map[reminder.Category]int
}

// Store is the persistence API used by the engine and the bot layer.
//
// Status transitions are one-way: SetStatus on a record already in a
// terminal status (completed/cancelled) is a no-op, so duplicate fire
// callbacks and concurrent cancels cannot resurrect or flip-flop a record.
type Store interface {
	// Create inserts r, assigning ID, CreatedAt, and UpdatedAt.
	Create(ctx context.Context, r *reminder.Reminder) error

	Get(ctx context.Context, id int64) (reminder.Reminder, error)

	// Update rewrites the mutable fields (Text, FireAt, Category,
	// Recurrence, NotifyBefore) of an existing record and bumps UpdatedAt.
	Update(ctx context.Context, r *reminder.Reminder) error

	// SetStatus moves a record to the given status. Terminal records are
	// left untouched and no error is returned.
	SetStatus(ctx context.Context, id int64, status reminder.Status) error

	Delete(ctx context.Context, id int64) error

	// ListByOwner returns one user's reminders, soonest first. An empty
	// statuses list means all statuses.
	ListByOwner(ctx context.Context, owner int64, statuses ...reminder.Status) ([]reminder.Reminder, error)

	// ListActive returns every active reminder across all users, soonest
	// first. Used for timer recovery at startup.
	ListActive(ctx context.Context) ([]reminder.Reminder, error)

	// ListDue returns active reminders with FireAt <= now.
	ListDue(ctx context.Context, now time.Time) ([]reminder.Reminder, error)

	Stats(ctx context.Context, owner int64) (Stats, error)

	Close() error
}
