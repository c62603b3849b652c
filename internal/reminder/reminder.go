// Package reminder holds the domain model of the bot: the reminder record,
// its category/recurrence/status enums, the natural-language time parser and
// the recurrence calculator.
package reminder

import "time"

// Category classifies a reminder for listing and statistics.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryHealth   Category = "health"
	CategoryShopping Category = "shopping"
	CategoryOther    Category = "other"
)

// Recurrence describes how a reminder repeats after it fires.
type Recurrence string

const (
	RecurOnce    Recurrence = "once"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
	RecurYearly  Recurrence = "yearly"
)

// Status is the lifecycle state of a reminder.
// Completed and cancelled are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CategoryLabels maps categories to their display labels, in keyboard order.
var CategoryLabels = map[Category]string{
	CategoryWork:     "💼 Work",
	CategoryPersonal: "👨‍👩‍👧‍👦 Personal",
	CategoryHealth:   "🏥 Health",
	CategoryShopping: "🛒 Shopping",
	CategoryOther:    "📌 Other",
}

// CategoryOrder fixes the keyboard/statistics ordering (map iteration is random).
var CategoryOrder = []Category{
	CategoryWork, CategoryPersonal, CategoryHealth, CategoryShopping, CategoryOther,
}

// RecurrenceLabels maps recurrence values to their display labels.
var RecurrenceLabels = map[Recurrence]string{
	RecurOnce:    "Once",
	RecurDaily:   "Daily",
	RecurWeekly:  "Weekly",
	RecurMonthly: "Monthly",
	RecurYearly:  "Yearly",
}

// RecurrenceOrder fixes the keyboard ordering.
var RecurrenceOrder = []Recurrence{
	RecurOnce, RecurDaily, RecurWeekly, RecurMonthly, RecurYearly,
}

// ValidCategory reports whether s is a known category value.
func ValidCategory(s string) bool {
	_, ok := CategoryLabels[Category(s)]
	return ok
}

// ValidRecurrence reports whether s is a known recurrence value.
func ValidRecurrence(s string) bool {
	_, ok := RecurrenceLabels[Recurrence(s)]
	return ok
}

// Terminal reports whether st allows no further transitions.
func (st Status) Terminal() bool {
	return st == StatusCompleted || st == StatusCancelled
}

// Reminder is a persisted reminder record.
//
// FireAt is always UTC; the display offset is applied at parse/format time
// only (see Parser).
type Reminder struct {
	ID           int64
	Owner        int64
	Text         string
	FireAt       time.Time
	Category     Category
	Recurrence   Recurrence
	NotifyBefore int // minutes before FireAt; 0 = no pre-notification
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NotifyAt returns the pre-notification instant and whether one is configured.
func (r *Reminder) NotifyAt() (time.Time, bool) {
	if r.NotifyBefore <= 0 {
		return time.Time{}, false
	}
	return r.FireAt.Add(-time.Duration(r.NotifyBefore) * time.Minute), true
}

// Successor builds the follow-up record for a recurring reminder that just
// fired. It returns false for non-recurring reminders.
func (r *Reminder) Successor(now time.Time) (Reminder, bool) {
	next, ok := NextFire(r.FireAt, r.Recurrence)
	if !ok {
		return Reminder{}, false
	}
	return Reminder{
		Owner:        r.Owner,
		Text:         r.Text,
		FireAt:       next,
		Category:     r.Category,
		Recurrence:   r.Recurrence,
		NotifyBefore: r.NotifyBefore,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, true
}
