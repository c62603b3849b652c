// Package storage persists reminders in SQLite.
//
// Timestamps are stored as RFC3339Nano UTC strings. Rows written by older
// builds using the legacy "2006-01-02 15:04:05" layout are still readable.
package storage
