package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Legacy timestamp layouts accepted on read.
var legacyTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, r *reminder.Reminder) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = reminder.StatusActive
	}
	if r.Category == "" {
		r.Category = reminder.CategoryOther
	}
	if r.Recurrence == "" {
		r.Recurrence = reminder.RecurOnce
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(user_id, text, fire_at, category, recurrence, notify_before, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.Owner, r.Text, fmtTime(r.FireAt), string(r.Category), string(r.Recurrence),
		r.NotifyBefore, string(r.Status), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) Update(ctx context.Context, r *reminder.Reminder) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders
		 SET text = ?, fire_at = ?, category = ?, recurrence = ?, notify_before = ?, updated_at = ?
		 WHERE id = ?`,
		r.Text, fmtTime(r.FireAt), string(r.Category), string(r.Recurrence),
		r.NotifyBefore, fmtTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) SetStatus(ctx context.Context, id int64, status reminder.Status) error {
	// Terminal records are left untouched. The WHERE clause makes the
	// transition race-free; a zero rows-affected result then needs a lookup
	// to distinguish "missing" from "already terminal".
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(status), fmtTime(time.Now().UTC()), id,
		string(reminder.StatusCompleted), string(reminder.StatusCancelled),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var cur string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM reminders WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) ListByOwner(ctx context.Context, owner int64, statuses ...reminder.Status) ([]reminder.Reminder, error) {
	q := selectCols + ` WHERE user_id = ?`
	args := []any{owner}
	if len(statuses) > 0 {
		q += ` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	q += ` ORDER BY fire_at ASC, id ASC`
	return s.queryReminders(ctx, q, args...)
}

func (s *sqliteStore) ListActive(ctx context.Context) ([]reminder.Reminder, error) {
	return s.queryReminders(ctx,
		selectCols+` WHERE status = ? ORDER BY fire_at ASC, id ASC`,
		string(reminder.StatusActive),
	)
}

func (s *sqliteStore) ListDue(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	return s.queryReminders(ctx,
		selectCols+` WHERE status = ? AND fire_at <= ? ORDER BY fire_at ASC, id ASC`,
		string(reminder.StatusActive), fmtTime(now.UTC()),
	)
}

func (s *sqliteStore) Stats(ctx context.Context, owner int64) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, category, COUNT(*) FROM reminders WHERE user_id = ? GROUP BY status, category`,
		owner,
	)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st := Stats{ByCategory: map[reminder.Category]int{}}
	for rows.Next() {
		var status, category string
		var n int
		if err := rows.Scan(&status, &category, &n); err != nil {
			return Stats{}, err
		}
		st.Total += n
		st.ByCategory[reminder.Category(category)] += n
		switch reminder.Status(status) {
		case reminder.StatusActive:
			st.Active += n
		case reminder.StatusCompleted:
			st.Completed += n
		case reminder.StatusCancelled:
			st.Cancelled += n
		}
	}
	return st, rows.Err()
}

const selectCols = `SELECT id, user_id, text, fire_at, category, recurrence, notify_before, status, created_at, updated_at FROM reminders`

func (s *sqliteStore) queryReminders(ctx context.Context, q string, args ...any) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			// A single corrupt row should not take down listing for the
			// rest of the table.
			if !s.log.IsZero() {
				s.log.Warn("skipping malformed reminder row", logx.Err(err))
			}
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (reminder.Reminder, error) {
	var (
		r                            reminder.Reminder
		fireAt, createdAt, updatedAt string
		category, recurrence, status string
	)
	err := row.Scan(&r.ID, &r.Owner, &r.Text, &fireAt, &category, &recurrence,
		&r.NotifyBefore, &status, &createdAt, &updatedAt)
	if err != nil {
		return reminder.Reminder{}, err
	}
	r.Category = reminder.Category(category)
	r.Recurrence = reminder.Recurrence(recurrence)
	r.Status = reminder.Status(status)
	if r.FireAt, err = parseTime(fireAt); err != nil {
		return reminder.Reminder{}, fmt.Errorf("row %d: fire_at: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return reminder.Reminder{}, fmt.Errorf("row %d: created_at: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return reminder.Reminder{}, fmt.Errorf("row %d: updated_at: %w", r.ID, err)
	}
	return r, nil
}

// Zero-padded fractional seconds keep string comparison (ListDue, ordering)
// consistent with time ordering; RFC3339Nano would drop trailing zeros.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
