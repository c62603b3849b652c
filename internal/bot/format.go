package bot

import (
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/pkg/tgui"
)

// stampLayout is the display format for reminder times.
const stampLayout = "02.01.2006 15:04"

// Formatter renders reminders and statistics for chat output. UI texts are
// Telegram HTML; delivery texts (RenderFire/RenderNotify) stay plain so the
// engine can send them without a parse mode.
type Formatter struct {
	Loc *time.Location
}

// NewFormatter builds a formatter for a fixed display offset from UTC.
func NewFormatter(offset time.Duration) *Formatter {
	p := reminder.NewParser(offset)
	return &Formatter{Loc: p.Loc}
}

func (f *Formatter) loc() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

// Stamp formats a UTC instant in the display zone.
func (f *Formatter) Stamp(t time.Time) string {
	return t.In(f.loc()).Format(stampLayout)
}

func (f *Formatter) RenderFire(r reminder.Reminder) string {
	return "🔔 Reminder: " + r.Text
}

func (f *Formatter) RenderNotify(r reminder.Reminder) string {
	return fmt.Sprintf("🔔 In %d minutes: %s", r.NotifyBefore, r.Text)
}

// categoryIcon is the emoji prefix of the category label.
func categoryIcon(c reminder.Category) string {
	label, ok := reminder.CategoryLabels[c]
	if !ok {
		return "📌"
	}
	icon, _, _ := strings.Cut(label, " ")
	return icon
}

func statusIcon(st reminder.Status) string {
	switch st {
	case reminder.StatusCompleted:
		return "✅"
	case reminder.StatusCancelled:
		return "❌"
	default:
		return "⏳"
	}
}

// List renders a user's reminders, one block per record.
func (f *Formatter) List(rs []reminder.Reminder) string {
	if len(rs) == 0 {
		return "📭 You have no active reminders yet."
	}
	var b strings.Builder
	b.WriteString("📋 Your reminders:\n\n")
	for _, r := range rs {
		repeat := ""
		if r.Recurrence != reminder.RecurOnce {
			repeat = " (" + reminder.RecurrenceLabels[r.Recurrence] + ")"
		}
		fmt.Fprintf(&b, "%s %s %s\n", statusIcon(r.Status), categoryIcon(r.Category), tgui.Esc(r.Text))
		fmt.Fprintf(&b, "   📅 %s%s\n", f.Stamp(r.FireAt), repeat)
		fmt.Fprintf(&b, "   ID: %d\n\n", r.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Stats renders the per-user statistics summary.
func (f *Formatter) Stats(st storage.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Reminder stats:\n\n")
	fmt.Fprintf(&b, "✅ Completed: %d\n", st.Completed)
	fmt.Fprintf(&b, "⏳ Active: %d\n", st.Active)
	fmt.Fprintf(&b, "❌ Cancelled: %d\n", st.Cancelled)
	fmt.Fprintf(&b, "📈 Total created: %d\n", st.Total)
	if len(st.ByCategory) > 0 {
		b.WriteString("\n📂 By category:\n")
		for _, c := range reminder.CategoryOrder {
			if n := st.ByCategory[c]; n > 0 {
				fmt.Fprintf(&b, "  %s: %d\n", reminder.CategoryLabels[c], n)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Details renders the full card of one reminder.
func (f *Formatter) Details(r reminder.Reminder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", statusIcon(r.Status), tgui.B("Reminder details:"))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Text:"), tgui.Esc(r.Text))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("When:"), f.Stamp(r.FireAt))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Category:"), reminder.CategoryLabels[r.Category])
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Repeat:"), reminder.RecurrenceLabels[r.Recurrence])
	if r.NotifyBefore > 0 {
		fmt.Fprintf(&b, "%s %d minutes before\n", tgui.B("Notify:"), r.NotifyBefore)
	}
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Status:"), string(r.Status))
	fmt.Fprintf(&b, "%s %d", tgui.B("ID:"), r.ID)
	return b.String()
}

// Created renders the confirmation shown after a reminder is saved.
func (f *Formatter) Created(r reminder.Reminder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s\n\n", tgui.B("Reminder created!"))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("What:"), tgui.Esc(r.Text))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("When:"), f.Stamp(r.FireAt))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Category:"), reminder.CategoryLabels[r.Category])
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Repeat:"), reminder.RecurrenceLabels[r.Recurrence])
	if r.NotifyBefore > 0 {
		fmt.Fprintf(&b, "%s %d minutes before\n", tgui.B("Notify:"), r.NotifyBefore)
	}
	fmt.Fprintf(&b, "\nID: %d", r.ID)
	return b.String()
}
