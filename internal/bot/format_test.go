package bot

import (
	"strings"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

func TestFormatterStampAppliesOffset(t *testing.T) {
	t.Parallel()

	f := NewFormatter(3 * time.Hour)
	at := time.Date(2026, 12, 25, 7, 0, 0, 0, time.UTC)
	if got, want := f.Stamp(at), "25.12.2026 10:00"; got != want {
		t.Fatalf("Stamp = %q, want %q", got, want)
	}
}

func TestFormatterListEmpty(t *testing.T) {
	t.Parallel()

	f := NewFormatter(0)
	got := f.List(nil)
	if !strings.HasPrefix(got, "📭") {
		t.Fatalf("empty list = %q, want 📭 placeholder", got)
	}
}

func TestFormatterList(t *testing.T) {
	t.Parallel()

	f := NewFormatter(0)
	rs := []reminder.Reminder{
		{
			ID:         7,
			Text:       "call mom",
			FireAt:     time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC),
			Category:   reminder.CategoryPersonal,
			Recurrence: reminder.RecurOnce,
			Status:     reminder.StatusActive,
		},
		{
			ID:         8,
			Text:       "standup",
			FireAt:     time.Date(2026, 9, 2, 9, 30, 0, 0, time.UTC),
			Category:   reminder.CategoryWork,
			Recurrence: reminder.RecurDaily,
			Status:     reminder.StatusActive,
		},
	}
	got := f.List(rs)

	for _, want := range []string{
		"⏳", "call mom", "📅 01.09.2026 15:00", "ID: 7",
		"💼", "standup", "📅 02.09.2026 09:30 (Daily)", "ID: 8",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("list missing %q:\n%s", want, got)
		}
	}
	// Non-recurring entries carry no repeat suffix.
	if strings.Contains(got, "15:00 (") {
		t.Errorf("one-off entry has a repeat suffix:\n%s", got)
	}
}

func TestFormatterListEscapesHTML(t *testing.T) {
	t.Parallel()

	f := NewFormatter(0)
	got := f.List([]reminder.Reminder{{
		ID: 1, Text: "a<b>&c", FireAt: time.Unix(0, 0).UTC(),
		Category: reminder.CategoryOther, Recurrence: reminder.RecurOnce,
		Status: reminder.StatusActive,
	}})
	if strings.Contains(got, "<b>") {
		t.Fatalf("user text not escaped:\n%s", got)
	}
	if !strings.Contains(got, "a&lt;b&gt;&amp;c") {
		t.Fatalf("expected escaped text in:\n%s", got)
	}
}

func TestFormatterStats(t *testing.T) {
	t.Parallel()

	f := NewFormatter(0)
	got := f.Stats(storage.Stats{
		Total:     10,
		Active:    4,
		Completed: 5,
		Cancelled: 1,
		ByCategory: map[reminder.Category]int{
			reminder.CategoryWork:  6,
			reminder.CategoryOther: 4,
		},
	})

	for _, want := range []string{
		"✅ Completed: 5",
		"⏳ Active: 4",
		"❌ Cancelled: 1",
		"📈 Total created: 10",
		"📂 By category:",
		"💼 Work: 6",
		"📌 Other: 4",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("stats missing %q:\n%s", want, got)
		}
	}
}

func TestRenderFireAndNotify(t *testing.T) {
	t.Parallel()

	f := NewFormatter(0)
	r := reminder.Reminder{Text: "drink water", NotifyBefore: 15}

	if got, want := f.RenderFire(r), "🔔 Reminder: drink water"; got != want {
		t.Errorf("RenderFire = %q, want %q", got, want)
	}
	if got, want := f.RenderNotify(r), "🔔 In 15 minutes: drink water"; got != want {
		t.Errorf("RenderNotify = %q, want %q", got, want)
	}
}

func TestCategoryIcon(t *testing.T) {
	t.Parallel()

	if got := categoryIcon(reminder.CategoryWork); got != "💼" {
		t.Errorf("work icon = %q", got)
	}
	if got := categoryIcon(reminder.Category("bogus")); got != "📌" {
		t.Errorf("fallback icon = %q", got)
	}
}

func TestQuickSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in           string
		body, phrase string
		ok           bool
	}{
		{"call mom in 2 hours", "call mom", "in 2 hours", true},
		{"standup tomorrow at 9:30", "standup", "tomorrow at 9:30", true},
		{"pay rent today at 18:00", "pay rent", "today at 18:00", true},
		{"in 5 minutes", "", "", false},
		{"just some words", "", "", false},
	}
	for _, tt := range tests {
		body, phrase, ok := quickSplit(tt.in)
		if ok != tt.ok || body != tt.body || phrase != tt.phrase {
			t.Errorf("quickSplit(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, body, phrase, ok, tt.body, tt.phrase, tt.ok)
		}
	}
}
