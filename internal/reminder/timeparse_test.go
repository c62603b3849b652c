package reminder

import (
	"errors"
	"testing"
	"time"
)

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseRelative(t *testing.T) {
	t.Parallel()
	now := utc("2024-03-01T10:00:00Z")
	p := NewParser(0)

	tests := []struct {
		text string
		want time.Time
	}{
		{"in 30 minutes", utc("2024-03-01T10:30:00Z")},
		{"in 2 hours", utc("2024-03-01T12:00:00Z")},
		{"in 3 days", utc("2024-03-04T10:00:00Z")},
		{"in 1 week", utc("2024-03-08T10:00:00Z")},
		{"in 2 weeks", utc("2024-03-15T10:00:00Z")},
		{"in 1 month", utc("2024-04-01T10:00:00Z")},
		// digits are collected from anywhere in the phrase
		{"in about 15 minutes or so", utc("2024-03-01T10:15:00Z")},
		{"IN 2 HOURS", utc("2024-03-01T12:00:00Z")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, err := p.Parse(tt.text, now)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.text, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseRelativeMonthClamps(t *testing.T) {
	t.Parallel()
	p := NewParser(0)
	got, err := p.Parse("in 1 month", utc("2024-01-31T09:00:00Z"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	want := utc("2024-02-29T09:00:00Z") // leap year
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseExplicit(t *testing.T) {
	t.Parallel()
	now := utc("2024-03-01T10:00:00Z")
	p := NewParser(0)

	tests := []struct {
		text string
		want time.Time
	}{
		{"tomorrow at 15:00", utc("2024-03-02T15:00:00Z")},
		{"today at 18:30", utc("2024-03-01T18:30:00Z")},
		// "today" keeps its literal meaning even when already past
		{"today at 09:00", utc("2024-03-01T09:00:00Z")},
		// bare clock rolls forward when past
		{"15:00", utc("2024-03-01T15:00:00Z")},
		{"09:00", utc("2024-03-02T09:00:00Z")},
		{"25.12.2024 at 10:00", utc("2024-12-25T10:00:00Z")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, err := p.Parse(tt.text, now)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.text, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseFixedOffset(t *testing.T) {
	t.Parallel()
	// UTC+3: at 10:00Z the local wall clock reads 13:00.
	p := NewParser(3 * time.Hour)
	now := utc("2024-03-01T10:00:00Z")

	got, err := p.Parse("tomorrow at 15:00", now)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	want := utc("2024-03-02T12:00:00Z") // 15:00 local == 12:00 UTC
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// 14:00 local is still ahead of 13:00 local, so no rollover.
	got, err = p.Parse("14:00", now)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	want = utc("2024-03-01T11:00:00Z")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	now := utc("2024-03-01T10:00:00Z")
	p := NewParser(0)

	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", ErrUnrecognizedFormat},
		{"nonsense", "whenever you like", ErrUnrecognizedFormat},
		{"unknown unit", "in 5 fortnights", ErrUnrecognizedFormat},
		{"relative without number", "in some minutes", ErrMalformedValue},
		{"bad hour", "today at 25:00", ErrMalformedValue},
		{"bad minute", "tomorrow at 12:71", ErrMalformedValue},
		{"bad day", "32.01.2024 at 10:00", ErrMalformedValue},
		{"bad month", "01.13.2024 at 10:00", ErrMalformedValue},
		{"feb 30", "30.02.2024 at 10:00", ErrMalformedValue},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.Parse(tt.text, now)
			if err == nil {
				t.Fatalf("Parse(%q): expected error", tt.text)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse(%q) error = %v, want %v", tt.text, err, tt.want)
			}
		})
	}
}

func TestParseDeterministic(t *testing.T) {
	t.Parallel()
	p := NewParser(3 * time.Hour)
	now := utc("2024-03-01T10:00:00Z")
	a, err := p.Parse("in 45 minutes", now)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	b, err := p.Parse("in 45 minutes", now)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("parser not deterministic: %v != %v", a, b)
	}
}
