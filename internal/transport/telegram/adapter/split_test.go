package adapter

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()

	got := splitText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 50)
	got := splitText(s, 80, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d: %q", len(got), got)
	}
	if got[0] != strings.Repeat("a", 50) {
		t.Fatalf("first chunk = %q", got[0])
	}
	if got[1] != strings.Repeat("b", 50) {
		t.Fatalf("second chunk = %q", got[1])
	}
}

func TestSplitTextHardSplitWithoutNewlines(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("x", 250)
	got := splitText(s, 100, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d", len(got))
	}
	total := 0
	for _, c := range got {
		if len(c) > 100 {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("lost characters: %d", total)
	}
}

func TestSplitTextAvoidsDanglingHTMLTag(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 90) + "<b>bold text</b>" + strings.Repeat("c", 50)
	for _, chunk := range splitText(s, 100, "HTML") {
		opens := strings.Count(chunk, "<")
		closes := strings.Count(chunk, ">")
		if opens != closes {
			t.Fatalf("chunk split inside a tag: %q", chunk)
		}
	}
}
