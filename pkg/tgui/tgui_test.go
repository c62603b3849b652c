package tgui

import "testing"

func TestDataAndSplit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		scope, action, payload string
		want                   string
	}{
		{"rem", "cancel", "42", "rem:cancel:42"},
		{"rem", "cat", "work", "rem:cat:work"},
		{"rem", "noop", "", "rem:noop"},
		{"rem", "edit", "7:time", "rem:edit:7:time"},
	}
	for _, c := range cases {
		got := Data(c.scope, c.action, c.payload)
		if got != c.want {
			t.Errorf("Data(%q,%q,%q) = %q, want %q", c.scope, c.action, c.payload, got, c.want)
		}
		s, a, p := Split(got)
		if s != c.scope || a != c.action || p != c.payload {
			t.Errorf("Split(%q) = %q,%q,%q", got, s, a, p)
		}
	}
}

func TestEscape(t *testing.T) {
	t.Parallel()

	if got := Esc("<b> & co").String(); got != "&lt;b&gt; &amp; co" {
		t.Fatalf("Esc = %q", got)
	}
	if got := B("x<y").String(); got != "<b>x&lt;y</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := JoinH(" ", B("a"), H(""), I("b")).String(); got != "<b>a</b> <i>b</i>" {
		t.Fatalf("JoinH = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello!", 5, "hello…"},
		{"привет мир", 6, "привет…"},
		{"x", 0, ""},
	}
	for _, c := range cases {
		if got := TruncRunes(c.in, c.n); got != c.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}
