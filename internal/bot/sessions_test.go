package bot

import (
	"testing"
	"time"
)

func TestSessionsExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s := newSessions(10 * time.Minute)
	s.now = func() time.Time { return now }

	k := sessKey{ChatID: 1, UserID: 2}
	s.put(k, &session{Step: stepText})

	if got := s.get(k); got == nil || got.Step != stepText {
		t.Fatalf("get right after put = %+v", got)
	}

	// Each get slides the expiry forward.
	now = now.Add(9 * time.Minute)
	if s.get(k) == nil {
		t.Fatal("session expired before TTL")
	}
	now = now.Add(9 * time.Minute)
	if s.get(k) == nil {
		t.Fatal("touched session expired before refreshed TTL")
	}

	now = now.Add(11 * time.Minute)
	if got := s.get(k); got != nil {
		t.Fatalf("expired session still returned: %+v", got)
	}
}

func TestSessionsClear(t *testing.T) {
	t.Parallel()

	s := newSessions(time.Minute)
	k := sessKey{ChatID: 5, UserID: 5}
	s.put(k, &session{Step: stepTime})
	s.clear(k)
	if s.get(k) != nil {
		t.Fatal("cleared session still present")
	}
}

func TestSessionsKeyedPerChatAndUser(t *testing.T) {
	t.Parallel()

	s := newSessions(time.Minute)
	s.put(sessKey{ChatID: 1, UserID: 1}, &session{Step: stepText})

	if s.get(sessKey{ChatID: 1, UserID: 2}) != nil {
		t.Fatal("session leaked across users")
	}
	if s.get(sessKey{ChatID: 2, UserID: 1}) != nil {
		t.Fatal("session leaked across chats")
	}
}
