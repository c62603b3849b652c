package bot

import (
	"sync"
	"time"

	"remindbot/internal/reminder"
)

// step is where a per-user conversation currently stands.
type step int

const (
	stepNone       step = iota
	stepText            // waiting for the reminder text
	stepTime            // waiting for the time phrase
	stepCategory        // waiting for a category button
	stepRecurrence      // waiting for a repeat button
	stepNotify          // waiting for a notify-before button (recurring only)
	stepEditText        // waiting for replacement text for an existing reminder
	stepEditTime        // waiting for a new time phrase for an existing reminder
)

// session is the in-flight state of one create/edit dialog.
type session struct {
	Step    step
	Draft   reminder.Reminder // partially filled during creation
	EditID  int64             // target reminder for stepEdit*
	Expires time.Time
}

type sessKey struct {
	ChatID int64
	UserID int64
}

// sessions keeps conversation state per (chat, user) with a sliding TTL.
// Telegram gives no "dialog ended" signal, so abandoned dialogs simply age
// out and the next message starts fresh.
type sessions struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[sessKey]*session
	now func() time.Time
}

func newSessions(ttl time.Duration) *sessions {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &sessions{ttl: ttl, m: map[sessKey]*session{}, now: time.Now}
}

// get returns the live session for k, or nil when none exists or it expired.
func (s *sessions) get(k sessKey) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[k]
	if !ok {
		return nil
	}
	if s.now().After(sess.Expires) {
		delete(s.m, k)
		return nil
	}
	// Each touch extends the dialog.
	sess.Expires = s.now().Add(s.ttl)
	return sess
}

// put installs (or replaces) the session for k and arms its expiry.
func (s *sessions) put(k sessKey, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Expires = s.now().Add(s.ttl)
	s.m[k] = sess
	// Opportunistic prune keeps the map from accumulating dead dialogs.
	if len(s.m) > 64 {
		now := s.now()
		for key, v := range s.m {
			if now.After(v.Expires) {
				delete(s.m, key)
			}
		}
	}
}

func (s *sessions) clear(k sessKey) {
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
}
