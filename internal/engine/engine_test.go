package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// fakeStore is an in-memory storage.Store for engine tests.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]reminder.Reminder
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[int64]reminder.Reminder{}}
}

func (f *fakeStore) Create(ctx context.Context, r *reminder.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r.ID = f.nextID
	if r.Status == "" {
		r.Status = reminder.StatusActive
	}
	f.rows[r.ID] = *r
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (reminder.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return reminder.Reminder{}, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) Update(ctx context.Context, r *reminder.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[r.ID]; !ok {
		return storage.ErrNotFound
	}
	f.rows[r.ID] = *r
	return nil
}

func (f *fakeStore) SetStatus(ctx context.Context, id int64, status reminder.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return storage.ErrNotFound
	}
	if r.Status.Terminal() {
		return nil
	}
	r.Status = status
	f.rows[id] = r
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeStore) ListByOwner(ctx context.Context, owner int64, statuses ...reminder.Status) ([]reminder.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range f.rows {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]reminder.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range f.rows {
		if r.Status == reminder.StatusActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListDue(ctx context.Context, now time.Time) ([]reminder.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []reminder.Reminder
	for _, r := range f.rows {
		if r.Status == reminder.StatusActive && !r.FireAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Stats(ctx context.Context, owner int64) (storage.Stats, error) {
	return storage.Stats{}, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) status(t *testing.T, id int64) reminder.Status {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		t.Fatalf("reminder %d missing", id)
	}
	return r.Status
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeSender records sends and can fail on demand.
type fakeSender struct {
	mu   sync.Mutex
	sent []kit.Notification
	fail error
}

func (f *fakeSender) Send(ctx context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, n := range f.sent {
		out[i] = n.Text
	}
	return out
}

func (f *fakeSender) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

type plainRenderer struct{}

func (plainRenderer) RenderFire(r reminder.Reminder) string   { return "fire:" + r.Text }
func (plainRenderer) RenderNotify(r reminder.Reminder) string { return "notify:" + r.Text }

func newTestEngine(t *testing.T, st storage.Store, snd Sender) *Engine {
	t.Helper()
	e := New(Config{
		SweepInterval: time.Hour, // effectively disabled unless a test sweeps manually
		SendTimeout:   time.Second,
		Workers:       2,
	}, st, snd, plainRenderer{}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		e.Stop(sctx)
	})
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFireDeliversAndCompletes(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	r := reminder.Reminder{Owner: 7, Text: "tea", FireAt: time.Now().Add(30 * time.Millisecond), Recurrence: reminder.RecurOnce, Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	waitFor(t, "delivery", func() bool {
		texts := snd.texts()
		return len(texts) == 1 && texts[0] == "fire:tea"
	})
	waitFor(t, "completed status", func() bool {
		return st.status(t, r.ID) == reminder.StatusCompleted
	})
}

func TestCancelPreventsDelivery(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	r := reminder.Reminder{Owner: 1, Text: "x", FireAt: time.Now().Add(60 * time.Millisecond), Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)
	e.Cancel(r.ID)

	time.Sleep(200 * time.Millisecond)
	if got := snd.texts(); len(got) != 0 {
		t.Fatalf("cancelled reminder was delivered: %v", got)
	}
}

func TestTerminalRecordIsNotDelivered(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	// The timer stays armed but the record goes terminal before it fires:
	// processing must check fresh state and skip.
	r := reminder.Reminder{Owner: 1, Text: "x", FireAt: time.Now().Add(60 * time.Millisecond), Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)
	if err := st.SetStatus(context.Background(), r.ID, reminder.StatusCancelled); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := snd.texts(); len(got) != 0 {
		t.Fatalf("terminal reminder was delivered: %v", got)
	}
}

func TestRecurringSpawnsSuccessor(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	fireAt := time.Now().Add(30 * time.Millisecond)
	r := reminder.Reminder{Owner: 3, Text: "standup", FireAt: fireAt, Recurrence: reminder.RecurDaily, Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	waitFor(t, "successor", func() bool { return st.count() == 2 })
	waitFor(t, "predecessor completed", func() bool {
		return st.status(t, r.ID) == reminder.StatusCompleted
	})

	succ, err := st.Get(context.Background(), r.ID+1)
	if err != nil {
		t.Fatal(err)
	}
	if succ.Status != reminder.StatusActive || succ.Text != "standup" {
		t.Fatalf("successor = %+v", succ)
	}
	want := fireAt.AddDate(0, 0, 1)
	if !succ.FireAt.Equal(want) {
		t.Fatalf("successor FireAt = %v, want %v", succ.FireAt, want)
	}
}

func TestFailedSendLeavesActive(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	snd.setFail(errors.New("network down"))
	e := newTestEngine(t, st, snd)

	r := reminder.Reminder{Owner: 1, Text: "x", FireAt: time.Now().Add(30 * time.Millisecond), Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	time.Sleep(200 * time.Millisecond)
	if st.status(t, r.ID) != reminder.StatusActive {
		t.Fatal("failed delivery must leave the reminder active")
	}

	// The sweep retries it once the sender recovers.
	snd.setFail(nil)
	e.sweep(context.Background())
	waitFor(t, "retry delivery", func() bool { return len(snd.texts()) == 1 })
	waitFor(t, "completed after retry", func() bool {
		return st.status(t, r.ID) == reminder.StatusCompleted
	})
}

func TestPreNotification(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	// FireAt is an hour out; NotifyAt lands ~50ms from now, so only the
	// pre-notification should be delivered during this test.
	r := reminder.Reminder{
		Owner: 2, Text: "meeting",
		FireAt:       time.Now().Add(time.Hour + 50*time.Millisecond),
		NotifyBefore: 60,
		Status:       reminder.StatusActive,
	}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	waitFor(t, "pre-notification", func() bool {
		texts := snd.texts()
		return len(texts) == 1 && texts[0] == "notify:meeting"
	})
	// Status must remain active: only the fire timer completes a reminder.
	if st.status(t, r.ID) != reminder.StatusActive {
		t.Fatal("pre-notification must not change status")
	}
}

func TestRecoverRegistersActiveAndFiresOverdue(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	ctx := context.Background()

	overdue := reminder.Reminder{Owner: 1, Text: "overdue", FireAt: time.Now().Add(-2 * 24 * time.Hour), Status: reminder.StatusActive}
	soon := reminder.Reminder{Owner: 1, Text: "soon", FireAt: time.Now().Add(80 * time.Millisecond), Status: reminder.StatusActive}
	far := reminder.Reminder{Owner: 1, Text: "far", FireAt: time.Now().Add(48 * time.Hour), Status: reminder.StatusActive}
	done := reminder.Reminder{Owner: 1, Text: "done", FireAt: time.Now().Add(-time.Hour), Status: reminder.StatusCompleted}
	for _, r := range []*reminder.Reminder{&overdue, &soon, &far, &done} {
		if err := st.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	// Start runs recovery.
	_ = newTestEngine(t, st, snd)

	waitFor(t, "overdue fired immediately", func() bool {
		return st.status(t, overdue.ID) == reminder.StatusCompleted
	})
	waitFor(t, "soon fired on time", func() bool {
		return st.status(t, soon.ID) == reminder.StatusCompleted
	})
	if st.status(t, far.ID) != reminder.StatusActive {
		t.Fatal("far-future reminder fired early")
	}
	for _, text := range snd.texts() {
		if text == "fire:done" {
			t.Fatal("completed reminder re-fired during recovery")
		}
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	r := reminder.Reminder{Owner: 1, Text: "v1", FireAt: time.Now().Add(50 * time.Millisecond), Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	// Push the reminder out before the first timer fires; the stale timer's
	// callback must be ignored thanks to the version bump.
	r.Text = "v2"
	r.FireAt = time.Now().Add(150 * time.Millisecond)
	if err := st.Update(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	waitFor(t, "single delivery", func() bool { return len(snd.texts()) == 1 })
	time.Sleep(150 * time.Millisecond)
	if texts := snd.texts(); len(texts) != 1 || texts[0] != "fire:v2" {
		t.Fatalf("texts = %v, want exactly one fire:v2", texts)
	}
}

func TestSweepIgnoresInflight(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	r := reminder.Reminder{Owner: 1, Text: "dup", FireAt: time.Now().Add(-time.Minute), Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}

	// Two immediate sweeps must not double-deliver.
	e.sweep(context.Background())
	e.sweep(context.Background())

	waitFor(t, "delivery", func() bool { return len(snd.texts()) >= 1 })
	time.Sleep(100 * time.Millisecond)
	if texts := snd.texts(); len(texts) != 1 {
		t.Fatalf("delivered %d times: %v", len(texts), texts)
	}
}

func TestStopDisarmsTimers(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := New(Config{SweepInterval: time.Hour, Workers: 1}, st, snd, plainRenderer{}, logx.Nop(), nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	r := reminder.Reminder{Owner: 1, Text: "x", FireAt: time.Now().Add(100 * time.Millisecond), Status: reminder.StatusActive}
	if err := st.Create(ctx, &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	e.Stop(sctx)
	e.Stop(sctx) // idempotent

	time.Sleep(200 * time.Millisecond)
	if got := snd.texts(); len(got) != 0 {
		t.Fatalf("timer fired after Stop: %v", got)
	}
}

// armed reports whether a timer is currently installed for key.
func armed(e *Engine, key jobKey) bool {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	_, ok := e.timers[key]
	return ok
}

func TestNotifyTimerOnlyArmedForFutureInstants(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)
	ctx := context.Background()

	// A zero lead means no pre-notification at all; a lead longer than the
	// time left puts the notify instant in the past, which must not arm an
	// immediately-firing timer.
	none := reminder.Reminder{Owner: 1, Text: "a", FireAt: time.Now().Add(time.Hour), Status: reminder.StatusActive}
	late := reminder.Reminder{Owner: 1, Text: "b", FireAt: time.Now().Add(30 * time.Minute), NotifyBefore: 60, Status: reminder.StatusActive}
	for _, r := range []*reminder.Reminder{&none, &late} {
		if err := st.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
		e.Register(*r)
	}

	for _, tc := range []struct {
		name string
		id   int64
	}{
		{"zero lead", none.ID},
		{"lead longer than time left", late.ID},
	} {
		if !armed(e, jobKey{ID: tc.id, Kind: jobFire}) {
			t.Errorf("%s: fire timer not armed", tc.name)
		}
		if armed(e, jobKey{ID: tc.id, Kind: jobNotify}) {
			t.Errorf("%s: notify timer armed", tc.name)
		}
	}
}

func TestPassedNotifyInstantSkipsStraightToFire(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	r := reminder.Reminder{Owner: 4, Text: "call", FireAt: time.Now().Add(40 * time.Millisecond), NotifyBefore: 60, Status: reminder.StatusActive}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	waitFor(t, "fire delivery", func() bool { return len(snd.texts()) >= 1 })
	time.Sleep(100 * time.Millisecond)
	if texts := snd.texts(); len(texts) != 1 || texts[0] != "fire:call" {
		t.Fatalf("texts = %v, want exactly one fire:call", texts)
	}
}

func TestRecurringSuccessorKeepsPreNotification(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := newTestEngine(t, st, snd)

	r := reminder.Reminder{
		Owner: 6, Text: "standup",
		FireAt:       time.Now().Add(30 * time.Millisecond),
		Recurrence:   reminder.RecurDaily,
		NotifyBefore: 30,
		Status:       reminder.StatusActive,
	}
	if err := st.Create(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	e.Register(r)

	waitFor(t, "successor", func() bool { return st.count() == 2 })

	succ, err := st.Get(context.Background(), r.ID+1)
	if err != nil {
		t.Fatal(err)
	}
	if succ.NotifyBefore != 30 {
		t.Fatalf("successor NotifyBefore = %d, want 30", succ.NotifyBefore)
	}
	at, ok := succ.NotifyAt()
	if !ok {
		t.Fatal("successor has no notify instant")
	}
	if want := succ.FireAt.Add(-30 * time.Minute); !at.Equal(want) {
		t.Fatalf("notify instant = %v, want %v", at, want)
	}
	// Chaining registers the successor, so both of its timers are armed.
	waitFor(t, "successor timers", func() bool {
		return armed(e, jobKey{ID: succ.ID, Kind: jobFire}) &&
			armed(e, jobKey{ID: succ.ID, Kind: jobNotify})
	})
}

func TestStopDuringTimerBurstThenRestart(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	snd := &fakeSender{}
	e := New(Config{SweepInterval: time.Hour, SendTimeout: time.Second, Workers: 2}, st, snd, plainRenderer{}, logx.Nop(), nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Arm timers that elapse while Stop runs so their callbacks race the
	// shutdown. A late callback must find the queue gone without panicking.
	const n = 40
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		r := reminder.Reminder{Owner: 1, Text: "x", FireAt: time.Now().Add(time.Duration(i) * time.Millisecond), Status: reminder.StatusActive}
		if err := st.Create(ctx, &r); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
		e.Register(r)
	}

	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	e.Stop(sctx)

	// Restarting recovers whatever was not delivered: Stop cleared the
	// inflight marks, so recovery can enqueue those reminders again.
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		c2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel2()
		e.Stop(c2)
	})

	waitFor(t, "every reminder delivered", func() bool {
		for _, id := range ids {
			if st.status(t, id) != reminder.StatusCompleted {
				return false
			}
		}
		return true
	})
}
