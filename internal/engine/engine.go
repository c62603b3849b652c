// Package engine schedules reminder deliveries.
//
// Each active reminder gets up to two one-shot timers: a fire timer at
// FireAt and an optional pre-notification timer NotifyBefore minutes
// earlier. Timers are keyed and version-guarded so a reschedule or cancel
// invalidates callbacks from timers it replaced. A periodic sweep re-reads
// storage for due reminders as a safety net against lost timers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type jobKind string

const (
	jobFire   jobKind = "fire"
	jobNotify jobKind = "notify"
)

type jobKey struct {
	ID   int64
	Kind jobKind
}

// Sender delivers one message synchronously; the engine only advances a
// reminder's status after a successful send.
type Sender interface {
	Send(ctx context.Context, n kit.Notification) error
}

type Config struct {
	SweepInterval time.Duration // default 1m
	SendTimeout   time.Duration // default 10s
	Workers       int           // default 2
	QueueSize     int           // default 256
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Renderer turns a reminder into the outgoing message text.
type Renderer interface {
	RenderFire(r reminder.Reminder) string
	RenderNotify(r reminder.Reminder) string
}

type Engine struct {
	cfg    Config
	log    logx.Logger
	store  storage.Store
	sender Sender
	render Renderer
	bus    eventbus.Bus

	now func() time.Time

	// tmu guards the timer tables. Versions make replaced timers inert:
	// a callback whose captured version no longer matches is ignored.
	tmu    sync.Mutex
	timers map[jobKey]*time.Timer
	vers   map[jobKey]uint64

	// inflight tracks keys queued or being processed so the sweep cannot
	// double-enqueue a reminder that a timer already handed off.
	imu      sync.Mutex
	inflight map[jobKey]struct{}

	mu    sync.Mutex
	queue chan jobKey
	sup   *rtsup.Supervisor
	cron  *cron.Cron
}

type Option func(*Engine)

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg Config, store storage.Store, sender Sender, render Renderer, log logx.Logger, bus eventbus.Bus, opts ...Option) *Engine {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:      cfg,
		log:      log,
		store:    store,
		sender:   sender,
		render:   render,
		bus:      bus,
		now:      time.Now,
		timers:   map[jobKey]*time.Timer{},
		vers:     map[jobKey]uint64{},
		inflight: map[jobKey]struct{}{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches the worker pool and the periodic due-sweep, then recovers
// timers for every active reminder in storage. Past-due reminders fire
// immediately. Start is idempotent.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.queue != nil {
		e.mu.Unlock()
		return nil
	}
	e.queue = make(chan jobKey, e.cfg.QueueSize)
	q := e.queue
	e.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(e.log.With(logx.String("comp", "engine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := e.sup

	c := cron.New()
	_, err := c.AddFunc("@every "+e.cfg.SweepInterval.String(), func() {
		e.sweep(sup.Context())
	})
	if err != nil {
		e.queue = nil
		e.sup = nil
		e.mu.Unlock()
		return fmt.Errorf("sweep schedule: %w", err)
	}
	e.cron = c
	e.mu.Unlock()

	for i := 0; i < e.cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case key, ok := <-q:
					if !ok {
						return nil
					}
					e.process(c, key)
				}
			}
		}, rtsup.WithPublishFirstError(true))
	}
	c.Start()

	return e.Recover(ctx)
}

// Stop halts the sweep, disarms all timers, and waits for workers to stop.
// The queue channel is never closed: a late timer callback may still be
// committed to a send, and sending on a closed channel would panic in the
// timer goroutine. Workers exit on context cancel instead; anything left in
// the queue is picked up by the due-sweep after the next Start.
func (e *Engine) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	q := e.queue
	sup := e.sup
	c := e.cron
	if q == nil {
		e.mu.Unlock()
		return
	}
	e.queue = nil
	e.sup = nil
	e.cron = nil
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	e.tmu.Lock()
	for k, t := range e.timers {
		t.Stop()
		delete(e.timers, k)
		delete(e.vers, k)
	}
	e.tmu.Unlock()

	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}

	// Abandoned queue entries keep their inflight marks; reset so a
	// restarted engine can enqueue those reminders again.
	e.imu.Lock()
	e.inflight = map[jobKey]struct{}{}
	e.imu.Unlock()
}

// Recover registers a timer for every active reminder in storage.
func (e *Engine) Recover(ctx context.Context) error {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	overdue := 0
	for _, r := range active {
		if r.FireAt.Before(e.now()) {
			overdue++
		}
		e.Register(r)
	}
	e.log.Info("timers recovered",
		logx.Int("active", len(active)), logx.Int("overdue", overdue))
	return nil
}

// Register (re)schedules delivery for one reminder, replacing any timers a
// previous registration installed. A reminder whose FireAt already passed
// fires immediately. Non-active reminders just disarm their timers.
func (e *Engine) Register(r reminder.Reminder) {
	if r.Status != reminder.StatusActive {
		e.Cancel(r.ID)
		return
	}
	now := e.now()

	e.schedule(jobKey{ID: r.ID, Kind: jobFire}, r.FireAt.Sub(now))

	nk := jobKey{ID: r.ID, Kind: jobNotify}
	if at, ok := r.NotifyAt(); ok && at.After(now) {
		e.schedule(nk, at.Sub(now))
	} else {
		e.disarm(nk)
	}
}

// Cancel disarms both timers for a reminder id. Safe to call for ids that
// were never registered.
func (e *Engine) Cancel(id int64) {
	e.disarm(jobKey{ID: id, Kind: jobFire})
	e.disarm(jobKey{ID: id, Kind: jobNotify})
}

func (e *Engine) schedule(key jobKey, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	e.tmu.Lock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
	// Bump the version so callbacks from the replaced timer are ignored.
	ver := e.vers[key] + 1
	e.vers[key] = ver

	localKey, localVer := key, ver
	timer := time.AfterFunc(delay, func() {
		e.tmu.Lock()
		if e.vers[localKey] != localVer {
			e.tmu.Unlock()
			return
		}
		delete(e.timers, localKey)
		delete(e.vers, localKey)
		e.tmu.Unlock()

		e.enqueue(localKey)
	})
	e.timers[key] = timer
	e.tmu.Unlock()
}

func (e *Engine) disarm(key jobKey) {
	e.tmu.Lock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
	delete(e.vers, key)
	e.tmu.Unlock()
}

func (e *Engine) enqueue(key jobKey) {
	e.imu.Lock()
	if _, busy := e.inflight[key]; busy {
		e.imu.Unlock()
		return
	}
	e.inflight[key] = struct{}{}
	e.imu.Unlock()

	e.mu.Lock()
	q := e.queue
	e.mu.Unlock()
	if q == nil {
		e.clearInflight(key)
		return
	}
	select {
	case q <- key:
	default:
		// Full queue: drop and let the sweep pick the reminder up again.
		e.clearInflight(key)
		e.log.Warn("engine queue full; deferring to sweep",
			logx.Int64("reminder_id", key.ID), logx.String("kind", string(key.Kind)))
	}
}

func (e *Engine) clearInflight(key jobKey) {
	e.imu.Lock()
	delete(e.inflight, key)
	e.imu.Unlock()
}

// sweep enqueues every due active reminder. It backstops timers lost to
// process restarts between recovery passes, clock jumps, and dropped jobs.
func (e *Engine) sweep(ctx context.Context) {
	due, err := e.store.ListDue(ctx, e.now())
	if err != nil {
		e.log.Warn("due sweep failed", logx.Err(err))
		return
	}
	for _, r := range due {
		e.enqueue(jobKey{ID: r.ID, Kind: jobFire})
	}
}

func (e *Engine) process(ctx context.Context, key jobKey) {
	defer e.clearInflight(key)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout+5*time.Second)
	defer cancel()

	// Always act on fresh state: the record may have been cancelled,
	// edited, or completed since the timer was armed.
	r, err := e.store.Get(ctx, key.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.log.Warn("load for delivery failed", logx.Int64("reminder_id", key.ID), logx.Err(err))
		}
		return
	}
	if r.Status != reminder.StatusActive {
		return
	}

	switch key.Kind {
	case jobFire:
		e.fire(ctx, r)
	case jobNotify:
		e.notify(ctx, r)
	}
}

// fire delivers the reminder and, only after a successful send, marks it
// completed and spawns the successor for recurring reminders. A failed send
// leaves the record active so the sweep retries it.
func (e *Engine) fire(ctx context.Context, r reminder.Reminder) {
	err := e.sender.Send(ctx, kit.Notification{
		Target: kit.ChatTarget{ChatID: r.Owner},
		Text:   e.render.RenderFire(r),
	})
	if err != nil {
		e.log.Warn("reminder delivery failed",
			logx.Int64("reminder_id", r.ID), logx.Int64("chat_id", r.Owner), logx.Err(err))
		e.publish(eventbus.TopicReminderFailed, r.ID)
		return
	}

	if err := e.store.SetStatus(ctx, r.ID, reminder.StatusCompleted); err != nil {
		e.log.Error("mark completed failed", logx.Int64("reminder_id", r.ID), logx.Err(err))
	}
	e.publish(eventbus.TopicReminderFired, r.ID)

	succ, ok := r.Successor(e.now())
	if !ok {
		return
	}
	if err := e.store.Create(ctx, &succ); err != nil {
		e.log.Error("spawn recurring successor failed",
			logx.Int64("reminder_id", r.ID), logx.Err(err))
		return
	}
	e.Register(succ)
	e.publish(eventbus.TopicReminderCreated, succ.ID)
	e.log.Debug("recurring reminder chained",
		logx.Int64("prev_id", r.ID), logx.Int64("next_id", succ.ID),
		logx.Time("next_fire", succ.FireAt))
}

// notify sends the pre-notification. It never changes status; the fire
// timer still owns completion.
func (e *Engine) notify(ctx context.Context, r reminder.Reminder) {
	err := e.sender.Send(ctx, kit.Notification{
		Target: kit.ChatTarget{ChatID: r.Owner},
		Text:   e.render.RenderNotify(r),
	})
	if err != nil {
		e.log.Warn("pre-notification failed",
			logx.Int64("reminder_id", r.ID), logx.Err(err))
		return
	}
	e.publish(eventbus.TopicReminderNotified, r.ID)
}

func (e *Engine) publish(topic string, id int64) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Topic: topic, Data: id})
}
