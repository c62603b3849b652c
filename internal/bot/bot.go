// Package bot is the conversational presentation layer: it turns inbound
// chat updates into store/engine operations and renders the results back.
// Everything transport-specific stays behind the transport.Adapter.
package bot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"

	rtsup "remindbot/internal/runtime/supervisor"
)

// Scheduler is the slice of the engine the bot needs: (re)arming timers for
// created or edited reminders and disarming cancelled ones.
type Scheduler interface {
	Register(r reminder.Reminder)
	Cancel(id int64)
}

// Options tunes the service; zero values get defaults.
type Options struct {
	HandlerTimeout time.Duration // per-update budget, default 30s
	SessionTTL     time.Duration // dialog expiry, default 10m
	QueueSize      int           // dispatch queue, default 256
	Workers        int           // dispatch workers, default NumCPU (min 2)
}

func (o *Options) applyDefaults() {
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 30 * time.Second
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 10 * time.Minute
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
		if o.Workers < 2 {
			o.Workers = 2
		}
	}
}

type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	store   storage.Store
	sched   Scheduler
	parser  *reminder.Parser
	format  *Formatter
	bus     eventbus.Bus
	opts    Options

	sess *sessions
	now  func() time.Time

	ownMu  sync.RWMutex
	owners []int64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, store storage.Store, sched Scheduler,
	parser *reminder.Parser, format *Formatter, bus eventbus.Bus, owners []int64, opts Options) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts.applyDefaults()
	return &Service{
		log:     log,
		adapter: adapter,
		store:   store,
		sched:   sched,
		parser:  parser,
		format:  format,
		bus:     bus,
		opts:    opts,
		sess:    newSessions(opts.SessionTTL),
		now:     time.Now,
		owners:  append([]int64(nil), owners...),
		jobs:    make(chan func(), opts.QueueSize),
	}
}

// SetOwners swaps the allowlist used for access checks. Safe during
// config hot-reload. An empty list means the bot is open to everyone.
func (s *Service) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	s.ownMu.Lock()
	s.owners = cp
	s.ownMu.Unlock()
}

func (s *Service) allowed(id int64) bool {
	s.ownMu.RLock()
	defer s.ownMu.RUnlock()
	if len(s.owners) == 0 {
		return true
	}
	for _, o := range s.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Run consumes updates until ctx is done or the channel closes. Updates are
// dispatched through a bounded worker pool so one slow handler cannot stall
// the poll loop.
func (s *Service) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "bot.router"))),
		rtsup.WithCancelOnError(false),
	)
	s.setSupervisor(sup, true)

	s.log.Info("bot dispatcher started",
		logx.Int("workers", s.opts.Workers), logx.Int("job_queue_cap", cap(s.jobs)))

	for i := 0; i < s.opts.Workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-s.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; this keeps the worker
					// alive if dispatch plumbing itself panics.
					func() {
						defer func() {
							if r := recover(); r != nil {
								s.log.Error("panic in bot job",
									logx.Int("worker", idx), logx.Any("panic", r),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			s.setSupervisor(sup, false)
			close(s.jobs)
		})
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		s.setSupervisor(nil, false)
		s.log.Info("bot dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			s.route(ctx, up)
		}
	}
}

func (s *Service) setSupervisor(sup *rtsup.Supervisor, running bool) {
	s.runMu.Lock()
	s.sup = sup
	s.running = running
	s.runMu.Unlock()
}

// tryEnqueue survives the jobs channel being closed mid-shutdown.
func (s *Service) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case s.jobs <- fn:
		return true
	default:
		return false
	}
}

func (s *Service) route(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		s.routeMessage(root, up)
	case kit.UpdateCallback:
		s.routeCallback(root, up)
	}
}

func (s *Service) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	if !s.allowed(msg.FromID) {
		_, _ = s.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "unauthorized", nil)
		return
	}

	text := strings.TrimSpace(msg.Text)
	var (
		name    string
		args    []string
		handler HandlerFunc
	)
	if strings.HasPrefix(text, "/") {
		parts := strings.Fields(text)
		word := strings.TrimPrefix(parts[0], "/")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		name = "/" + word
		args = parts[1:]
		handler = s.commandHandler(word)
		if handler == nil {
			_, _ = s.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
				"Unknown command. Try /help", nil)
			return
		}
	} else {
		name = "text"
		handler = s.handleText
	}

	s.dispatch(root, up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		msg.FromID, name, args, "", handler, nil)
}

func (s *Service) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	if !s.allowed(cb.FromID) {
		_ = s.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}
	scope, action, payload := tgui.Split(strings.TrimSpace(cb.Data))
	if scope != cbScope || action == "" {
		_ = s.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	handler := func(ctx context.Context, req *Request) error {
		return s.handleCallback(ctx, req, action, payload)
	}
	after := func() {
		// Best-effort to stop the button's loading spinner.
		_ = s.adapter.AnswerCallback(root, cb.ID, "")
	}
	s.dispatch(root, up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		cb.FromID, "cb:"+cbScope+":"+action, nil, payload, handler, after)
}

func (s *Service) dispatch(root context.Context, up kit.Update, chat kit.ChatTarget,
	from int64, name string, args []string, payload string, handler HandlerFunc, after func()) {
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: name,
		Args:    args,
		Payload: payload,
		ReqID:   rid,
		Adapter: s.adapter,
		Logger: s.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", name),
		),
	}

	final := Chain(
		handler,
		MWPanicRecover(s.log),
		MWRequestLog(s.log),
		MWTimeout(s.opts.HandlerTimeout),
	)

	if !s.tryEnqueue(func() {
		_ = final(root, req)
		if after != nil {
			after()
		}
	}) {
		_, _ = s.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func (s *Service) commandHandler(word string) HandlerFunc {
	switch word {
	case "start":
		return s.handleStart
	case "help":
		return s.handleHelp
	case "remind":
		return s.handleRemind
	case "list", "my_reminders":
		return s.handleList
	case "stats":
		return s.handleStats
	case "cancel":
		return s.handleCancel
	default:
		return nil
	}
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
