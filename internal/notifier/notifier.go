// Package notifier delivers outbound messages through the chat adapter with
// a shared rate limit. It offers a synchronous Send for callers that need
// the delivery result and an async fire-and-forget Notify queue.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan kit.Notification
	sup       *rtsup.Supervisor
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		adapter: adapter,
		bus:     bus,
		cfg:     cfg,
		// Token bucket: burst = rate per sec, so short spikes don't stall.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// delivery failures are per-message; never take down the app
		rtsup.WithCancelOnError(false),
	)

	q := s.queue
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case n, ok := <-q:
					if !ok {
						return nil
					}
					if err := s.Send(c, n); err != nil && !errors.Is(err, context.Canceled) {
						s.log.Warn("async notify failed",
							logx.Int64("chat_id", n.Target.ChatID), logx.Err(err))
					}
				}
			}
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()

	close(q)
	if sup != nil {
		if err := sup.Wait(ctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
			sup.Cancel()
		}
	}
}

// Send delivers one notification synchronously: it waits for a rate token,
// then performs a single bounded send. The caller sees the real delivery
// result, which matters when a status transition depends on it.
func (s *Service) Send(ctx context.Context, n kit.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if n.Text == "" {
		return nil
	}
	s.mu.Lock()
	lim := s.limiter
	ad := s.adapter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()
	if ad == nil {
		return errors.New("no adapter")
	}

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := ad.SendText(callCtx, n.Target, n.Text, n.Options)
	return err
}

// Notify enqueues a notification for async delivery. It never blocks: a full
// queue returns ErrQueueFull.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	s.mu.Unlock()
	if !accepting || q == nil {
		return ErrStopped
	}
	// Stop may close the queue concurrently; treat that as stopped rather
	// than panicking on a send to a closed channel.
	err := ErrQueueFull
	func() {
		defer func() {
			if recover() != nil {
				err = ErrStopped
			}
		}()
		select {
		case q <- n:
			err = nil
		default:
		}
	}()
	return err
}
