// Package app wires configuration, logging, storage, the scheduling engine,
// and the conversational bot into one process with hot-reloadable config.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"

	rtsup "remindbot/internal/runtime/supervisor"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	notif   *notifier.Service
	eng     *engine.Engine
	bot     *bot.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies its config immediately; bootstrap with Telegram
	// logging disabled so the sink never warns about a missing target,
	// then set the target and apply the real flag.
	baseLogCfg := mapLoggingConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	applyTelegramLogTarget(logSvc, cfg)
	logSvc.Apply(mapLoggingConfig(cfg))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	offset, engCfg, ncfg, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}

	parser := reminder.NewParser(offset)
	format := bot.NewFormatter(offset)

	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)
	eng := engine.New(engCfg, store, notifSvc, format,
		log.With(logx.String("comp", "engine")), bus)

	botSvc := bot.New(log.With(logx.String("comp", "bot")),
		ad, store, eng, parser, format, bus, cfg.Telegram.OwnerUserIDs, bot.Options{
			HandlerTimeout: engCfg.SendTimeout * 3,
		})

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notifSvc,
		eng:     eng,
		bot:     botSvc,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())
	if err := a.eng.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

	// Debug visibility into domain events; components subscribe themselves
	// when they need to act on one.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("topic", e.Topic), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts, keeping only the newest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated new config into the running services.
// Logging and the owner allowlist apply live; storage and engine topology
// changes need a restart and only produce a warning.
func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required to take effect")
		case "reminders":
			a.log.Warn("reminders config changed; engine settings apply after restart")
		}
	}

	applyTelegramLogTarget(a.logs, newCfg)
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.bot.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Topic: eventbus.TopicConfigReloaded})
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step end", logx.String("name", name),
					logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("engine", 3*time.Second, func(c context.Context) error { a.eng.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyTelegramLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./remindbot.db"
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

// mapReminderConfig resolves the reminders section into the display offset,
// engine config, and notifier config.
func mapReminderConfig(cfg *config.Config) (time.Duration, engine.Config, notifier.Config, error) {
	rc := cfg.Reminders
	if rc == nil {
		rc = &config.RemindersConfig{}
	}

	offset, err := config.ParseOffsetField("reminders.utc_offset", rc.UTCOffset, 3*time.Hour)
	if err != nil {
		return 0, engine.Config{}, notifier.Config{}, err
	}
	sweep, err := config.ParseDurationOrDefault("reminders.sweep_interval", rc.SweepInterval, time.Minute)
	if err != nil {
		return 0, engine.Config{}, notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("reminders.send_timeout", rc.SendTimeout, 10*time.Second)
	if err != nil {
		return 0, engine.Config{}, notifier.Config{}, err
	}

	engCfg := engine.Config{
		SweepInterval: sweep,
		SendTimeout:   sendTimeout,
		Workers:       rc.Workers,
		QueueSize:     rc.QueueSize,
	}
	ncfg := notifier.Config{
		Workers:     rc.Workers,
		QueueSize:   rc.QueueSize,
		RatePerSec:  rc.RatePerSec,
		SendTimeout: sendTimeout,
	}
	return offset, engCfg, ncfg, nil
}

func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if rc := cfg.Reminders; rc != nil {
		if rc.Workers < 0 {
			return fmt.Errorf("reminders.workers must be >= 0")
		}
		if rc.QueueSize < 0 {
			return fmt.Errorf("reminders.queue_size must be >= 0")
		}
		if rc.RatePerSec < 0 {
			return fmt.Errorf("reminders.rate_per_sec must be >= 0")
		}
	}
	return nil
}
