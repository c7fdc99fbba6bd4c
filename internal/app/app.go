// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"modbot/internal/bot"
	"modbot/internal/broadcast"
	"modbot/internal/chats"
	"modbot/internal/config"
	"modbot/internal/moderation"
	"modbot/internal/server"
	"modbot/internal/storage"
	"modbot/internal/transport/telegram"
	"modbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     config.Config

	logs *logx.Service
	log  logx.Logger

	gateway  *telegram.Gateway
	tracker  *moderation.Tracker
	registry *chats.Registry
	sessions *broadcast.SessionStore
	caster   *broadcast.Service
	core     *bot.Bot
	queue    *bot.Queue
	srv      *server.Server
	store    storage.Store
	cron     *cron.Cron

	sessionTTL atomic.Int64 // nanoseconds; read by the cron sweep
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	dur, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a := &App{cfgPath: cfgPath, cfg: cfg, logs: logs, log: log}
	a.sessionTTL.Store(int64(dur.SessionTTL))

	a.store, err = storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: dur.BusyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	a.gateway, err = telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		WebhookURL: cfg.Telegram.WebhookURL,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	a.tracker = moderation.NewTracker(
		moderation.Config{BanWindow: dur.BanWindow},
		log.With(logx.String("comp", "moderation")),
	)
	a.registry = chats.NewRegistry()
	a.sessions = broadcast.NewSessionStore()

	disp := broadcast.NewDispatcher(broadcast.DispatcherConfig{
		ChatDelay: dur.ChatDelay,
		ItemDelay: dur.ItemDelay,
	}, a.gateway, log.With(logx.String("comp", "broadcast")))
	a.caster = broadcast.NewService(disp, log.With(logx.String("comp", "broadcast")), cfg.Broadcast.QueueSize)

	a.core = bot.New(
		bot.Config{AdminIDs: cfg.Telegram.AdminIDs, BanWindow: dur.BanWindow},
		a.gateway, a.tracker, a.registry, a.sessions, a.caster, a.store,
		log.With(logx.String("comp", "bot")),
	)
	a.queue = bot.NewQueue(a.core, log.With(logx.String("comp", "queue")), cfg.Inbound.Workers, cfg.Inbound.QueueSize)

	a.srv = server.New(server.Config{
		ListenAddr: cfg.Server.ListenAddr,
		Token:      cfg.Telegram.Token,
	}, a.gateway, a.gateway, a.queue.Enqueue, log.With(logx.String("comp", "http")))

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(cfg.Broadcast.SweepSchedule, a.sweepSessions); err != nil {
		return nil, err
	}

	if len(cfg.Telegram.AdminIDs) == 0 {
		log.Warn("no admin ids configured; admin commands will be rejected for everyone")
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.caster.Start(ctx)
	a.queue.Start(ctx)
	a.srv.Start(ctx)
	a.cron.Start()

	if a.cfg.Telegram.WebhookURL != "" {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := a.gateway.SetWebhook(rctx); err != nil {
			// Not fatal: /set_webhook can be hit manually once the bot is up.
			a.log.Warn("webhook registration failed", logx.Err(err))
		}
	}

	if err := config.Watch(ctx, a.cfgPath, a.log.With(logx.String("comp", "config")), a.applyReload); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
	}

	a.log.Info("modbot started", logx.String("addr", a.cfg.Server.ListenAddr))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.cron.Stop()
	a.srv.Stop(ctx)
	a.queue.Stop(ctx)
	a.caster.Stop(ctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return nil
}

// applyReload picks up the live-tunable settings: operator list, ban window,
// session TTL and log level. Everything else needs a restart.
func (a *App) applyReload(cfg config.Config) {
	dur, err := cfg.Durations()
	if err != nil {
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return
	}

	a.core.SetAdmins(cfg.Telegram.AdminIDs)
	a.tracker.SetBanWindow(dur.BanWindow)
	a.core.SetBanWindow(dur.BanWindow)
	a.sessionTTL.Store(int64(dur.SessionTTL))

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
}

// sweepSessions expires abandoned composing sessions so they don't retain
// memory forever.
func (a *App) sweepSessions() {
	ttl := time.Duration(a.sessionTTL.Load())
	if ttl <= 0 {
		return
	}
	if n := a.sessions.ExpireOlderThan(time.Now().Add(-ttl)); n > 0 {
		a.log.Info("expired stale broadcast sessions", logx.Int("count", n))
	}
}
