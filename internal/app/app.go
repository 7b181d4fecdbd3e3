// Package app wires configuration, transport, stream tracking and commands
// into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"streambot/internal/config"
	"streambot/internal/eventbus"
	"streambot/internal/notifier"
	"streambot/internal/observability/pprof"
	"streambot/internal/runtime/supervisor"
	"streambot/internal/storage"
	"streambot/internal/stream"
	kit "streambot/internal/transport"
	"streambot/internal/transport/discord/adapter"
	"streambot/internal/transport/discord/router"
	logx "streambot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// storage config captured at boot; driver changes need a restart.
	storeCfg     storage.Config
	storeEnabled bool

	adapter *adapter.Discord

	notif *notifier.Service
	prof  *pprof.Service
	hb    *Heartbeat

	registry *stream.Registry
	cooldown *stream.Cooldown
	streams  *stream.Service

	cmdm *router.CommandManager
	serv *router.Services

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "discord"))
	ad, err := adapter.New(adapter.Options{Token: discordToken(cfg), Log: bootLog})
	if err != nil {
		return nil, err
	}

	// Bootstrap with channel mirroring disabled so Apply() doesn't warn before
	// the target channel is set, then apply the real config.
	baseLogCfg := mapLogConfig(cfg)
	finalLogCfg := baseLogCfg
	baseLogCfg.Discord.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	if id := strings.TrimSpace(cfg.Logging.Discord.ChannelID); id != "" {
		logSvc.SetDiscordTarget(id)
	}
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	var store storage.Store
	storeCfg, storeEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if storeEnabled {
		st, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("audit storage enabled", logx.String("driver", storeCfg.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, bus, log.With(logx.String("comp", "notifier")))

	window, err := mapCooldownWindow(cfg)
	if err != nil {
		return nil, err
	}
	registry := stream.NewRegistry()
	cooldown := stream.NewCooldown(window, nil)
	res := stream.NewResolver(ad, log.With(logx.String("comp", "resolver")))

	opts := func() stream.Options { return mapStreamOptions(cfgm.Get()) }
	disp := stream.NewDispatcher(res, cooldown, notif, ad, bus, nil, opts,
		log.With(logx.String("comp", "dispatcher")))
	streams := stream.NewService(registry, disp, ad, bus, nil,
		log.With(logx.String("comp", "stream")))

	serv := &router.Services{
		Registry:  registry,
		Cooldown:  cooldown,
		Notifier:  notif,
		StartedAt: time.Now(),
		Dropped:   ad.Dropped,
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")),
		ad, serv, cfg.Discord.CommandPrefix, cfg.Discord.AdminUserIDs)
	cmdm.SetRegistry(router.Commands())

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		storeCfg:     storeCfg,
		storeEnabled: storeEnabled,
		adapter:      ad,
		notif:        notif,
		prof:         pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof"))),
		hb:           NewHeartbeat(serv, log.With(logx.String("comp", "heartbeat"))),
		registry:     registry,
		cooldown:     cooldown,
		streams:      streams,
		cmdm:         cmdm,
		serv:         serv,
		updates:      make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app's run context ends, including after a fatal
// supervised error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Transactional reload: bad configs are rejected before commit/publish.
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if discordToken(cfg) == "" {
			return fmt.Errorf("discord.token is required (or set DISCORD_TOKEN)")
		}
		if _, err := mapCooldownWindow(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if err := a.hb.ValidateSchedule(cfg.Heartbeat.Schedule); err != nil {
			return fmt.Errorf("heartbeat.schedule: %w", err)
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	cfg := a.cfgm.Get()
	if a.prof.Enabled() {
		a.prof.Start(a.sup.Context())
	}
	a.hb.Apply(cfg.Heartbeat.Enabled, cfg.Heartbeat.Schedule)

	a.sup.Go("commands.workers", a.cmdm.Run)

	// Voice updates are handled inline so transitions for one member are
	// applied in arrival order; commands go to the worker pool.
	a.sup.Go0("events.dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up, ok := <-a.updates:
				if !ok {
					return
				}
				switch up.Kind {
				case kit.UpdateVoice:
					a.streams.HandleVoice(c, up.Voice)
				case kit.UpdateMessage:
					a.cmdm.HandleMessage(c, up)
				}
			}
		}
	})

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if a.store != nil {
					if entry, ok := auditFromEvent(e); ok {
						actx, cancel := context.WithTimeout(c, 2*time.Second)
						if err := a.store.AppendAudit(actx, entry); err != nil {
							a.log.Warn("audit append failed", logx.Err(err))
						}
						cancel()
					}
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
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
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	// systemd integration is best-effort; both calls are no-ops outside units.
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}

	if id := strings.TrimSpace(cfg.Logging.Discord.ChannelID); id != "" {
		a.logs.SetDiscordTarget(id)
	} else {
		a.logs.SetDiscordTarget("")
	}
	a.logs.Apply(mapLogConfig(cfg))

	if window, err := mapCooldownWindow(cfg); err == nil {
		a.cooldown.SetWindow(window)
	}
	a.cmdm.Apply(cfg.Discord.CommandPrefix, cfg.Discord.AdminUserIDs)

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	a.prof.Reconfigure(ctx, mapPprofConfig(cfg))
	a.hb.Apply(cfg.Heartbeat.Enabled, cfg.Heartbeat.Schedule)

	if sc, enabled, err := mapStorageConfig(cfg); err == nil {
		if enabled != a.storeEnabled || sc != a.storeCfg {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded")
}

func auditFromEvent(e eventbus.Event) (storage.AuditEntry, bool) {
	entry := storage.AuditEntry{At: e.Time, Event: e.Type}
	switch d := e.Data.(type) {
	case stream.SessionEvent:
		entry.UserID = d.UserID
		entry.DisplayName = d.DisplayName
		entry.GuildID = d.GuildID
		entry.ChannelID = d.ChannelID
	case stream.NotifyOutcome:
		entry.UserID = d.UserID
		entry.DisplayName = d.DisplayName
		entry.GuildID = d.GuildID
		entry.ChannelID = d.ChannelID
		entry.Detail = d.Reason
	case notifier.DeliveryEvent:
		entry.ChannelID = d.ChannelID
		if d.Error != "" {
			entry.Detail = d.Error
		} else {
			entry.Detail = d.Title
		}
	default:
		return storage.AuditEntry{}, false
	}
	return entry, true
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	a.stopStep(ctx, "heartbeat", 2*time.Second, func(context.Context) error {
		a.hb.Stop()
		return nil
	})
	a.stopStep(ctx, "pprof", time.Second, func(c context.Context) error {
		a.prof.Stop(c)
		return nil
	})
	a.stopStep(ctx, "adapter", 2*time.Second, func(c context.Context) error {
		return a.adapter.Stop(c)
	})
	a.stopStep(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.stopStep(ctx, "supervisor", 3*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stopStep bounds one shutdown step so a stuck component can't stall the
// whole stop sequence.
func (a *App) stopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
		)
	}
}
