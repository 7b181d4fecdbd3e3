package app

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"streambot/internal/transport/discord/router"
	logx "streambot/pkg/logx"
)

const defaultHeartbeatSchedule = "@hourly"

// Heartbeat periodically logs a liveness summary so operators can tell from
// the log stream alone that the bot is still processing events.
type Heartbeat struct {
	log    logx.Logger
	serv   *router.Services
	parser cron.Parser

	mu       sync.Mutex
	c        *cron.Cron
	enabled  bool
	schedule string
}

func NewHeartbeat(serv *router.Services, log logx.Logger) *Heartbeat {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Heartbeat{
		log:  log,
		serv: serv,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// ValidateSchedule reports whether spec parses. Empty means "use default".
func (h *Heartbeat) ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	_, err := h.parser.Parse(spec)
	return err
}

// Apply starts, stops or reschedules the job. Safe to call during hot-reload;
// invalid specs keep the previous state.
func (h *Heartbeat) Apply(enabled bool, schedule string) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultHeartbeatSchedule
	}
	if err := h.ValidateSchedule(schedule); err != nil {
		h.log.Warn("invalid heartbeat schedule; keeping previous",
			logx.String("schedule", schedule),
			logx.Err(err),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	running := h.c != nil
	if enabled == h.enabled && schedule == h.schedule && running == enabled {
		return
	}
	h.stopLocked()
	h.enabled = enabled
	h.schedule = schedule
	if !enabled {
		return
	}

	c := cron.New(cron.WithParser(h.parser))
	if _, err := c.AddFunc(schedule, h.beat); err != nil {
		h.log.Warn("heartbeat schedule rejected", logx.String("schedule", schedule), logx.Err(err))
		return
	}
	c.Start()
	h.c = c
	h.log.Info("heartbeat scheduled", logx.String("schedule", schedule))
}

func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	h.enabled = false
}

func (h *Heartbeat) stopLocked() {
	if h.c == nil {
		return
	}
	ctx := h.c.Stop()
	// Wait for a running beat to finish; it only formats a log line.
	<-ctx.Done()
	h.c = nil
}

func (h *Heartbeat) beat() {
	sent, failed := h.serv.Notifier.Counters()
	var dropped uint64
	if h.serv.Dropped != nil {
		dropped = h.serv.Dropped()
	}
	h.log.Info("heartbeat",
		logx.Duration("uptime", time.Since(h.serv.StartedAt).Round(time.Second)),
		logx.Int("live_streams", h.serv.Registry.Len()),
		logx.Uint64("notifications_sent", sent),
		logx.Uint64("notifications_failed", failed),
		logx.Uint64("updates_dropped", dropped),
	)
}
