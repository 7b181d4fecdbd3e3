// Package notifier delivers announcements through the platform adapter with a
// global rate cap. Delivery is synchronous: callers learn whether the send
// succeeded, which the cooldown logic depends on. There is no retry queue;
// a failed announcement is logged, published on the bus and dropped.
package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"streambot/internal/eventbus"
	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

var timeNow = time.Now

type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	histMu  sync.Mutex
	history []HistoryItem
	sent    uint64
	failed  uint64
}

func New(cfg Config, adapter kit.Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		adapter: adapter,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

// Apply swaps the delivery knobs at runtime. The limiter is replaced only
// when the rate actually changed so its token state survives reloads.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	if cfg.RatePerSec != s.cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	s.cfg = cfg
	s.mu.Unlock()
}

// Send delivers one message, blocking on the rate limiter first. ctx cancels
// both the wait and the platform call.
func (s *Service) Send(ctx context.Context, channelID, content string, embed *kit.Embed) error {
	s.mu.Lock()
	limiter := s.limiter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	title := ""
	if embed != nil {
		title = embed.Title
	}

	_, err := s.adapter.SendMessage(sctx, channelID, content, embed)
	if err != nil {
		s.histMu.Lock()
		s.failed++
		s.histMu.Unlock()
		s.log.Warn("delivery failed",
			logx.String("channel_id", channelID),
			logx.Err(err),
		)
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Data: DeliveryEvent{
			ChannelID: channelID, Title: title, Error: err.Error(),
		}})
		return err
	}

	s.recordDelivery(channelID, title)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Data: DeliveryEvent{
		ChannelID: channelID, Title: title,
	}})
	return nil
}

func (s *Service) recordDelivery(channelID, title string) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.sent++

	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.history = append(s.history, HistoryItem{At: timeNow(), ChannelID: channelID, Title: title})
	if over := len(s.history) - max; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// History returns a copy of the recent deliveries, newest last.
func (s *Service) History() []HistoryItem {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// Counters returns total sent and failed deliveries since start.
func (s *Service) Counters() (sent, failed uint64) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return s.sent, s.failed
}
