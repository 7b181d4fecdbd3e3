// Package eventbus is a minimal in-memory fanout used to decouple the stream
// tracker, the notifier, and the audit writer. Publish never blocks; slow
// subscribers lose events.
package eventbus

import (
	"sync"
	"time"
)

// Event types published by the bot's services.
const (
	TypeStreamStarted    = "stream.started"
	TypeStreamStopped    = "stream.stopped"
	TypeNotifySent       = "notify.sent"
	TypeNotifyFailed     = "notify.failed"
	TypeNotifySuppressed = "notify.suppressed"
	TypeNotifySkipped    = "notify.skipped"
)

// Event payloads should stay small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &fanout{subs: make(map[uint64]chan Event)}
}

type fanout struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.offer(ch, e)
	}
}

// offer attempts one non-blocking send. A concurrent unsubscribe may close
// the channel mid-send, so the panic is absorbed here.
func (b *fanout) offer(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
