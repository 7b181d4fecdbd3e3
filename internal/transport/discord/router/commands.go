package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"streambot/internal/notifier"
	"streambot/internal/runtime/supervisor"
	"streambot/internal/stream"
	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Services exposes the shared bot state command handlers read.
type Services struct {
	Registry  *stream.Registry
	Cooldown  *stream.Cooldown
	Notifier  *notifier.Service
	StartedAt time.Time

	// Dropped reports how many gateway updates were discarded so far.
	// May be nil in minimal/test environments.
	Dropped func() uint64
}

type Request struct {
	Update  kit.Update
	Msg     *kit.Message
	Command string
	Args    []string
	Prefix  string
	ReqID   string
	IsAdmin bool

	Adapter  kit.Adapter
	Logger   logx.Logger
	Services *Services
}

// ReplyText replies to the triggering message with plain text.
func (r *Request) ReplyText(ctx context.Context, text string) error {
	return r.Adapter.Reply(ctx, r.Msg, text, nil)
}

// ReplyEmbed replies to the triggering message with an embed.
func (r *Request) ReplyEmbed(ctx context.Context, embed *kit.Embed) error {
	return r.Adapter.Reply(ctx, r.Msg, "", embed)
}

type CommandManager struct {
	mu     sync.RWMutex
	cmds   map[string]*Command // name and aliases, lower-cased
	prefix string
	admins []string

	log     logx.Logger
	adapter kit.Adapter
	serv    *Services

	jobs      chan func()
	closeOnce sync.Once
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, serv *Services, prefix string, admins []string) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if prefix == "" {
		prefix = "!"
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		prefix:  prefix,
		admins:  append([]string(nil), admins...),
		log:     log,
		adapter: adapter,
		serv:    serv,
		jobs:    make(chan func(), 256),
	}
}

func (m *CommandManager) SetRegistry(cmds []Command) {
	reg := map[string]*Command{}
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		cc := c // copy
		reg[strings.ToLower(cc.Name)] = &cc
		for _, a := range cc.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, exists := reg[a]; !exists {
				reg[a] = &cc
			}
		}
	}
	m.mu.Lock()
	m.cmds = reg
	m.mu.Unlock()
}

// Apply updates the prefix and admin list. Safe to call during hot-reload.
func (m *CommandManager) Apply(prefix string, admins []string) {
	if prefix == "" {
		prefix = "!"
	}
	m.mu.Lock()
	m.prefix = prefix
	m.admins = append([]string(nil), admins...)
	m.mu.Unlock()
}

// Run owns the bounded worker pool executing command handlers. It blocks
// until ctx is canceled, then drains briefly.
func (m *CommandManager) Run(ctx context.Context) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(m.log.With(logx.String("comp", "discord.router"))),
		supervisor.WithCancelOnError(false),
	)

	m.log.Info("command workers started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already catches panics; keep workers alive
					// if one slips through anyway.
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job",
									logx.Int("worker", idx),
									logx.Any("panic", r),
									logx.String("stack", string(debug.Stack())),
								)
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	<-ctx.Done()
	m.closeOnce.Do(func() { close(m.jobs) })
	wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	_ = sup.Wait(wctx)
	cancel()
	m.log.Info("command workers stopped")
	return nil
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// HandleMessage parses one inbound message and enqueues the matched command.
// Non-commands and unknown commands are ignored without a reply.
func (m *CommandManager) HandleMessage(ctx context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	if msg.Author.Bot {
		return
	}

	m.mu.RLock()
	prefix := m.prefix
	admins := append([]string(nil), m.admins...)
	m.mu.RUnlock()

	text := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(text, prefix) {
		return
	}
	parts := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(parts[0])
	args := parts[1:]

	m.mu.RLock()
	cmd, found := m.cmds[word]
	m.mu.RUnlock()
	if !found {
		m.log.Debug("unknown command ignored", logx.String("cmd", word))
		return
	}

	isAdmin := msg.IsAdmin || containsID(admins, msg.Author.ID)
	if cmd.Access == AccessAdminOnly && !isAdmin {
		// Matches the platform convention of not advertising admin commands.
		m.log.Debug("admin command denied",
			logx.String("cmd", cmd.Name),
			logx.String("from", msg.Author.ID),
		)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Msg:     msg,
		Command: cmd.Name,
		Args:    args,
		Prefix:  prefix,
		ReqID:   rid,
		IsAdmin: isAdmin,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("cmd", cmd.Name),
			logx.String("from", msg.Author.ID),
		),
		Services: m.serv,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.log.Warn("command dropped (job queue full)", logx.String("cmd", cmd.Name))
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

var ridSeq atomic.Uint64

func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36)
}
