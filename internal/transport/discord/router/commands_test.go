package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"streambot/internal/eventbus"
	"streambot/internal/notifier"
	"streambot/internal/stream"
	kit "streambot/internal/transport"
	logx "streambot/pkg/logx"
)

type reply struct {
	content string
	embed   *kit.Embed
}

type fakeAdapter struct {
	kit.Adapter

	mu      sync.Mutex
	replies []reply
	notify  chan struct{}
	members map[string]kit.Member
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{notify: make(chan struct{}, 16), members: map[string]kit.Member{}}
}

func (a *fakeAdapter) Reply(_ context.Context, _ *kit.Message, content string, embed *kit.Embed) error {
	a.mu.Lock()
	a.replies = append(a.replies, reply{content: content, embed: embed})
	a.mu.Unlock()
	select {
	case a.notify <- struct{}{}:
	default:
	}
	return nil
}

func (a *fakeAdapter) GuildMember(_, userID string) (kit.Member, bool) {
	m, ok := a.members[userID]
	return m, ok
}

func (a *fakeAdapter) last(t *testing.T) reply {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		t.Fatalf("no reply recorded")
	}
	return a.replies[len(a.replies)-1]
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replies)
}

func newServices(adapter kit.Adapter) *Services {
	return &Services{
		Registry:  stream.NewRegistry(),
		Cooldown:  stream.NewCooldown(5*time.Minute, nil),
		Notifier:  notifier.New(notifier.Config{RatePerSec: 1000}, adapter, eventbus.New(), logx.Nop()),
		StartedAt: time.Now(),
	}
}

func testRequest(adapter kit.Adapter, serv *Services, msg *kit.Message) *Request {
	return &Request{
		Msg:      msg,
		Prefix:   "!",
		Adapter:  adapter,
		Logger:   logx.Nop(),
		Services: serv,
	}
}

func TestStreamingCommandEmptyRegistry(t *testing.T) {
	adapter := newFakeAdapter()
	serv := newServices(adapter)
	req := testRequest(adapter, serv, &kit.Message{ChannelID: "c1", Author: kit.Member{ID: "u1"}})

	if err := handleStreaming(context.Background(), req); err != nil {
		t.Fatalf("handleStreaming: %v", err)
	}
	got := adapter.last(t)
	if !strings.Contains(got.content, "目前沒有人在直播") {
		t.Fatalf("reply = %q, want nobody-live message", got.content)
	}
}

func TestStreamingCommandListsSessions(t *testing.T) {
	adapter := newFakeAdapter()
	serv := newServices(adapter)
	started := time.Now().Add(-10 * time.Minute)
	serv.Registry.RecordStart(stream.Session{UserID: "u1", DisplayName: "Alice", ChannelName: "遊戲房", StartedAt: started})
	serv.Registry.RecordStart(stream.Session{UserID: "u2", DisplayName: "Bob", ChannelName: "閒聊", StartedAt: time.Now()})

	req := testRequest(adapter, serv, &kit.Message{ChannelID: "c1", Author: kit.Member{ID: "u1"}})
	if err := handleStreaming(context.Background(), req); err != nil {
		t.Fatalf("handleStreaming: %v", err)
	}

	got := adapter.last(t)
	if got.embed == nil {
		t.Fatalf("reply carried no embed")
	}
	desc := got.embed.Description
	for _, want := range []string{"Alice", "遊戲房", "Bob", "閒聊"} {
		if !strings.Contains(desc, want) {
			t.Fatalf("listing %q missing %q", desc, want)
		}
	}
	if !strings.Contains(desc, "已直播 10 分鐘") || !strings.Contains(desc, "已直播 0 分鐘") {
		t.Fatalf("listing %q missing elapsed minutes", desc)
	}
}

func TestCooldownCommandListsRemaining(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.members["u1"] = kit.Member{ID: "u1", DisplayName: "Alice"}
	serv := newServices(adapter)
	serv.Cooldown.Set("u1")

	req := testRequest(adapter, serv, &kit.Message{GuildID: "g", ChannelID: "c1", Author: kit.Member{ID: "admin"}})
	if err := handleCooldown(context.Background(), req); err != nil {
		t.Fatalf("handleCooldown: %v", err)
	}

	got := adapter.last(t)
	if !strings.Contains(got.content, "Alice: 5 分鐘") {
		t.Fatalf("reply = %q, want Alice with 5 minutes remaining", got.content)
	}
}

func TestCooldownCommandEmpty(t *testing.T) {
	adapter := newFakeAdapter()
	serv := newServices(adapter)

	req := testRequest(adapter, serv, &kit.Message{GuildID: "g", ChannelID: "c1", Author: kit.Member{ID: "admin"}})
	if err := handleCooldown(context.Background(), req); err != nil {
		t.Fatalf("handleCooldown: %v", err)
	}
	if !strings.Contains(adapter.last(t).content, "無用戶在冷卻中") {
		t.Fatalf("reply = %q", adapter.last(t).content)
	}
}

func TestStatusCommand(t *testing.T) {
	adapter := newFakeAdapter()
	serv := newServices(adapter)
	serv.Registry.RecordStart(stream.Session{UserID: "u1", DisplayName: "Alice", StartedAt: time.Now()})
	serv.Cooldown.Set("u1")

	req := testRequest(adapter, serv, &kit.Message{ChannelID: "c1", Author: kit.Member{ID: "admin"}})
	if err := handleStatus(context.Background(), req); err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	got := adapter.last(t)
	for _, want := range []string{"機器人狀態", "目前直播: 1 人", "冷卻記錄: 1 筆"} {
		if !strings.Contains(got.content, want) {
			t.Fatalf("status %q missing %q", got.content, want)
		}
	}
}

func waitForReply(t *testing.T, adapter *fakeAdapter) {
	t.Helper()
	select {
	case <-adapter.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply within deadline")
	}
}

func TestHandleMessageDispatch(t *testing.T) {
	adapter := newFakeAdapter()
	serv := newServices(adapter)
	m := NewCommandManager(logx.Nop(), adapter, serv, "!", nil)
	m.SetRegistry(Commands())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	msg := func(content string) kit.Update {
		return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
			ChannelID: "c1", Author: kit.Member{ID: "u1"}, Content: content,
		}}
	}

	m.HandleMessage(ctx, msg("!test"))
	waitForReply(t, adapter)
	if !strings.Contains(adapter.last(t).content, "正常運作中") {
		t.Fatalf("reply = %q", adapter.last(t).content)
	}

	// Alias routes to the same handler.
	m.HandleMessage(ctx, msg("!live"))
	waitForReply(t, adapter)
	if !strings.Contains(adapter.last(t).content, "目前沒有人在直播") {
		t.Fatalf("reply = %q", adapter.last(t).content)
	}

	// Unknown commands and non-commands stay silent.
	before := adapter.count()
	m.HandleMessage(ctx, msg("!doesnotexist"))
	m.HandleMessage(ctx, msg("hello there"))
	time.Sleep(50 * time.Millisecond)
	if adapter.count() != before {
		t.Fatalf("unexpected reply to unknown command")
	}
}

func TestHandleMessageAdminGate(t *testing.T) {
	adapter := newFakeAdapter()
	serv := newServices(adapter)
	m := NewCommandManager(logx.Nop(), adapter, serv, "!", []string{"boss"})
	m.SetRegistry(Commands())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	// Plain member is denied silently.
	m.HandleMessage(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChannelID: "c1", Author: kit.Member{ID: "u1"}, Content: "!cooldown",
	}})
	time.Sleep(50 * time.Millisecond)
	if adapter.count() != 0 {
		t.Fatalf("non-admin got a reply to an admin command")
	}

	// Configured admin id passes without platform permissions.
	m.HandleMessage(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChannelID: "c1", Author: kit.Member{ID: "boss"}, Content: "!cooldown",
	}})
	waitForReply(t, adapter)
	if !strings.Contains(adapter.last(t).content, "冷卻時間狀態") {
		t.Fatalf("reply = %q", adapter.last(t).content)
	}

	// Platform Administrator permission passes too.
	m.HandleMessage(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChannelID: "c1", Author: kit.Member{ID: "u2"}, Content: "!cooldown", IsAdmin: true,
	}})
	waitForReply(t, adapter)

	// Bot authors never trigger commands.
	m.HandleMessage(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChannelID: "c1", Author: kit.Member{ID: "b1", Bot: true}, Content: "!test",
	}})
	time.Sleep(50 * time.Millisecond)
	if adapter.count() != 2 {
		t.Fatalf("bot message triggered a command")
	}
}

func TestHelpMentionsPrefix(t *testing.T) {
	adapter := newFakeAdapter()
	serv := newServices(adapter)
	req := testRequest(adapter, serv, &kit.Message{ChannelID: "c1", Author: kit.Member{ID: "u1"}})
	req.Prefix = "?"

	if err := handleHelp(context.Background(), req); err != nil {
		t.Fatalf("handleHelp: %v", err)
	}
	got := adapter.last(t)
	if !strings.Contains(got.content, "`?streaming`") || !strings.Contains(got.content, "5分鐘") {
		t.Fatalf("help = %q", got.content)
	}
}
