package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"streambot/internal/stream"
	kit "streambot/internal/transport"
)

const commandTimeout = 10 * time.Second

// Commands returns the built-in command set.
func Commands() []Command {
	return []Command{
		{
			Name:        "help",
			Aliases:     []string{"stream"},
			Description: "顯示使用說明",
			Access:      AccessEveryone,
			Timeout:     commandTimeout,
			Handle:      handleHelp,
		},
		{
			Name:        "streaming",
			Aliases:     []string{"live"},
			Description: "查看當前直播列表",
			Access:      AccessEveryone,
			Timeout:     commandTimeout,
			Handle:      handleStreaming,
		},
		{
			Name:        "test",
			Description: "測試機器人狀態",
			Access:      AccessEveryone,
			Timeout:     commandTimeout,
			Handle:      handleTest,
		},
		{
			Name:        "cooldown",
			Description: "查看用戶冷卻狀態",
			Access:      AccessAdminOnly,
			Timeout:     commandTimeout,
			Handle:      handleCooldown,
		},
		{
			Name:        "status",
			Description: "查看機器人運行狀態",
			Access:      AccessAdminOnly,
			Timeout:     commandTimeout,
			Handle:      handleStatus,
		},
	}
}

func handleHelp(ctx context.Context, req *Request) error {
	window := int(req.Services.Cooldown.Window().Minutes())
	p := req.Prefix
	text := fmt.Sprintf(`🔴 **直播通知機器人使用說明**

**🎮 功能：**
• 自動監測語音頻道的直播活動
• 當有人開始分享畫面時自動通知
• 顯示直播者資訊和語音頻道

**📋 指令：**
• `+"`%sstreaming`"+` - 查看當前直播列表
• `+"`%stest`"+` - 測試機器人狀態
• `+"`%shelp`"+` - 顯示此說明

**⚙️ 設定：**
• 同一人%d分鐘內只會通知一次（避免騷擾）
• 自動尋找合適的通知頻道發送訊息`, p, p, p, window)
	return req.ReplyText(ctx, text)
}

func handleStreaming(ctx context.Context, req *Request) error {
	sessions := req.Services.Registry.Sessions()
	if len(sessions) == 0 {
		return req.ReplyText(ctx, "📭 目前沒有人在直播")
	}

	now := time.Now()
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "**%s** 在 **%s**\n已直播 %d 分鐘\n\n",
			s.DisplayName, s.ChannelName, stream.ElapsedMinutes(now, s.StartedAt))
	}

	return req.ReplyEmbed(ctx, &kit.Embed{
		Title:       "🔴 目前直播列表",
		Description: b.String(),
		Color:       0xFF0000,
		Timestamp:   now,
	})
}

func handleTest(ctx context.Context, req *Request) error {
	return req.ReplyText(ctx, "✅ 直播通知機器人正常運作中！正在監聽語音頻道的直播活動。")
}

func handleCooldown(ctx context.Context, req *Request) error {
	cd := req.Services.Cooldown
	snap := cd.Snapshot()

	var lines []string
	for userID := range snap {
		name := userID
		if m, ok := req.Adapter.GuildMember(req.Msg.GuildID, userID); ok {
			name = m.DisplayName
		}
		remaining := ceilMinutes(cd.Remaining(userID))
		lines = append(lines, fmt.Sprintf("%s: %d 分鐘", name, remaining))
	}

	body := strings.Join(lines, "\n")
	if body == "" {
		body = "無用戶在冷卻中"
	}
	return req.ReplyText(ctx, "⏰ **冷卻時間狀態：**\n"+body)
}

func handleStatus(ctx context.Context, req *Request) error {
	serv := req.Services
	sent, failed := serv.Notifier.Counters()
	var dropped uint64
	if serv.Dropped != nil {
		dropped = serv.Dropped()
	}

	text := fmt.Sprintf(`📊 **機器人狀態**
運行時間: %s
目前直播: %d 人
冷卻記錄: %d 筆
已發送通知: %d
發送失敗: %d
丟棄事件: %d`,
		time.Since(serv.StartedAt).Round(time.Second),
		serv.Registry.Len(),
		len(serv.Cooldown.Snapshot()),
		sent, failed, dropped,
	)
	return req.ReplyText(ctx, text)
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
