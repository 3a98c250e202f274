package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	zero "github.com/wdvxdr1123/ZeroBot"
	"github.com/wdvxdr1123/ZeroBot/driver"
	"github.com/wdvxdr1123/ZeroBot/message"

	"github.com/liao/cinema-bot/internal/config"
	"github.com/liao/cinema-bot/internal/history"
	"github.com/liao/cinema-bot/internal/persona"
	"github.com/liao/cinema-bot/internal/pipeline"
)

// Service 机器人依赖的问答与历史操作
type Service interface {
	Answer(ctx context.Context, userID int64, query string) (pipeline.Reply, error)
	History(ctx context.Context, userID int64, limit int) ([]history.Entry, error)
	ClearHistory(ctx context.Context, userID int64) error
}

type Bot struct {
	cfg          config.BotConfig
	svc          Service
	persona      *persona.Persona
	historyLimit int
	startedAt    time.Time
	cancel       context.CancelFunc
}

func New(cfg config.BotConfig, svc Service, p *persona.Persona, historyLimit int) *Bot {
	if historyLimit <= 0 {
		historyLimit = history.DefaultRecentLimit
	}
	return &Bot{
		cfg:          cfg,
		svc:          svc,
		persona:      p,
		historyLimit: historyLimit,
	}
}

// Run 连接 NapCat 并阻塞处理消息
func (b *Bot) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.startedAt = time.Now()

	ws := driver.NewWebSocketClient(
		b.cfg.NapCat.WSURL,
		b.cfg.NapCat.AccessToken,
	)

	zero.OnCommand("start", zero.OnlyPrivate).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(b.persona.Replies.Greeting))
	})
	zero.OnCommand("help", zero.OnlyPrivate).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(b.persona.Replies.Help))
	})
	zero.OnCommand("history", zero.OnlyPrivate).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(b.handleHistory(ctx, zctx.Event.UserID)))
	})
	zero.OnCommand("clear_history", zero.OnlyPrivate).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(b.handleClear(ctx, zctx.Event.UserID)))
	})

	// 管理命令：owner 发 /status 查看状态
	zero.OnCommand("status", zero.OnlyPrivate, b.ownerFilter()).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(fmt.Sprintf("cinema-bot running, uptime %s", time.Since(b.startedAt).Round(time.Second))))
	})

	// 其余私聊文本都当作问题
	zero.OnMessage(zero.OnlyPrivate, notCommand).Handle(func(zctx *zero.Ctx) {
		if answer, ok := b.handleQuery(ctx, zctx.Event.UserID, zctx.ExtractPlainText()); ok {
			zctx.Send(message.Text(answer))
		}
	})

	slog.Info("bot starting", "ws_url", b.cfg.NapCat.WSURL)

	zero.RunAndBlock(&zero.Config{
		NickName:   []string{b.cfg.NickName},
		SuperUsers: []int64{b.cfg.OwnerQQ},
		Driver:     []zero.Driver{ws},
	}, nil)
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// handleQuery 返回要发送的文本，ok 为 false 时不回复（空消息、纯表情/图片等）
func (b *Bot) handleQuery(ctx context.Context, userID int64, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	slog.Info("received message", "from", userID, "text", text)

	reply, err := b.svc.Answer(ctx, userID, text)
	switch {
	case err == nil:
		return reply.Text, true
	case errors.Is(err, pipeline.ErrHistoryWrite):
		// 回答已生成，历史丢一条比吞掉回答代价小
		slog.Warn("answer delivered without history record", "user_id", userID, "request_id", reply.RequestID)
		return reply.Text, true
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return "", false
	default:
		slog.Error("answer failed", "user_id", userID, "error", err)
		return b.persona.Replies.Apology, true
	}
}

func (b *Bot) handleHistory(ctx context.Context, userID int64) string {
	entries, err := b.svc.History(ctx, userID, b.historyLimit)
	if err != nil {
		return b.persona.Replies.StorageFailure
	}
	return b.persona.FormatHistory(entries)
}

func (b *Bot) handleClear(ctx context.Context, userID int64) string {
	if err := b.svc.ClearHistory(ctx, userID); err != nil {
		return b.persona.Replies.StorageFailure
	}
	return b.persona.Replies.HistoryCleared
}

func (b *Bot) ownerFilter() zero.Rule {
	return func(ctx *zero.Ctx) bool {
		return ctx.Event.UserID == b.cfg.OwnerQQ
	}
}

func notCommand(ctx *zero.Ctx) bool {
	return !isCommand(ctx.ExtractPlainText())
}

func isCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}
