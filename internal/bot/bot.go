// Package bot is the core event handler: it routes inbound updates to the
// membership tracker, chat registry and broadcast session store, and issues
// outbound calls through the gateway.
package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"modbot/internal/broadcast"
	"modbot/internal/chats"
	"modbot/internal/moderation"
	"modbot/internal/storage"
	"modbot/internal/transport"
	"modbot/pkg/logx"
)

type Config struct {
	AdminIDs  []int64
	BanWindow time.Duration
}

type Bot struct {
	mu        sync.RWMutex
	admins    map[int64]struct{}
	banWindow time.Duration

	gateway  transport.Gateway
	tracker  *moderation.Tracker
	registry *chats.Registry
	sessions *broadcast.SessionStore
	caster   *broadcast.Service
	store    storage.Store // may be nil
	log      logx.Logger
}

func New(
	cfg Config,
	gateway transport.Gateway,
	tracker *moderation.Tracker,
	registry *chats.Registry,
	sessions *broadcast.SessionStore,
	caster *broadcast.Service,
	store storage.Store,
	log logx.Logger,
) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := cfg.BanWindow
	if w <= 0 {
		w = moderation.DefaultBanWindow
	}
	b := &Bot{
		banWindow: w,
		gateway:   gateway,
		tracker:   tracker,
		registry:  registry,
		sessions:  sessions,
		caster:    caster,
		store:     store,
		log:       log,
	}
	b.SetAdmins(cfg.AdminIDs)
	return b
}

// SetAdmins replaces the operator allow-list (config hot reload).
func (b *Bot) SetAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	b.mu.Lock()
	b.admins = m
	b.mu.Unlock()
}

// SetBanWindow updates the window used in user-facing texts. The tracker
// keeps its own copy for decisions.
func (b *Bot) SetBanWindow(w time.Duration) {
	if w <= 0 {
		return
	}
	b.mu.Lock()
	b.banWindow = w
	b.mu.Unlock()
}

func (b *Bot) isAdmin(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.admins[id]
	return ok
}

func (b *Bot) adminCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.admins)
}

func (b *Bot) window() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.banWindow
}

// HandleUpdate processes one inbound event. Faults are contained here: a
// panic is logged and the event dropped, other in-flight events unaffected.
func (b *Bot) HandleUpdate(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic while handling update",
				logx.String("kind", string(up.Kind)),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	switch up.Kind {
	case transport.UpdateCommand:
		if up.Command != nil {
			b.onCommand(ctx, up.Command)
		}
	case transport.UpdateMessage:
		if up.Message != nil {
			b.onMessage(ctx, up.Message)
		}
	case transport.UpdateMember:
		if up.Member != nil {
			b.onMember(ctx, up.Member)
		}
	}
}

func (b *Bot) onCommand(ctx context.Context, cmd *transport.Command) {
	b.registry.Register(cmd.ChatID, cmd.ChatTitle)

	switch cmd.Name {
	case "start":
		b.reply(ctx, cmd.ChatID, welcomeText(cmd.FromName, b.window()))
	case "help":
		b.reply(ctx, cmd.ChatID, helpText)
	case "stats":
		if !b.requireAdmin(ctx, cmd) {
			return
		}
		b.reply(ctx, cmd.ChatID, statsText(
			b.tracker.Tracked(),
			b.registry.Len(),
			b.sessions.Len(),
			b.window(),
			b.adminCount(),
		))
	case "broadcast":
		if !b.requireAdmin(ctx, cmd) {
			return
		}
		b.sessions.Begin(cmd.FromID, cmd.At)
		b.log.Info("broadcast composing started", logx.Int64("operator", cmd.FromID))
		b.reply(ctx, cmd.ChatID, composeInstructions)
	case "send_broadcast":
		if !b.requireAdmin(ctx, cmd) {
			return
		}
		b.sendBroadcast(ctx, cmd)
	case "cancel_broadcast":
		if !b.requireAdmin(ctx, cmd) {
			return
		}
		n, err := b.sessions.Cancel(cmd.FromID)
		if err != nil {
			b.reply(ctx, cmd.ChatID, "No active broadcast to cancel.")
			return
		}
		b.log.Info("broadcast cancelled", logx.Int64("operator", cmd.FromID), logx.Int("discarded", n))
		b.reply(ctx, cmd.ChatID, cancelledText(n))
	default:
		// Unrecognized commands are not ours to answer.
	}
}

func (b *Bot) requireAdmin(ctx context.Context, cmd *transport.Command) bool {
	if b.isAdmin(cmd.FromID) {
		return true
	}
	b.log.Warn("unauthorized command",
		logx.String("cmd", cmd.Name),
		logx.Int64("from", cmd.FromID),
	)
	b.reply(ctx, cmd.ChatID, notAuthorizedText)
	return false
}

func (b *Bot) sendBroadcast(ctx context.Context, cmd *transport.Command) {
	// Resolve targets before consuming the session: with nowhere to send,
	// the composition stays intact for a later retry.
	targets := b.registry.All()
	if len(targets) == 0 {
		b.reply(ctx, cmd.ChatID, "❌ No active chats found for broadcasting.")
		return
	}

	items, err := b.sessions.TakeForSend(cmd.FromID)
	switch {
	case errors.Is(err, broadcast.ErrNoActiveSession):
		b.reply(ctx, cmd.ChatID, "❌ No messages to broadcast. Use /broadcast first to start collecting messages.")
		return
	case errors.Is(err, broadcast.ErrEmptySession):
		b.reply(ctx, cmd.ChatID, "❌ Nothing to send yet. Compose at least one message first.")
		return
	case err != nil:
		b.log.Error("take for send failed", logx.Int64("operator", cmd.FromID), logx.Err(err))
		return
	}

	operator := cmd.FromID
	replyTo := cmd.ChatID
	jobID, err := b.caster.Enqueue(items, targets, func(rep broadcast.Report) {
		b.recordBroadcast(operator, rep)
		b.reply(context.Background(), replyTo, reportText(rep))
	})
	if err != nil {
		b.log.Warn("broadcast enqueue failed", logx.Int64("operator", operator), logx.Err(err))
		b.reply(ctx, replyTo, "❌ Broadcast queue is busy, try again shortly.")
		return
	}

	b.log.Info("broadcast accepted",
		logx.String("job", jobID),
		logx.Int64("operator", operator),
		logx.Int("items", len(items)),
		logx.Int("targets", len(targets)),
	)
	b.reply(ctx, replyTo, "🔄 Starting broadcast... This may take a while depending on the number of chats.")
}

func (b *Bot) onMessage(ctx context.Context, m *transport.Message) {
	b.registry.Register(m.ChatID, m.ChatTitle)

	// Messages only matter here while their sender is composing a broadcast.
	if !b.sessions.Active(m.FromID) {
		return
	}

	item, err := broadcast.ItemFromMessage(m)
	if errors.Is(err, broadcast.ErrUnsupportedContent) {
		b.reply(ctx, m.ChatID, unsupportedText)
		return
	}
	if err != nil {
		b.log.Error("item build failed", logx.Int64("operator", m.FromID), logx.Err(err))
		return
	}

	n, err := b.sessions.Append(m.FromID, item)
	if err != nil {
		// Session vanished between Active and Append (cancelled or taken).
		b.log.Debug("append raced with session end", logx.Int64("operator", m.FromID))
		return
	}
	b.reply(ctx, m.ChatID, collectedText(item, n))
}

func (b *Bot) onMember(ctx context.Context, mu *transport.MemberUpdate) {
	b.registry.Register(mu.ChatID, mu.ChatTitle)

	switch {
	case moderation.IsJoinTransition(mu.OldStatus, mu.NewStatus):
		b.tracker.OnJoin(mu.ChatID, mu.ChatTitle, mu.UserID, mu.UserName, mu.At)

	case moderation.IsLeaveTransition(mu.OldStatus, mu.NewStatus):
		out := b.tracker.OnLeave(mu.ChatID, mu.UserID, mu.At)
		if out.Kind != moderation.BanRequested {
			return
		}
		b.banLeaver(ctx, mu.ChatID, out)
	}
}

// banLeaver executes a BanRequested outcome. A failed ban is never retried
// and never fatal: the chat gets a best-effort notice instead.
func (b *Bot) banLeaver(ctx context.Context, chatID int64, out moderation.LeaveOutcome) {
	chat := transport.ChatTarget{ChatID: chatID}

	err := b.gateway.BanMember(ctx, chat, out.UserID)
	if err != nil {
		b.log.Error("ban failed",
			logx.Int64("chat_id", chatID),
			logx.Int64("user_id", out.UserID),
			logx.Err(err),
		)
		b.reply(ctx, chatID, banFailedText(out.UserName))
		b.recordBan(chatID, out, false, err)
		return
	}

	b.log.Info("user banned for leaving early",
		logx.Int64("chat_id", chatID),
		logx.Int64("user_id", out.UserID),
		logx.Duration("elapsed", out.Elapsed),
	)
	b.reply(ctx, chatID, bannedText(out, b.window()))
	b.recordBan(chatID, out, true, nil)
}

func (b *Bot) recordBan(chatID int64, out moderation.LeaveOutcome, banned bool, banErr error) {
	if b.store == nil {
		return
	}
	rec := storage.BanRecord{
		At:       time.Now(),
		ChatID:   chatID,
		UserID:   out.UserID,
		UserName: out.UserName,
		Elapsed:  out.Elapsed,
		Banned:   banned,
	}
	if banErr != nil {
		rec.Error = banErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.store.RecordBan(ctx, rec); err != nil {
		b.log.Warn("audit write failed", logx.Err(err))
	}
}

func (b *Bot) recordBroadcast(operator int64, rep broadcast.Report) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := b.store.RecordBroadcast(ctx, storage.BroadcastRecord{
		At:           time.Now(),
		OperatorID:   operator,
		Succeeded:    rep.Succeeded,
		Failed:       rep.Failed,
		ItemsPerChat: rep.ItemsPerChat,
		TookMS:       rep.Duration.Milliseconds(),
	})
	if err != nil {
		b.log.Warn("audit write failed", logx.Err(err))
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	_, err := b.gateway.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil)
	if err != nil {
		b.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
