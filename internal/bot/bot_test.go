package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"modbot/internal/broadcast"
	"modbot/internal/chats"
	"modbot/internal/moderation"
	"modbot/internal/transport"
	"modbot/pkg/logx"
)

type banCall struct {
	chatID int64
	userID int64
}

// fakeGW captures outbound traffic and injects scripted failures.
type fakeGW struct {
	mu       sync.Mutex
	texts    map[int64][]string
	media    map[int64][]string
	bans     []banCall
	banErr   error
	mediaErr map[int64]error
}

func newFakeGW() *fakeGW {
	return &fakeGW{
		texts:    map[int64][]string{},
		media:    map[int64][]string{},
		mediaErr: map[int64]error{},
	}
}

func (f *fakeGW) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[to.ChatID] = append(f.texts[to.ChatID], text)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeGW) SendMedia(_ context.Context, to transport.ChatTarget, kind transport.ContentKind, fileID, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mediaErr[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.media[to.ChatID] = append(f.media[to.ChatID], string(kind)+":"+fileID)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeGW) BanMember(_ context.Context, chat transport.ChatTarget, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banErr != nil {
		return f.banErr
	}
	f.bans = append(f.bans, banCall{chatID: chat.ChatID, userID: userID})
	return nil
}

func (f *fakeGW) textsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[chatID]...)
}

func (f *fakeGW) banCalls() []banCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]banCall(nil), f.bans...)
}

func (f *fakeGW) hasTextContaining(chatID int64, substr string) bool {
	for _, s := range f.textsTo(chatID) {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type fixture struct {
	gw       *fakeGW
	bot      *Bot
	registry *chats.Registry
	tracker  *moderation.Tracker
	sessions *broadcast.SessionStore
	caster   *broadcast.Service
}

const (
	adminID    = int64(42)
	outsiderID = int64(99)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := newFakeGW()
	tracker := moderation.NewTracker(moderation.Config{BanWindow: time.Hour}, logx.Nop())
	registry := chats.NewRegistry()
	sessions := broadcast.NewSessionStore()
	disp := broadcast.NewDispatcher(broadcast.DispatcherConfig{ChatDelay: time.Millisecond}, gw, logx.Nop())
	caster := broadcast.NewService(disp, logx.Nop(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		caster.Stop(context.Background())
		cancel()
	})
	caster.Start(ctx)

	b := New(
		Config{AdminIDs: []int64{adminID}, BanWindow: time.Hour},
		gw, tracker, registry, sessions, caster, nil, logx.Nop(),
	)
	return &fixture{gw: gw, bot: b, registry: registry, tracker: tracker, sessions: sessions, caster: caster}
}

func command(name string, from, chat int64) transport.Update {
	return transport.Update{
		Kind: transport.UpdateCommand,
		Command: &transport.Command{
			Name: name, FromID: from, FromName: "op", ChatID: chat, At: time.Now(),
		},
	}
}

func textMessage(text string, from, chat int64) transport.Update {
	return transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			Kind: transport.ContentText, Text: text, FromID: from, ChatID: chat, At: time.Now(),
		},
	}
}

func memberChange(chat, user int64, oldStatus, newStatus string, at time.Time) transport.Update {
	return transport.Update{
		Kind: transport.UpdateMember,
		Member: &transport.MemberUpdate{
			ChatID: chat, ChatTitle: "Group", UserID: user, UserName: "bob",
			OldStatus: oldStatus, NewStatus: newStatus, At: at,
		},
	}
}

func TestUnauthorizedBroadcastRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, command("broadcast", outsiderID, 500))

	if !f.gw.hasTextContaining(500, "not authorized") {
		t.Fatalf("expected rejection reply, got %v", f.gw.textsTo(500))
	}
	if f.sessions.Active(outsiderID) {
		t.Fatal("no session must be created for an unauthorized operator")
	}

	// A later plain message from the outsider is ignored by the session store.
	f.bot.HandleUpdate(ctx, textMessage("sneaky", outsiderID, 500))
	if got := f.gw.textsTo(500); len(got) != 1 {
		t.Fatalf("message without a session must get no reply, got %v", got)
	}
}

func TestCancelWithoutSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command("cancel_broadcast", adminID, 500))
	if !f.gw.hasTextContaining(500, "No active broadcast to cancel") {
		t.Fatalf("expected no-session reply, got %v", f.gw.textsTo(500))
	}
}

func TestSendWithoutSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command("send_broadcast", adminID, 500))
	if !f.gw.hasTextContaining(500, "No messages to broadcast") {
		t.Fatalf("expected no-session reply, got %v", f.gw.textsTo(500))
	}
}

func TestUnsupportedContentRejectedAtAppend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, command("broadcast", adminID, 500))
	f.bot.HandleUpdate(ctx, transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			Kind: transport.ContentOther, FromID: adminID, ChatID: 500, At: time.Now(),
		},
	})

	if !f.gw.hasTextContaining(500, "Unsupported message type") {
		t.Fatalf("expected unsupported reply, got %v", f.gw.textsTo(500))
	}
	if _, err := f.sessions.TakeForSend(adminID); !errors.Is(err, broadcast.ErrEmptySession) {
		t.Fatalf("unsupported item must not be appended, err = %v", err)
	}
}

func TestBroadcastFlowWithPartialFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Known chats: 100 (also where the operator talks to the bot) and 200.
	f.registry.Register(100, "a")
	f.registry.Register(200, "b")
	// Chat 200 rejects media sends.
	f.gw.mediaErr[200] = errors.New("media rejected")

	f.bot.HandleUpdate(ctx, command("broadcast", adminID, 100))
	f.bot.HandleUpdate(ctx, textMessage("hello", adminID, 100))
	f.bot.HandleUpdate(ctx, transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			Kind: transport.ContentPhoto, FileID: "p1", FromID: adminID, ChatID: 100, At: time.Now(),
		},
	})

	if !f.gw.hasTextContaining(100, "Total collected: 2") {
		t.Fatalf("expected collection confirmations, got %v", f.gw.textsTo(100))
	}

	f.bot.HandleUpdate(ctx, command("send_broadcast", adminID, 100))

	waitFor(t, func() bool { return f.gw.hasTextContaining(100, "Broadcast Completed") })

	if !f.gw.hasTextContaining(100, "Successful: 1 chats") {
		t.Fatalf("report should count 1 success, got %v", f.gw.textsTo(100))
	}
	if !f.gw.hasTextContaining(100, "Failed: 1 chats") {
		t.Fatalf("report should count 1 failure, got %v", f.gw.textsTo(100))
	}
	if !f.gw.hasTextContaining(100, "Total deliveries: 2") {
		t.Fatalf("report should count succeeded*items deliveries, got %v", f.gw.textsTo(100))
	}

	// The session is consumed by a successful send.
	if f.sessions.Active(adminID) {
		t.Fatal("session must be gone after send")
	}
}

func TestEarlyLeaverIsBanned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	f.bot.HandleUpdate(ctx, memberChange(100, 7, moderation.StatusLeft, moderation.StatusMember, t0))
	f.bot.HandleUpdate(ctx, memberChange(100, 7, moderation.StatusMember, moderation.StatusLeft, t0.Add(30*time.Minute)))

	calls := f.gw.banCalls()
	if len(calls) != 1 || calls[0] != (banCall{chatID: 100, userID: 7}) {
		t.Fatalf("ban calls = %v, want one ban of user 7 in chat 100", calls)
	}
	if !f.gw.hasTextContaining(100, "User Banned") {
		t.Fatalf("expected ban notification, got %v", f.gw.textsTo(100))
	}
}

func TestLateLeaverIsNotBanned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	f.bot.HandleUpdate(ctx, memberChange(100, 7, moderation.StatusLeft, moderation.StatusMember, t0))
	f.bot.HandleUpdate(ctx, memberChange(100, 7, moderation.StatusMember, moderation.StatusLeft, t0.Add(2*time.Hour)))

	if calls := f.gw.banCalls(); len(calls) != 0 {
		t.Fatalf("ban calls = %v, want none", calls)
	}
}

func TestBanFailureStillCompletesLeave(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()
	f.gw.banErr = errors.New("not enough rights")

	f.bot.HandleUpdate(ctx, memberChange(100, 7, moderation.StatusLeft, moderation.StatusMember, t0))
	f.bot.HandleUpdate(ctx, memberChange(100, 7, moderation.StatusMember, moderation.StatusLeft, t0.Add(time.Minute)))

	if !f.gw.hasTextContaining(100, "Could not ban user") {
		t.Fatalf("expected best-effort failure notice, got %v", f.gw.textsTo(100))
	}
	// The record was consumed despite the failed ban.
	if f.tracker.Tracked() != 0 {
		t.Fatalf("Tracked = %d, want 0", f.tracker.Tracked())
	}
	// And the failure is never retried on a repeat leave event.
	f.bot.HandleUpdate(ctx, memberChange(100, 7, moderation.StatusMember, moderation.StatusLeft, t0.Add(2*time.Minute)))
	if !f.gw.hasTextContaining(100, "Could not ban user") {
		t.Fatal("unexpected state after duplicate leave")
	}
}

func TestStatsRequiresAdmin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.bot.HandleUpdate(ctx, command("stats", outsiderID, 500))
	if !f.gw.hasTextContaining(500, "not authorized") {
		t.Fatalf("expected rejection, got %v", f.gw.textsTo(500))
	}

	f.bot.HandleUpdate(ctx, command("stats", adminID, 500))
	if !f.gw.hasTextContaining(500, "Bot Statistics") {
		t.Fatalf("expected stats reply, got %v", f.gw.textsTo(500))
	}
}

func TestCommandsRegisterChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.bot.HandleUpdate(context.Background(), command("start", outsiderID, 777))
	if f.registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", f.registry.Len())
	}
}

func TestSendKeepsSessionWhenNoTargets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.sessions.Begin(adminID, time.Now())
	if _, err := f.sessions.Append(adminID, broadcast.Item{Kind: transport.ContentText, Text: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Bypass onCommand so the commanding chat is not registered: the
	// registry is genuinely empty.
	f.bot.sendBroadcast(ctx, &transport.Command{Name: "send_broadcast", FromID: adminID, ChatID: 500, At: time.Now()})

	if !f.gw.hasTextContaining(500, "No active chats") {
		t.Fatalf("expected no-targets reply, got %v", f.gw.textsTo(500))
	}
	items, err := f.sessions.TakeForSend(adminID)
	if err != nil {
		t.Fatalf("session must survive a send with no targets, err = %v", err)
	}
	if len(items) != 1 || items[0].Text != "hello" {
		t.Fatalf("items = %v, want the original composition", items)
	}
}

// panicGW panics on sends to one chat, everything else behaves.
type panicGW struct {
	*fakeGW
	panicChat int64
}

func (p *panicGW) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if to.ChatID == p.panicChat {
		panic("gateway exploded")
	}
	return p.fakeGW.SendText(ctx, to, text, opt)
}

func TestHandleUpdateRecoversFromPanic(t *testing.T) {
	t.Parallel()
	gw := &panicGW{fakeGW: newFakeGW(), panicChat: 666}
	tracker := moderation.NewTracker(moderation.Config{BanWindow: time.Hour}, logx.Nop())
	registry := chats.NewRegistry()
	sessions := broadcast.NewSessionStore()
	disp := broadcast.NewDispatcher(broadcast.DispatcherConfig{ChatDelay: time.Millisecond}, gw, logx.Nop())
	caster := broadcast.NewService(disp, logx.Nop(), 4)
	b := New(
		Config{AdminIDs: []int64{adminID}, BanWindow: time.Hour},
		gw, tracker, registry, sessions, caster, nil, logx.Nop(),
	)
	ctx := context.Background()

	// The reply to chat 666 panics inside the gateway; the event is dropped
	// at the handling boundary instead of unwinding into the caller.
	b.HandleUpdate(ctx, command("help", outsiderID, 666))

	// Later events are unaffected.
	b.HandleUpdate(ctx, command("help", outsiderID, 500))
	if !gw.hasTextContaining(500, "Available Commands") {
		t.Fatalf("events after a recovered panic must still process, got %v", gw.textsTo(500))
	}
	if registry.Len() != 2 {
		t.Fatalf("registry len = %d, want both chats registered", registry.Len())
	}
}
