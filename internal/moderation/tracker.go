package moderation

import (
	"sync"
	"time"

	"modbot/pkg/logx"
)

// DefaultBanWindow is the grace period after joining during which leaving
// triggers an automatic ban.
const DefaultBanWindow = time.Hour

type Config struct {
	BanWindow time.Duration
}

type memberKey struct {
	ChatID int64
	UserID int64
}

// Record tracks one active membership. At most one record exists per
// (chat, user); a re-join before a leave overwrites it.
type Record struct {
	JoinTime  time.Time
	UserName  string
	ChatTitle string
}

type OutcomeKind int

const (
	NoAction OutcomeKind = iota
	WithinGracePeriod
	BanRequested
)

// LeaveOutcome is the tracker's decision for one leave transition.
type LeaveOutcome struct {
	Kind      OutcomeKind
	UserID    int64
	UserName  string
	ChatTitle string
	JoinTime  time.Time
	Elapsed   time.Duration
}

// Tracker records join timestamps per (chat, user) and decides, on leave,
// whether the user should be banned.
type Tracker struct {
	mu        sync.Mutex
	banWindow time.Duration
	records   map[memberKey]Record
	log       logx.Logger
}

func NewTracker(cfg Config, log logx.Logger) *Tracker {
	w := cfg.BanWindow
	if w <= 0 {
		w = DefaultBanWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		banWindow: w,
		records:   map[memberKey]Record{},
		log:       log,
	}
}

// SetBanWindow adjusts the grace period at runtime (config reload).
func (t *Tracker) SetBanWindow(w time.Duration) {
	if w <= 0 {
		return
	}
	t.mu.Lock()
	t.banWindow = w
	t.mu.Unlock()
}

// OnJoin upserts the membership record. Repeated joins overwrite, so the
// last join time wins.
func (t *Tracker) OnJoin(chatID int64, chatTitle string, userID int64, userName string, now time.Time) {
	t.mu.Lock()
	t.records[memberKey{ChatID: chatID, UserID: userID}] = Record{
		JoinTime:  now,
		UserName:  userName,
		ChatTitle: chatTitle,
	}
	t.mu.Unlock()

	t.log.Info("user joined",
		logx.Int64("chat_id", chatID),
		logx.Int64("user_id", userID),
		logx.String("user", userName),
		logx.String("chat", chatTitle),
	)
}

// OnLeave consumes the record for (chat, user), if any. The record is removed
// regardless of the outcome so a later re-join/re-leave cycle starts fresh.
// A leave at exactly the ban window is within the grace period.
func (t *Tracker) OnLeave(chatID, userID int64, now time.Time) LeaveOutcome {
	key := memberKey{ChatID: chatID, UserID: userID}

	t.mu.Lock()
	rec, ok := t.records[key]
	if ok {
		delete(t.records, key)
	}
	window := t.banWindow
	t.mu.Unlock()

	if !ok {
		return LeaveOutcome{Kind: NoAction, UserID: userID}
	}

	out := LeaveOutcome{
		UserID:    userID,
		UserName:  rec.UserName,
		ChatTitle: rec.ChatTitle,
		JoinTime:  rec.JoinTime,
		Elapsed:   now.Sub(rec.JoinTime),
	}
	if out.Elapsed < window {
		out.Kind = BanRequested
	} else {
		out.Kind = WithinGracePeriod
	}

	t.log.Info("user left",
		logx.Int64("chat_id", chatID),
		logx.Int64("user_id", userID),
		logx.Duration("elapsed", out.Elapsed),
		logx.Bool("ban", out.Kind == BanRequested),
	)
	return out
}

// Tracked reports the number of active membership records.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
