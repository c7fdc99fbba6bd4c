package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateCommand UpdateKind = "command"
	UpdateMessage UpdateKind = "message"
	UpdateMember  UpdateKind = "member"
)

// Update is a platform-delivered inbound event, already classified.
// Exactly one of Command/Message/Member is set, matching Kind.
type Update struct {
	Kind    UpdateKind
	Command *Command
	Message *Message
	Member  *MemberUpdate
}

// Command is a recognized slash command from a user.
type Command struct {
	Name      string // without the leading slash, e.g. "send_broadcast"
	Args      string
	ChatID    int64
	ChatTitle string
	FromID    int64
	FromName  string
	At        time.Time
}

type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPhoto    ContentKind = "photo"
	ContentVideo    ContentKind = "video"
	ContentDocument ContentKind = "document"
	ContentSticker  ContentKind = "sticker"
	ContentOther    ContentKind = "other"
)

// Message is any non-command message.
type Message struct {
	ID        int
	ChatID    int64
	ChatTitle string
	FromID    int64
	FromName  string

	Kind    ContentKind
	Text    string // ContentText
	FileID  string // media kinds: platform file reference
	Caption string

	At time.Time
}

// MemberUpdate reports a chat_member status transition.
type MemberUpdate struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
	UserName  string
	OldStatus string
	NewStatus string
	At        time.Time
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Gateway is the only way the core talks back to the platform.
type Gateway interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, kind ContentKind, fileID, caption string, opt *SendOptions) (MessageRef, error)
	BanMember(ctx context.Context, chat ChatTarget, userID int64) error
}
