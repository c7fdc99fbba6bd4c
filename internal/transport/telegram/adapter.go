package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"modbot/internal/transport"
	"modbot/pkg/logx"
)

type Config struct {
	Token string
	// WebhookURL is the public base URL updates are pushed to.
	// The bot token is appended as the path secret.
	WebhookURL string
}

// Gateway implements transport.Gateway over the Telegram Bot API and decodes
// raw webhook payloads into transport updates.
type Gateway struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	botName string
}

func New(cfg Config, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gateway{cfg: cfg, log: log, bot: b}
	if b.Me != nil {
		g.botName = b.Me.Username
	}
	return g, nil
}

// DecodeUpdate converts a raw webhook body into a transport update.
// Unrecognized payloads return ok=false and are dropped by the caller.
func (g *Gateway) DecodeUpdate(raw []byte) (transport.Update, bool) {
	return decodeUpdate(raw, g.botName)
}

func decodeUpdate(raw []byte, botName string) (transport.Update, bool) {
	var u tele.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return transport.Update{}, false
	}

	switch {
	case u.ChatMember != nil:
		cm := u.ChatMember
		if cm.Chat == nil || cm.NewChatMember == nil || cm.OldChatMember == nil || cm.NewChatMember.User == nil {
			return transport.Update{}, false
		}
		return transport.Update{
			Kind: transport.UpdateMember,
			Member: &transport.MemberUpdate{
				ChatID:    cm.Chat.ID,
				ChatTitle: chatTitle(cm.Chat),
				UserID:    cm.NewChatMember.User.ID,
				UserName:  displayName(cm.NewChatMember.User),
				OldStatus: string(cm.OldChatMember.Role),
				NewStatus: string(cm.NewChatMember.Role),
				At:        eventTime(cm.Unixtime),
			},
		}, true

	case u.Message != nil:
		m := u.Message
		if m.Chat == nil || m.Sender == nil {
			return transport.Update{}, false
		}
		if name, args, ok := parseCommand(m.Text, botName); ok {
			return transport.Update{
				Kind: transport.UpdateCommand,
				Command: &transport.Command{
					Name:      name,
					Args:      args,
					ChatID:    m.Chat.ID,
					ChatTitle: chatTitle(m.Chat),
					FromID:    m.Sender.ID,
					FromName:  displayName(m.Sender),
					At:        eventTime(m.Unixtime),
				},
			}, true
		}
		msg := &transport.Message{
			ID:        m.ID,
			ChatID:    m.Chat.ID,
			ChatTitle: chatTitle(m.Chat),
			FromID:    m.Sender.ID,
			FromName:  displayName(m.Sender),
			Caption:   m.Caption,
			At:        eventTime(m.Unixtime),
		}
		switch {
		case m.Text != "":
			msg.Kind = transport.ContentText
			msg.Text = m.Text
		case m.Photo != nil:
			msg.Kind = transport.ContentPhoto
			msg.FileID = m.Photo.FileID
		case m.Video != nil:
			msg.Kind = transport.ContentVideo
			msg.FileID = m.Video.FileID
		case m.Document != nil:
			msg.Kind = transport.ContentDocument
			msg.FileID = m.Document.FileID
		case m.Sticker != nil:
			msg.Kind = transport.ContentSticker
			msg.FileID = m.Sticker.FileID
		default:
			msg.Kind = transport.ContentOther
		}
		return transport.Update{Kind: transport.UpdateMessage, Message: msg}, true
	}

	return transport.Update{}, false
}

// parseCommand splits "/cmd@bot args" into (cmd, args). The @mention is only
// accepted when it addresses this bot.
func parseCommand(text, botName string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if head == "" {
		return "", "", false
	}
	if cmd, mention, found := strings.Cut(head, "@"); found {
		if botName != "" && !strings.EqualFold(mention, botName) {
			return "", "", false
		}
		head = cmd
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func chatTitle(c *tele.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if c.FirstName != "" {
		return strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return "Unknown Chat"
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

func eventTime(unix int64) time.Time {
	if unix == 0 {
		return time.Now()
	}
	return time.Unix(unix, 0)
}

func (g *Gateway) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := g.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (g *Gateway) SendMedia(ctx context.Context, to transport.ChatTarget, kind transport.ContentKind, fileID, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}

	file := tele.File{FileID: fileID}
	var what any
	switch kind {
	case transport.ContentPhoto:
		what = &tele.Photo{File: file, Caption: caption}
	case transport.ContentVideo:
		what = &tele.Video{File: file, Caption: caption}
	case transport.ContentDocument:
		what = &tele.Document{File: file, Caption: caption}
	case transport.ContentSticker:
		what = &tele.Sticker{File: file}
	default:
		return transport.MessageRef{}, errors.New("unsupported media kind: " + string(kind))
	}

	msg, err := g.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (g *Gateway) BanMember(ctx context.Context, chat transport.ChatTarget, userID int64) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return g.bot.Ban(&tele.Chat{ID: chat.ChatID}, &tele.ChatMember{User: &tele.User{ID: userID}})
}

// SetWebhook registers the push endpoint with the Bot API.
func (g *Gateway) SetWebhook(ctx context.Context) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	base := strings.TrimRight(g.cfg.WebhookURL, "/")
	if base == "" {
		return "", errors.New("webhook url is not configured")
	}
	url := base + "/webhook/" + g.cfg.Token
	_, err := g.bot.Raw("setWebhook", map[string]string{
		"url":             url,
		"allowed_updates": `["message","chat_member"]`,
	})
	if err != nil {
		return "", err
	}
	g.log.Info("webhook registered", logx.String("url", base+"/webhook/<token>"))
	return url, nil
}

func (g *Gateway) DeleteWebhook(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	_, err := g.bot.Raw("deleteWebhook", nil)
	return err
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		return &tele.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
