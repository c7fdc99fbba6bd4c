package broadcast

import (
	"errors"
	"time"

	"modbot/internal/transport"
)

var (
	ErrNoActiveSession    = errors.New("no active broadcast session")
	ErrEmptySession       = errors.New("broadcast session has no messages")
	ErrUnsupportedContent = errors.New("unsupported message type")
)

// Item is one composed broadcast message. Immutable once appended.
type Item struct {
	Kind    transport.ContentKind
	Text    string // ContentText
	FileID  string // media kinds
	Caption string
}

// ItemFromMessage builds an Item from an inbound message, rejecting content
// kinds the dispatcher cannot restage (polls, locations, ...).
func ItemFromMessage(m *transport.Message) (Item, error) {
	switch m.Kind {
	case transport.ContentText:
		return Item{Kind: m.Kind, Text: m.Text}, nil
	case transport.ContentPhoto, transport.ContentVideo, transport.ContentDocument:
		return Item{Kind: m.Kind, FileID: m.FileID, Caption: m.Caption}, nil
	case transport.ContentSticker:
		return Item{Kind: m.Kind, FileID: m.FileID}, nil
	default:
		return Item{}, ErrUnsupportedContent
	}
}

// Preview is a short human-readable label for append confirmations.
func (it Item) Preview() string {
	switch it.Kind {
	case transport.ContentText:
		return "Text: " + truncate(it.Text, 50)
	case transport.ContentPhoto:
		return withCaption("Photo", it.Caption)
	case transport.ContentVideo:
		return withCaption("Video", it.Caption)
	case transport.ContentDocument:
		return withCaption("Document", it.Caption)
	case transport.ContentSticker:
		return "Sticker"
	default:
		return string(it.Kind)
	}
}

func withCaption(label, caption string) string {
	if caption == "" {
		return label
	}
	return label + " with caption: " + truncate(caption, 30)
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}

type session struct {
	startedAt time.Time
	items     []Item
}

// Report summarizes one dispatch. A chat counts as succeeded only if every
// item in the sequence sent without error.
type Report struct {
	Succeeded       int
	Failed          int
	ItemsPerChat    int
	TotalDeliveries int // Succeeded * ItemsPerChat
	Duration        time.Duration
}
