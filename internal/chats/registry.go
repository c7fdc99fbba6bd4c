// Package chats tracks the set of chats the bot has observed activity in.
//
// Chats are never evicted, even if the bot is later removed from one: later
// broadcasts to a stale chat simply fail and are reported as failures.
package chats

import (
	"sort"
	"sync"

	"modbot/internal/transport"
)

type Registry struct {
	mu    sync.RWMutex
	chats map[int64]string // id -> last known title
}

func NewRegistry() *Registry {
	return &Registry{chats: map[int64]string{}}
}

// Register inserts the chat, updating the stored title on repeat sightings.
func (r *Registry) Register(chatID int64, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if title == "" {
		if _, ok := r.chats[chatID]; ok {
			return
		}
	}
	r.chats[chatID] = title
}

// All returns a stable-ordered snapshot of broadcast targets.
func (r *Registry) All() []transport.ChatTarget {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.chats))
	for id := range r.chats {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]transport.ChatTarget, len(ids))
	for i, id := range ids {
		out[i] = transport.ChatTarget{ChatID: id}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats)
}
