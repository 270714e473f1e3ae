package chatclient

import (
	"sort"
	"time"
)

type typingKey struct {
	roomID string
	userID string
}

type typingFlag struct {
	timer *time.Timer
	gen   uint64
}

// TypingIndicator holds the remote typing flags. Every flag is armed with an
// expiry timer that is re-armed on each refresh, so a lost "stopped typing"
// signal cannot leave a flag stuck.
type TypingIndicator struct {
	flags map[typingKey]*typingFlag
}

func NewTypingIndicator() *TypingIndicator {
	return &TypingIndicator{flags: make(map[typingKey]*typingFlag)}
}

// SetTyping sets or clears a flag. When setting, expire is scheduled after
// expiry with the generation it must present to Expire. It reports whether the
// visible state changed.
func (t *TypingIndicator) SetTyping(roomID, userID string, isTyping bool, expiry time.Duration, expire func(gen uint64)) bool {
	k := typingKey{roomID, userID}
	f, exists := t.flags[k]

	if !isTyping {
		if !exists {
			return false
		}
		f.timer.Stop()
		delete(t.flags, k)
		return true
	}

	if exists {
		f.timer.Stop()
	} else {
		f = &typingFlag{}
		t.flags[k] = f
	}
	f.gen++
	gen := f.gen
	f.timer = time.AfterFunc(expiry, func() { expire(gen) })
	return !exists
}

// Expire clears a flag if it has not been refreshed since generation gen.
func (t *TypingIndicator) Expire(roomID, userID string, gen uint64) bool {
	k := typingKey{roomID, userID}
	f, ok := t.flags[k]
	if !ok || f.gen != gen {
		return false
	}
	delete(t.flags, k)
	return true
}

func (t *TypingIndicator) IsTyping(roomID, userID string) bool {
	_, ok := t.flags[typingKey{roomID, userID}]
	return ok
}

// TypingUsers lists who is typing in a room, sorted.
func (t *TypingIndicator) TypingUsers(roomID string) []string {
	var users []string
	for k := range t.flags {
		if k.roomID == roomID {
			users = append(users, k.userID)
		}
	}
	sort.Strings(users)
	return users
}

// Clear drops every flag and stops their timers.
func (t *TypingIndicator) Clear() bool {
	if len(t.flags) == 0 {
		return false
	}
	for k, f := range t.flags {
		f.timer.Stop()
		delete(t.flags, k)
	}
	return true
}
