package whatsapp

import "sync"

// UnreadTracker counts inbound messages per chat since the line last spoke
// in it or the phone marked it read. whatsmeow exposes no unread counter.
type UnreadTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewUnreadTracker returns an empty tracker.
func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{counts: make(map[string]int)}
}

// Inbound records one more unread message in chat and returns the new count.
func (u *UnreadTracker) Inbound(chat string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[chat]++
	return u.counts[chat]
}

// Reset marks chat as fully read.
func (u *UnreadTracker) Reset(chat string) {
	u.mu.Lock()
	delete(u.counts, chat)
	u.mu.Unlock()
}

// Count reports the unread count for chat.
func (u *UnreadTracker) Count(chat string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[chat]
}
