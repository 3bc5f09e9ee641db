package messaging

import (
	"sync"

	v1 "freework/contracts/realtime/v1"
	"freework/internal/stream"
)

// UnreadTracker maintains the aggregate and per-conversation unread counts.
// The server's totalUnread is authoritative whenever a notification or
// conversation-list response carries one; per-conversation tallies are kept
// locally from the notification flow and cleared on MarkRead.
type UnreadTracker struct {
	mu     sync.Mutex
	total  int
	counts map[string]int
	totals *stream.Stream[int]
}

// NewUnreadTracker returns an empty tracker.
func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{
		counts: make(map[string]int),
		totals: stream.New[int](16, nil),
	}
}

// Observe applies one incoming message notification.
func (u *UnreadTracker) Observe(n v1.NotificationPayload) {
	u.mu.Lock()
	u.total = n.TotalUnread
	if n.ConversationID != "" {
		u.counts[n.ConversationID]++
	}
	total := u.total
	u.mu.Unlock()

	u.totals.Publish(total)
}

// Feed consumes notifications from ch until it is closed. Run it in its own
// goroutine; cancelling the source subscription ends it.
func (u *UnreadTracker) Feed(ch <-chan v1.NotificationPayload) {
	for n := range ch {
		u.Observe(n)
	}
}

// SetTotal installs an authoritative aggregate count, e.g. from a
// conversation-list response.
func (u *UnreadTracker) SetTotal(total int) {
	u.mu.Lock()
	u.total = total
	u.mu.Unlock()

	u.totals.Publish(total)
}

// MarkRead clears a conversation's local tally and deducts it from the
// aggregate.
func (u *UnreadTracker) MarkRead(conversationID string) {
	u.mu.Lock()
	cleared := u.counts[conversationID]
	delete(u.counts, conversationID)
	u.total -= cleared
	if u.total < 0 {
		u.total = 0
	}
	total := u.total
	u.mu.Unlock()

	u.totals.Publish(total)
}

// Reset drops all counts, e.g. on logout.
func (u *UnreadTracker) Reset() {
	u.mu.Lock()
	u.total = 0
	u.counts = make(map[string]int)
	u.mu.Unlock()

	u.totals.Publish(0)
}

// Total returns the aggregate unread count.
func (u *UnreadTracker) Total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// Conversation returns the local unread tally for one conversation.
func (u *UnreadTracker) Conversation(conversationID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[conversationID]
}

// Totals is the aggregate-count stream, primed with the current value.
func (u *UnreadTracker) Totals() (<-chan int, func()) {
	u.mu.Lock()
	current := u.total
	u.mu.Unlock()
	return u.totals.Subscribe(current)
}
