package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
)

// UnreadCounters maintains one live counter per DM thread: the number of
// messages authored by the peer with createdAt above the owner's read
// watermark. Counter subscriptions follow the thread set; threads that leave
// the index get their counter torn down, never leaked.
type UnreadCounters struct {
	selfID   string
	manager  *Manager
	useRange bool
	onChange func()

	mu         sync.Mutex
	counts     map[string]int
	watermarks map[string]int64
	now        func() int64
}

// NewUnreadCounters creates counters for the given owner. useRange enables
// server-side range subscriptions where the backend supports them.
func NewUnreadCounters(st store.Store, selfID string, useRange bool, onChange func()) *UnreadCounters {
	return &UnreadCounters{
		selfID:     selfID,
		manager:    NewManager(st),
		useRange:   useRange,
		onChange:   onChange,
		counts:     make(map[string]int),
		watermarks: make(map[string]int64),
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// SyncThreads reconciles the counter set with the current thread list.
func (u *UnreadCounters) SyncThreads(threads []models.DMThread) {
	current := make(map[string]bool, len(threads))
	for _, thread := range threads {
		current[thread.PeerID] = true
	}

	u.mu.Lock()
	var removed []string
	for peerID := range u.watermarks {
		if !current[peerID] {
			removed = append(removed, peerID)
			delete(u.watermarks, peerID)
			delete(u.counts, peerID)
		}
	}
	u.mu.Unlock()

	for _, peerID := range removed {
		u.manager.Clear(counterComponent(peerID))
	}

	for _, thread := range threads {
		u.track(thread)
	}

	if len(removed) > 0 && u.onChange != nil {
		u.onChange()
	}
}

func (u *UnreadCounters) track(thread models.DMThread) {
	u.mu.Lock()
	previous, known := u.watermarks[thread.PeerID]
	// A locally advanced watermark (MarkRead) may be ahead of the store's
	// echo; never move backwards.
	if known && previous > thread.LastReadAt {
		u.mu.Unlock()
		return
	}
	u.watermarks[thread.PeerID] = thread.LastReadAt
	u.mu.Unlock()

	peerID := thread.PeerID
	path := store.DirectMessagesPath(thread.ConversationID)
	onSnapshot := func(value store.Value) {
		u.recount(peerID, value)
	}

	// The slot key carries the watermark so a changed lastReadAt swaps the
	// subscription instead of stacking a second one.
	key := fmt.Sprintf("%s@%d", thread.ConversationID, thread.LastReadAt)
	if u.useRange && thread.LastReadAt > 0 {
		q := store.Query{OrderBy: "createdAt", StartAt: thread.LastReadAt + 1}
		u.manager.SetRange(counterComponent(peerID), key, path, q, onSnapshot)
	} else {
		u.manager.Set(counterComponent(peerID), key, path, onSnapshot)
	}
}

// recount recomputes one peer's unread count from a conversation snapshot.
// The watermark is read at count time, so a local MarkRead applies to
// snapshots already in flight. Self-authored messages never count.
func (u *UnreadCounters) recount(peerID string, value store.Value) {
	u.mu.Lock()
	watermark, tracked := u.watermarks[peerID]
	u.mu.Unlock()
	if !tracked {
		return
	}

	count := 0
	for _, msg := range models.DMMessagesFromValue(value) {
		if msg.CreatedAt > watermark && msg.From.ID != u.selfID {
			count++
		}
	}

	u.mu.Lock()
	changed := u.counts[peerID] != count
	u.counts[peerID] = count
	u.mu.Unlock()

	if changed && u.onChange != nil {
		u.onChange()
	}
}

// MarkRead advances the local watermark to now and zeroes the peer's count
// synchronously, so the badge clears before the authoritative lastReadAt
// write round-trips.
func (u *UnreadCounters) MarkRead(peerID string) {
	u.mu.Lock()
	if _, tracked := u.watermarks[peerID]; tracked {
		u.watermarks[peerID] = u.now()
	}
	changed := u.counts[peerID] != 0
	u.counts[peerID] = 0
	u.mu.Unlock()

	if changed && u.onChange != nil {
		u.onChange()
	}
}

// Counts returns a copy of the per-peer unread counts.
func (u *UnreadCounters) Counts() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int, len(u.counts))
	for peerID, count := range u.counts {
		out[peerID] = count
	}
	return out
}

// Count returns one peer's unread count.
func (u *UnreadCounters) Count(peerID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[peerID]
}

// Close tears down every counter subscription.
func (u *UnreadCounters) Close() {
	u.manager.Reset()
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts = make(map[string]int)
	u.watermarks = make(map[string]int64)
}

func counterComponent(peerID string) string {
	return "unread:" + peerID
}
