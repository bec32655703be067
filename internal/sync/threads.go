package sync

import (
	"sync"

	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
)

// ThreadIndex derives the owner's DM thread list from thread metadata
// snapshots, sorted descending by last activity. Like the channel directory
// it is a reducer over whole snapshots.
type ThreadIndex struct {
	mu      sync.Mutex
	ownerID string
	threads []models.DMThread
}

// NewThreadIndex creates an index for the given owner.
func NewThreadIndex(ownerID string) *ThreadIndex {
	return &ThreadIndex{ownerID: ownerID}
}

// Apply rebuilds the thread list from a metadata subtree snapshot.
func (t *ThreadIndex) Apply(value store.Value) []models.DMThread {
	threads := models.DMThreadsFromValue(t.ownerID, value)
	t.mu.Lock()
	t.threads = threads
	t.mu.Unlock()
	return t.Threads()
}

// Reset clears the list.
func (t *ThreadIndex) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threads = nil
}

// Threads returns a copy of the current list.
func (t *ThreadIndex) Threads() []models.DMThread {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.DMThread, len(t.threads))
	copy(out, t.threads)
	return out
}

// Get returns the thread for a peer, if present.
func (t *ThreadIndex) Get(peerID string) (models.DMThread, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, thread := range t.threads {
		if thread.PeerID == peerID {
			return thread, true
		}
	}
	return models.DMThread{}, false
}
