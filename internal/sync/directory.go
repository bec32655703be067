package sync

import (
	"sync"

	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
)

// ChannelDirectory derives the ordered channel list and the active selection
// from channel subtree snapshots. It is a pure reducer over the latest
// snapshot: no deltas, no internal concurrency beyond the guarding mutex.
type ChannelDirectory struct {
	mu       sync.Mutex
	channels []models.Channel
	activeID string
}

// NewChannelDirectory creates an empty directory.
func NewChannelDirectory() *ChannelDirectory {
	return &ChannelDirectory{}
}

// Apply rebuilds the list from a full subtree snapshot and re-evaluates the
// selection policy:
//   - nothing active and the list is non-empty: select the first channel;
//   - the active channel vanished: select the first remaining, or none;
//   - otherwise leave the selection alone so the user is never jumped off a
//     still-valid channel.
//
// It returns the active channel id after the rebuild.
func (d *ChannelDirectory) Apply(value store.Value) string {
	channels := models.ChannelsFromValue(value)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = channels

	switch {
	case d.activeID == "" && len(channels) > 0:
		d.activeID = channels[0].ID
	case d.activeID != "" && !containsChannel(channels, d.activeID):
		if len(channels) > 0 {
			d.activeID = channels[0].ID
		} else {
			d.activeID = ""
		}
	}
	return d.activeID
}

// Reset clears the list and selection, e.g. on teardown or identity change.
func (d *ChannelDirectory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = nil
	d.activeID = ""
}

// Channels returns a copy of the current list.
func (d *ChannelDirectory) Channels() []models.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// ActiveID returns the active channel id, or "" when none is selected.
func (d *ChannelDirectory) ActiveID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeID
}

// Active returns the active channel, if any.
func (d *ChannelDirectory) Active() (models.Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		if ch.ID == d.activeID {
			return ch, true
		}
	}
	return models.Channel{}, false
}

// SetActive selects the given channel id. Ids not (yet) present are accepted:
// a just-created channel is selected before its snapshot lands, and the next
// Apply keeps it once present.
func (d *ChannelDirectory) SetActive(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeID = id
}

func containsChannel(channels []models.Channel, id string) bool {
	for _, ch := range channels {
		if ch.ID == id {
			return true
		}
	}
	return false
}
