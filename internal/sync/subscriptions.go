package sync

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/treechat/treechat/internal/logging"
	"github.com/treechat/treechat/internal/store"
)

// Manager owns the lifecycle of the engine's store subscriptions. Each
// logical view holds one slot, keyed by component name; setting a slot with a
// changed key synchronously cancels the previous subscription before the new
// one is established, so two callbacks for the same view never overlap.
type Manager struct {
	store  store.Store
	logger zerolog.Logger

	mu    sync.Mutex
	slots map[string]*slot
	gen   map[string]uint64
}

type slot struct {
	key    string
	cancel store.CancelFunc
}

// NewManager creates a subscription manager over st.
func NewManager(st store.Store) *Manager {
	return &Manager{
		store:  st,
		logger: logging.Component("subscriptions"),
		slots:  make(map[string]*slot),
		gen:    make(map[string]uint64),
	}
}

// Set binds component to a subscription at path. If the slot already holds
// key, the call is a no-op; otherwise the old subscription is torn down
// first. Store errors are logged and delivered as a nil snapshot so the view
// degrades to empty instead of keeping stale data.
func (m *Manager) Set(component, key, path string, onSnapshot store.SnapshotFunc) {
	m.set(component, key, func(snap store.SnapshotFunc, fail store.ErrorFunc) store.CancelFunc {
		return m.store.Subscribe(path, snap, fail)
	}, onSnapshot)
}

// SetRange is Set with a server-side range filter when the backend supports
// it; backends without range support receive a plain subscription and the
// caller filters client-side.
func (m *Manager) SetRange(component, key, path string, q store.Query, onSnapshot store.SnapshotFunc) {
	ranger, ok := m.store.(store.RangeSubscriber)
	if !ok {
		m.Set(component, key, path, onSnapshot)
		return
	}
	m.set(component, key, func(snap store.SnapshotFunc, fail store.ErrorFunc) store.CancelFunc {
		return ranger.SubscribeRange(path, q, snap, fail)
	}, onSnapshot)
}

type subscribeFunc func(store.SnapshotFunc, store.ErrorFunc) store.CancelFunc

func (m *Manager) set(component, key string, subscribe subscribeFunc, onSnapshot store.SnapshotFunc) {
	m.mu.Lock()
	if existing, ok := m.slots[component]; ok {
		if existing.key == key {
			m.mu.Unlock()
			return
		}
		existing.cancel()
		delete(m.slots, component)
	}
	m.gen[component]++
	generation := m.gen[component]
	m.mu.Unlock()

	// The wrapper drops snapshots that arrive after this slot was replaced
	// or cleared, covering backends whose cancel cannot stop an in-flight
	// delivery.
	guarded := func(value store.Value) {
		if !m.isCurrent(component, generation) {
			return
		}
		onSnapshot(value)
	}
	onError := func(err error) {
		if !m.isCurrent(component, generation) {
			return
		}
		m.logger.Warn().Err(err).Str("component", component).Msg("subscription error, treating as empty")
		onSnapshot(nil)
	}

	cancel := subscribe(guarded, onError)

	m.mu.Lock()
	// A concurrent Set/Clear may have superseded this slot while the
	// subscribe call was in flight.
	if m.gen[component] != generation {
		m.mu.Unlock()
		cancel()
		return
	}
	m.slots[component] = &slot{key: key, cancel: cancel}
	m.mu.Unlock()
}

func (m *Manager) isCurrent(component string, generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen[component] == generation
}

// Clear tears down component's subscription, if any. Idempotent.
func (m *Manager) Clear(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.slots[component]; ok {
		existing.cancel()
		delete(m.slots, component)
	}
	m.gen[component]++
}

// Reset tears down every subscription. Used on identity change and shutdown.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for component, existing := range m.slots {
		existing.cancel()
		delete(m.slots, component)
		m.gen[component]++
	}
}

// Active returns the number of live slots.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
