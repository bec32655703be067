// Package memstore implements the tree store contract in memory. It mirrors
// the backend's observable semantics: whole-subtree snapshots, ordered
// delivery per subscription, atomic multi-path writes and path-scoped
// permission rules. Used by tests and by the CLI's local mode.
package memstore

import (
	"context"
	"sync"

	"github.com/treechat/treechat/internal/store"
)

// Store is an in-memory tree store.
type Store struct {
	mu      sync.Mutex
	root    map[string]any
	subs    map[int64]*subscription
	nextSub int64

	deniedWrites []string
	deniedReads  []string

	// queue is unbounded so writes issued from inside a snapshot callback
	// can never deadlock the dispatcher.
	queue  []event
	cond   *sync.Cond
	closed bool
	done   chan struct{}
}

type subscription struct {
	id         int64
	path       string
	query      *store.Query
	onSnapshot store.SnapshotFunc
	onError    store.ErrorFunc
	active     bool
}

type event struct {
	sub   *subscription
	value store.Value
	err   error
}

// New creates an empty store and starts its dispatch loop.
func New() *Store {
	s := &Store{
		root: make(map[string]any),
		subs: make(map[int64]*subscription),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.dispatch()
	return s
}

// Close stops snapshot dispatch. Pending events are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

// DenyWrites rejects any write touching a path at or under prefix with
// ErrPermissionDenied. Simulates backend access rules.
func (s *Store) DenyWrites(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deniedWrites = append(s.deniedWrites, prefix)
}

// DenyReads makes subscriptions at or under prefix fail with
// ErrPermissionDenied instead of delivering snapshots.
func (s *Store) DenyReads(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deniedReads = append(s.deniedReads, prefix)
}

// Read returns a deep copy of the subtree at path, nil if absent.
func (s *Store) Read(_ context.Context, path string) (store.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	if prefixMatch(s.deniedReads, path) {
		return nil, store.ErrPermissionDenied
	}
	return clone(s.get(path)), nil
}

// Write replaces the subtree at path. A nil value deletes it.
func (s *Store) Write(ctx context.Context, path string, value store.Value) error {
	return s.AtomicWrite(ctx, map[string]store.Value{path: value})
}

// AtomicWrite applies all pairs under one lock and notifies affected
// subscriptions once each, after every path is written. A denied path rejects
// the whole batch.
func (s *Store) AtomicWrite(_ context.Context, values map[string]store.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for path := range values {
		if prefixMatch(s.deniedWrites, path) {
			return store.ErrPermissionDenied
		}
	}

	for path, value := range values {
		s.set(path, clone(value))
	}

	notified := make(map[int64]bool)
	for path := range values {
		for id, sub := range s.subs {
			if !sub.active || notified[id] {
				continue
			}
			if store.IsAncestor(sub.path, path) || store.IsAncestor(path, sub.path) {
				notified[id] = true
				s.enqueue(event{sub: sub, value: s.snapshotFor(sub)})
			}
		}
	}
	return nil
}

// Subscribe registers a subtree subscription and queues its initial snapshot.
func (s *Store) Subscribe(path string, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.CancelFunc {
	return s.subscribe(path, nil, onSnapshot, onError)
}

// SubscribeRange registers a subscription filtered server-side to children
// whose query field is at or above the bound.
func (s *Store) SubscribeRange(path string, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.CancelFunc {
	return s.subscribe(path, &q, onSnapshot, onError)
}

func (s *Store) subscribe(path string, q *store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	s.nextSub++
	sub := &subscription{
		id:         s.nextSub,
		path:       path,
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
		active:     true,
	}
	s.subs[sub.id] = sub

	if prefixMatch(s.deniedReads, path) {
		s.enqueue(event{sub: sub, err: store.ErrPermissionDenied})
	} else {
		s.enqueue(event{sub: sub, value: s.snapshotFor(sub)})
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sub.active = false
		delete(s.subs, sub.id)
	}
}

// enqueue requires s.mu.
func (s *Store) enqueue(ev event) {
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

// dispatch delivers queued events one at a time on a single goroutine, so all
// callbacks of this store are serialized.
func (s *Store) dispatch() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		active := ev.sub.active
		s.mu.Unlock()

		if !active {
			continue
		}
		if ev.err != nil {
			if ev.sub.onError != nil {
				ev.sub.onError(ev.err)
			}
			continue
		}
		if ev.sub.onSnapshot != nil {
			ev.sub.onSnapshot(ev.value)
		}
	}
}

// snapshotFor requires s.mu.
func (s *Store) snapshotFor(sub *subscription) store.Value {
	value := s.get(sub.path)
	if sub.query != nil {
		value = filterRange(value, *sub.query)
	}
	return clone(value)
}

func filterRange(value store.Value, q store.Query) store.Value {
	children, ok := value.(map[string]any)
	if !ok || q.OrderBy == "" {
		return value
	}
	filtered := make(map[string]any, len(children))
	for key, child := range children {
		fields, ok := child.(map[string]any)
		if !ok {
			continue
		}
		if numericField(fields[q.OrderBy]) >= q.StartAt {
			filtered[key] = child
		}
	}
	return filtered
}

func numericField(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// get requires s.mu.
func (s *Store) get(path string) store.Value {
	var node any = s.root
	for _, segment := range store.Split(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[segment]
		if !ok {
			return nil
		}
	}
	if m, ok := node.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return node
}

// set requires s.mu.
func (s *Store) set(path string, value store.Value) {
	segments := store.Split(path)
	if len(segments) == 0 {
		if value == nil {
			s.root = make(map[string]any)
			return
		}
		if m, ok := value.(map[string]any); ok {
			s.root = m
		}
		return
	}

	node := s.root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			if value == nil {
				return
			}
			child = make(map[string]any)
			node[segment] = child
		}
		node = child
	}

	last := segments[len(segments)-1]
	if value == nil {
		delete(node, last)
		return
	}
	node[last] = value
}

func prefixMatch(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		if store.IsAncestor(prefix, path) {
			return true
		}
	}
	return false
}

func clone(value store.Value) store.Value {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = clone(child)
		}
		return out
	default:
		return v
	}
}
