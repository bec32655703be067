// Package wsstore is a tree store client that speaks JSON frames over a
// websocket to a store gateway. One frame per operation; the gateway answers
// requests with result frames and pushes snapshot frames for live
// subscriptions.
package wsstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/treechat/treechat/internal/logging"
	"github.com/treechat/treechat/internal/store"
)

// Frame operations.
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opRead        = "read"
	opWrite       = "write"
	opAtomic      = "atomic"
	opSnapshot    = "snapshot"
	opResult      = "result"
)

// Error codes carried in result frames.
const (
	codePermissionDenied = "permission-denied"
)

const defaultRequestTimeout = 15 * time.Second

// Frame is the wire message exchanged with the gateway.
type Frame struct {
	Op     string         `json:"op"`
	ID     int64          `json:"id,omitempty"`
	Path   string         `json:"path,omitempty"`
	Value  any            `json:"value,omitempty"`
	Values map[string]any `json:"values,omitempty"`
	Query  *QuerySpec     `json:"query,omitempty"`
	Code   string         `json:"code,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// QuerySpec is the wire form of a range query.
type QuerySpec struct {
	OrderBy string `json:"orderBy"`
	StartAt int64  `json:"startAt"`
}

// Store is a websocket-backed tree store client.
type Store struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Frame
	subs    map[int64]*subscription
	closed  bool

	done chan struct{}
}

type subscription struct {
	onSnapshot store.SnapshotFunc
	onError    store.ErrorFunc
}

// Dial connects to the gateway at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Store, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	s := &Store{
		conn:    conn,
		logger:  logging.Component("wsstore"),
		pending: make(map[int64]chan Frame),
		subs:    make(map[int64]*subscription),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Close tears down the connection. Pending requests fail with ErrClosed and
// live subscriptions receive one final error.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Store) readLoop() {
	defer close(s.done)
	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.failAll(err)
			return
		}

		switch frame.Op {
		case opResult:
			s.mu.Lock()
			ch := s.pending[frame.ID]
			delete(s.pending, frame.ID)
			s.mu.Unlock()
			if ch != nil {
				ch <- frame
			}
		case opSnapshot:
			s.mu.Lock()
			sub := s.subs[frame.ID]
			s.mu.Unlock()
			if sub == nil {
				continue
			}
			if frame.Code != "" {
				if sub.onError != nil {
					sub.onError(frameError(frame))
				}
				continue
			}
			if sub.onSnapshot != nil {
				sub.onSnapshot(frame.Value)
			}
		default:
			s.logger.Warn().Str("op", frame.Op).Msg("unexpected frame from gateway")
		}
	}
}

// failAll resolves every pending request and subscription after the
// connection drops. Views keep their last known state; only the error is
// surfaced.
func (s *Store) failAll(cause error) {
	s.mu.Lock()
	pending := s.pending
	subs := s.subs
	s.pending = make(map[int64]chan Frame)
	s.subs = make(map[int64]*subscription)
	closed := s.closed
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- Frame{Op: opResult, Code: "closed", Error: store.ErrClosed.Error()}
	}
	if closed {
		return
	}
	s.logger.Warn().Err(cause).Msg("gateway connection lost")
	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(store.ErrClosed)
		}
	}
}

func (s *Store) send(frame Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *Store) request(ctx context.Context, frame Frame) (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, store.ErrClosed
	}
	s.nextID++
	frame.ID = s.nextID
	ch := make(chan Frame, 1)
	s.pending[frame.ID] = ch
	s.mu.Unlock()

	if err := s.send(frame); err != nil {
		s.mu.Lock()
		delete(s.pending, frame.ID)
		s.mu.Unlock()
		return Frame{}, fmt.Errorf("send %s: %w", frame.Op, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, frame.ID)
		s.mu.Unlock()
		return Frame{}, ctx.Err()
	case reply := <-ch:
		if reply.Code != "" {
			return Frame{}, frameError(reply)
		}
		return reply, nil
	}
}

func frameError(frame Frame) error {
	switch frame.Code {
	case codePermissionDenied:
		return store.ErrPermissionDenied
	case "closed":
		return store.ErrClosed
	default:
		return fmt.Errorf("gateway error %s: %s", frame.Code, frame.Error)
	}
}

// Read returns the current subtree under path.
func (s *Store) Read(ctx context.Context, path string) (store.Value, error) {
	reply, err := s.request(ctx, Frame{Op: opRead, Path: path})
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// Write replaces the subtree at path with value.
func (s *Store) Write(ctx context.Context, path string, value store.Value) error {
	_, err := s.request(ctx, Frame{Op: opWrite, Path: path, Value: value})
	return err
}

// AtomicWrite applies all pairs in one gateway operation.
func (s *Store) AtomicWrite(ctx context.Context, values map[string]store.Value) error {
	wire := make(map[string]any, len(values))
	for path, value := range values {
		wire[path] = value
	}
	_, err := s.request(ctx, Frame{Op: opAtomic, Values: wire})
	return err
}

// Subscribe registers a subtree subscription with the gateway.
func (s *Store) Subscribe(path string, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.CancelFunc {
	return s.subscribe(path, nil, onSnapshot, onError)
}

// SubscribeRange registers a server-side filtered subscription.
func (s *Store) SubscribeRange(path string, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.CancelFunc {
	return s.subscribe(path, &QuerySpec{OrderBy: q.OrderBy, StartAt: q.StartAt}, onSnapshot, onError)
}

func (s *Store) subscribe(path string, q *QuerySpec, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.CancelFunc {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = &subscription{onSnapshot: onSnapshot, onError: onError}
	s.mu.Unlock()

	if err := s.send(Frame{Op: opSubscribe, ID: id, Path: path, Query: q}); err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		if onError != nil {
			onError(fmt.Errorf("subscribe %s: %w", path, err))
		}
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if err := s.send(Frame{Op: opUnsubscribe, ID: id}); err != nil {
				s.logger.Debug().Err(err).Str("path", path).Msg("unsubscribe send failed")
			}
		})
	}
}
