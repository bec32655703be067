// Package redisstore adapts a Redis instance to the tree store contract.
// Every scalar leaf of the tree lives at its own key ("tree:<path>" with a
// JSON-encoded value), so field-level atomic writes merge naturally. Change
// fan-out rides a single pub/sub channel carrying the written path; each
// subscription re-reads its subtree when an intersecting path is published.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/treechat/treechat/internal/logging"
	"github.com/treechat/treechat/internal/store"
)

const (
	keyPrefix     = "tree:"
	changeChannel = "treechat:changes"
	dialTimeout   = 5 * time.Second
)

// Store is a Redis-backed tree store.
type Store struct {
	client *redis.Client
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New connects to Redis at addr and verifies the connection.
func New(addr string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{
		client: client,
		logger: logging.Component("redisstore"),
	}
}

// Close tears down the client. Active subscriptions drain and stop.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.client.Close()
	s.wg.Wait()
	return err
}

func (s *Store) key(path string) string {
	return keyPrefix + strings.Trim(path, "/")
}

// Read assembles the subtree at path from its leaf keys.
func (s *Store) Read(ctx context.Context, path string) (store.Value, error) {
	// Exact leaf first.
	raw, err := s.client.Get(ctx, s.key(path)).Result()
	if err == nil {
		return decodeLeaf(raw)
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	leaves, err := s.scanLeaves(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return nil, nil
	}
	return assemble(leaves), nil
}

// Write replaces the subtree at path with value. A nil value deletes it.
func (s *Store) Write(ctx context.Context, path string, value store.Value) error {
	return s.AtomicWrite(ctx, map[string]store.Value{path: value})
}

// AtomicWrite applies all pairs in one pipeline, then publishes each written
// path on the change channel.
func (s *Store) AtomicWrite(ctx context.Context, values map[string]store.Value) error {
	pipe := s.client.TxPipeline()

	for path, value := range values {
		stale, err := s.scanKeys(ctx, path)
		if err != nil {
			return err
		}
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		pipe.Del(ctx, s.key(path))

		if value == nil {
			continue
		}
		for relPath, leaf := range flatten(value) {
			encoded, err := json.Marshal(leaf)
			if err != nil {
				return fmt.Errorf("encode %s: %w", path, err)
			}
			pipe.Set(ctx, s.key(store.Join(path, relPath)), encoded, 0)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}

	for path := range values {
		if err := s.client.Publish(ctx, changeChannel, strings.Trim(path, "/")).Err(); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("publish change failed")
		}
	}
	return nil
}

// Subscribe delivers the current subtree, then re-reads and re-delivers on
// every published path that intersects the subscription's prefix.
func (s *Store) Subscribe(path string, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, changeChannel)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return func() {}
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer pubsub.Close()

		s.deliver(ctx, path, onSnapshot, onError)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				changed := msg.Payload
				if !store.IsAncestor(path, changed) && !store.IsAncestor(changed, path) {
					continue
				}
				s.deliver(ctx, path, onSnapshot, onError)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}
}

func (s *Store) deliver(ctx context.Context, path string, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) {
	value, err := s.Read(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if onError != nil {
			onError(err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if onSnapshot != nil {
		onSnapshot(value)
	}
}

func (s *Store) scanKeys(ctx context.Context, path string) ([]string, error) {
	match := s.key(path) + "/*"
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *Store) scanLeaves(ctx context.Context, path string) (map[string]any, error) {
	keys, err := s.scanKeys(ctx, path)
	if err != nil {
		return nil, err
	}
	prefix := s.key(path) + "/"
	leaves := make(map[string]any, len(keys))
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read leaf %s: %w", key, err)
		}
		leaf, err := decodeLeaf(raw)
		if err != nil {
			return nil, err
		}
		leaves[strings.TrimPrefix(key, prefix)] = leaf
	}
	return leaves, nil
}

func decodeLeaf(raw string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("decode leaf: %w", err)
	}
	return value, nil
}

// flatten decomposes a value into scalar leaves keyed by relative path. A
// scalar input produces a single leaf at "".
func flatten(value store.Value) map[string]any {
	leaves := make(map[string]any)
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		m, ok := v.(map[string]any)
		if !ok {
			leaves[prefix] = v
			return
		}
		for k, child := range m {
			walk(store.Join(prefix, k), child)
		}
	}
	walk("", value)
	return leaves
}

// assemble rebuilds a nested map from relative leaf paths.
func assemble(leaves map[string]any) map[string]any {
	root := make(map[string]any)
	for relPath, leaf := range leaves {
		segments := store.Split(relPath)
		if len(segments) == 0 {
			continue
		}
		node := root
		for _, segment := range segments[:len(segments)-1] {
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[segment] = child
			}
			node = child
		}
		node[segments[len(segments)-1]] = leaf
	}
	return root
}
