// Package store defines the remote tree store contract the sync engine is
// written against: a hierarchical key-value tree addressed by slash-separated
// paths, with point reads, whole-subtree subscriptions and atomic multi-path
// writes. Access rules live server-side and may reject any operation with a
// permission error at any time.
package store

import (
	"context"
	"errors"
)

// Value is a JSON-shaped tree node: map[string]any for branches, or a scalar
// (string, bool, float64/int64) at the leaves. A nil Value means "no data".
type Value = any

// CancelFunc tears down a subscription. Safe to call multiple times and after
// the backend connection is gone.
type CancelFunc func()

// SnapshotFunc receives the full current subtree under the subscribed path on
// every change. A nil value means the subtree is empty or unreadable.
type SnapshotFunc func(value Value)

// ErrorFunc receives subscription-level errors. The subscription stays
// registered; callers treat errors as "no data".
type ErrorFunc func(err error)

// Store is the remote tree store consumed by the engine.
type Store interface {
	// Read returns the current subtree under path, nil if absent.
	Read(ctx context.Context, path string) (Value, error)

	// Write replaces the subtree at path with value. A nil value deletes it.
	Write(ctx context.Context, path string, value Value) error

	// AtomicWrite applies all path/value pairs atomically: either every path
	// is written or none is.
	AtomicWrite(ctx context.Context, values map[string]Value) error

	// Subscribe delivers the current subtree under path, then again on every
	// change. Snapshots for one subscription are delivered in order.
	Subscribe(path string, onSnapshot SnapshotFunc, onError ErrorFunc) CancelFunc
}

// Query restricts a range subscription to children whose OrderBy field is at
// or above StartAt. Mirrors the backend's server-side range filter.
type Query struct {
	OrderBy string
	StartAt int64
}

// RangeSubscriber is an optional capability: backends that can filter
// server-side implement it, others fall back to full-subtree subscriptions
// with client-side filtering.
type RangeSubscriber interface {
	SubscribeRange(path string, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) CancelFunc
}

// Store errors.
var (
	// ErrPermissionDenied reports a server-side access rule rejection.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrClosed reports an operation against a closed store connection.
	ErrClosed = errors.New("store closed")
)

// IsPermissionDenied reports whether err is a permission rejection.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
