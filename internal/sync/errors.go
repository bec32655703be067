// Package sync implements the realtime conversation synchronization engine:
// subscription lifecycle, channel directory, membership repair, per
// conversation message sessions, the DM thread index and unread counters.
package sync

import "errors"

// Engine errors. Background reconciliation swallows failures and disables
// itself; user-initiated operations return these to the caller.
var (
	// ErrNotAuthenticated reports an operation that needs an identity before
	// the auth provider signaled readiness.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrGuestRestricted reports a DM operation attempted by a guest
	// identity.
	ErrGuestRestricted = errors.New("direct messages are not available for guest identities")

	// ErrNoActiveChannel reports a channel send with no channel selected.
	ErrNoActiveChannel = errors.New("no active channel")

	// ErrNoActivePeer reports a DM send with no open conversation.
	ErrNoActivePeer = errors.New("no active conversation peer")

	// ErrSelfConversation reports an attempt to open a DM with oneself.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
)
