// Package identity supplies the engine's view of the auth provider: a
// readiness signal, the current principal, and an index over the identity
// directory that resolves both historical membership key schemes.
package identity

import (
	"context"
	"sync"

	"github.com/treechat/treechat/internal/models"
	"github.com/treechat/treechat/internal/store"
)

// ReadyFunc is invoked once a stable identity becomes available, and again on
// any later identity change (sign-out delivers a zero Identity).
type ReadyFunc func(models.Identity)

// Provider is the auth provider surface the engine consumes. Before the first
// ready callback, identity is undefined and no subscriptions may be opened.
type Provider interface {
	// OnAuthReady registers fn and, if an identity is already established,
	// invokes it immediately. The returned cancel deregisters fn.
	OnAuthReady(fn ReadyFunc) store.CancelFunc

	// CurrentIdentityID returns the stable opaque id, or "" before readiness.
	CurrentIdentityID() string
}

// StaticProvider is a Provider fed by explicit SignIn/SignOut calls. The CLI
// uses it with a configured identity; tests drive it directly.
type StaticProvider struct {
	mu        sync.Mutex
	current   models.Identity
	ready     bool
	nextID    int64
	callbacks map[int64]ReadyFunc
}

// NewStaticProvider creates a provider with no identity established.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{callbacks: make(map[int64]ReadyFunc)}
}

// SignIn establishes the identity and fires all registered callbacks.
func (p *StaticProvider) SignIn(id models.Identity) {
	p.mu.Lock()
	p.current = id
	p.ready = true
	callbacks := make([]ReadyFunc, 0, len(p.callbacks))
	for _, fn := range p.callbacks {
		callbacks = append(callbacks, fn)
	}
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(id)
	}
}

// SignOut clears the identity and notifies callbacks with a zero Identity.
func (p *StaticProvider) SignOut() {
	p.mu.Lock()
	p.current = models.Identity{}
	p.ready = false
	callbacks := make([]ReadyFunc, 0, len(p.callbacks))
	for _, fn := range p.callbacks {
		callbacks = append(callbacks, fn)
	}
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(models.Identity{})
	}
}

// OnAuthReady registers fn, invoking it immediately when already signed in.
func (p *StaticProvider) OnAuthReady(fn ReadyFunc) store.CancelFunc {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.callbacks[id] = fn
	ready := p.ready
	current := p.current
	p.mu.Unlock()

	if ready {
		fn(current)
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.callbacks, id)
	}
}

// CurrentIdentityID returns the signed-in id or "".
func (p *StaticProvider) CurrentIdentityID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return ""
	}
	return p.current.ID
}

// FromProfileValue decodes one profile record. Registered profiles carry
// newname/newemail and an optional authUid (the second membership key
// scheme); guest profiles may carry a plain name.
func FromProfileValue(key string, v any, guest bool) models.Identity {
	m, _ := v.(map[string]any)
	id := models.Identity{ID: key, IsGuest: guest}
	if m == nil {
		return id
	}
	if s, ok := m["newname"].(string); ok && s != "" {
		id.Name = s
	} else if s, ok := m["name"].(string); ok {
		id.Name = s
	}
	if s, ok := m["newemail"].(string); ok {
		id.Email = s
	}
	if s, ok := m["avatar"].(string); ok {
		id.Avatar = s
	}
	if s, ok := m["authUid"].(string); ok {
		id.AuthUID = s
	}
	return id
}

// FromDirectoryValue decodes a whole profile subtree snapshot.
func FromDirectoryValue(v any, guest bool) []models.Identity {
	m, _ := v.(map[string]any)
	identities := make([]models.Identity, 0, len(m))
	for key, raw := range m {
		identities = append(identities, FromProfileValue(key, raw, guest))
	}
	return identities
}

// LookupProfile reads one registered profile record from the store, falling
// back to a placeholder identity when the record is missing.
func LookupProfile(ctx context.Context, st store.Store, identityID string) models.Identity {
	value, err := st.Read(ctx, store.ProfilePath(identityID))
	if err != nil || value == nil {
		return models.Identity{ID: identityID}
	}
	return FromProfileValue(identityID, value, false)
}
