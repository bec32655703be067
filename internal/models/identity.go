// Package models defines the entities synchronized through the remote tree store.
package models

// Identity is a stable principal known to the auth provider, mirrored into a
// profile record in the store.
type Identity struct {
	// ID is the profile record key. Immutable.
	ID string `json:"id"`

	// AuthUID is the raw auth-provider uid. For older registered profiles it
	// differs from ID; membership records may be keyed by either.
	AuthUID string `json:"authUid,omitempty"`

	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`

	// IsGuest marks session-scoped guest identities. Guests live on a separate
	// channel root and cannot use direct messages.
	IsGuest bool `json:"isGuest"`
}

// IdentitySnapshot is the denormalized display shape embedded in messages and
// thread metadata. It is a copy taken at write time, not a reference.
type IdentitySnapshot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// Snapshot returns the display projection of an identity, applying display
// defaults so renders never see empty fields.
func (i Identity) Snapshot() IdentitySnapshot {
	name := i.Name
	if name == "" {
		name = DefaultDisplayName
	}
	avatar := i.Avatar
	if avatar == "" {
		avatar = DefaultAvatar
	}
	return IdentitySnapshot{ID: i.ID, Name: name, Email: i.Email, Avatar: avatar}
}
