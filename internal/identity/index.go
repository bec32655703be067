package identity

import "github.com/treechat/treechat/internal/models"

// Index resolves membership keys to canonical identities. Member sets written
// by older clients may be keyed by the raw auth uid instead of the profile
// record key; the index recognizes both schemes.
type Index struct {
	byID      map[string]models.Identity
	byAuthUID map[string]models.Identity
}

// NewIndex builds an index over the known identities.
func NewIndex(identities []models.Identity) *Index {
	idx := &Index{
		byID:      make(map[string]models.Identity, len(identities)),
		byAuthUID: make(map[string]models.Identity),
	}
	for _, id := range identities {
		if id.ID == "" {
			continue
		}
		idx.byID[id.ID] = id
		if id.AuthUID != "" && id.AuthUID != id.ID {
			idx.byAuthUID[id.AuthUID] = id
		}
	}
	return idx
}

// Resolve maps a raw member key to the canonical identity id under either key
// scheme. Unknown keys resolve to ("", false) and are left untouched by
// repair.
func (idx *Index) Resolve(rawKey string) (string, bool) {
	if id, ok := idx.byID[rawKey]; ok {
		return id.ID, true
	}
	if id, ok := idx.byAuthUID[rawKey]; ok {
		return id.ID, true
	}
	return "", false
}

// Get returns the identity for a canonical id.
func (idx *Index) Get(id string) (models.Identity, bool) {
	identity, ok := idx.byID[id]
	return identity, ok
}

// All returns the indexed identities in unspecified order.
func (idx *Index) All() []models.Identity {
	identities := make([]models.Identity, 0, len(idx.byID))
	for _, id := range idx.byID {
		identities = append(identities, id)
	}
	return identities
}

// Len returns the number of canonical identities.
func (idx *Index) Len() int {
	return len(idx.byID)
}
