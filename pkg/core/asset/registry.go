package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Collection holds the static metadata of a registered asset collection.
type Collection struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
}

// Registry tracks which asset collections the marketplace supports.
// Orders referencing unregistered collections are rejected at creation
// and at match time.
type Registry struct {
	mu          sync.RWMutex
	collections map[common.Address]*Collection
}

// NewRegistry creates an empty collection registry.
func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[common.Address]*Collection),
	}
}

// Register adds a collection to the registry.
// Returns error if the collection is already registered.
func (r *Registry) Register(c *Collection) error {
	if c == nil {
		return fmt.Errorf("cannot register nil collection")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collections[c.Address]; exists {
		return fmt.Errorf("collection %s already registered", c.Address.Hex())
	}

	r.collections[c.Address] = c
	return nil
}

// Unregister removes a collection. New orders against it will be
// rejected; existing records keep their tombstone history.
func (r *Registry) Unregister(addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collections[addr]; !exists {
		return fmt.Errorf("collection %s not found", addr.Hex())
	}

	delete(r.collections, addr)
	return nil
}

// Supported reports whether a collection is registered.
func (r *Registry) Supported(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.collections[addr]
	return exists
}

// List returns all registered collections.
// Returns a copy of the slice to avoid concurrent modification.
func (r *Registry) List() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered collections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.collections)
}
