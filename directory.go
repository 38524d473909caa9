package entryvault

import (
	"fmt"
	"sync"
)

// PrincipalDirectory resolves recipient identifiers to principals with
// published public keys. Sharing needs the recipient's public key to wrap a
// content key; in production this is backed by the account service, in tests
// and the CLI by the in-memory implementation.
type PrincipalDirectory interface {
	// Lookup returns the principal registered under the given ID, or an
	// error when the ID is unknown.
	Lookup(id string) (*Principal, error)

	// Register publishes or replaces a principal's public key.
	Register(principal Principal) error
}

// InMemoryDirectory is a concurrency-safe map-backed PrincipalDirectory.
type InMemoryDirectory struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

// NewInMemoryDirectory creates an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		principals: make(map[string]Principal),
	}
}

// Lookup implements PrincipalDirectory.
func (d *InMemoryDirectory) Lookup(id string) (*Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.principals[id]
	if !ok {
		return nil, fmt.Errorf("unknown principal %q", id)
	}
	out := p
	return &out, nil
}

// Register implements PrincipalDirectory.
func (d *InMemoryDirectory) Register(principal Principal) error {
	if principal.ID == "" {
		return fmt.Errorf("principal ID is required")
	}
	if len(principal.PublicKey) == 0 {
		return fmt.Errorf("principal public key is required")
	}
	if principal.Kind != PrincipalUser && principal.Kind != PrincipalAnalysisService {
		return fmt.Errorf("unknown principal kind %q", principal.Kind)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[principal.ID] = principal
	return nil
}
