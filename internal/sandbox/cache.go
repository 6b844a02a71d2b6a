package sandbox

import (
	"context"
	"sync"
)

// CredentialCache stores the single app-level minted credential. The
// cache is a performance optimization only; a miss just causes a mint.
type CredentialCache interface {
	Get(ctx context.Context) (*Credential, error)
	Put(ctx context.Context, cred *Credential) error
}

// MemoryCache is the default in-process cache.
type MemoryCache struct {
	mu   sync.RWMutex
	cred *Credential
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (m *MemoryCache) Get(ctx context.Context) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *MemoryCache) Put(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.cred = &c
	return nil
}
