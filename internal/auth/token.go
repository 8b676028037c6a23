// Package auth backs the HTTP+SSE transport's bearer-token requirement
// with a cached token stored in the OS keychain. It deliberately does not
// implement the full OAuth 2.1 authorization-code flow (PKCE, dynamic
// client registration, browser callback server): the kernel only needs to
// *supply* a bearer token to a transport, not *obtain* one from an
// identity provider.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

const keyringService = "mcpkernel"

// TokenCache stores and retrieves a bearer token per server name in the
// system keychain.
type TokenCache struct {
	mu sync.RWMutex
}

// NewTokenCache checks keyring availability with a probe Get for a key
// that should not exist.
func NewTokenCache() (*TokenCache, error) {
	_, err := keyring.Get(keyringService, "_probe")
	if err != nil && err != keyring.ErrNotFound {
		return nil, fmt.Errorf("auth: keyring not available: %w", err)
	}
	return &TokenCache{}, nil
}

// Put stores token under server.
func (c *TokenCache) Put(server, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := keyring.Set(keyringService, server, token); err != nil {
		return fmt.Errorf("auth: keyring set: %w", err)
	}
	return nil
}

// Get retrieves the cached token for server, or "" if none is stored.
func (c *TokenCache) Get(server string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, err := keyring.Get(keyringService, server)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("auth: keyring get: %w", err)
	}
	return tok, nil
}

// Delete removes any cached token for server.
func (c *TokenCache) Delete(server string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := keyring.Delete(keyringService, server); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("auth: keyring delete: %w", err)
	}
	return nil
}

// Provider builds a transport.HTTPSSEClientConfig.BearerTokenProvider
// closure backed by this cache, for the one server named.
func (c *TokenCache) Provider(server string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return c.Get(server)
	}
}
