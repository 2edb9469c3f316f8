// Package credstore holds the session credential storage adapter.
//
// The portal historically stashed the auth token under several keys; the
// Resolver is the single migration shim that still checks them all, so call
// sites only ever see one canonical read/write path.
package credstore

import (
	"context"
	"errors"
)

const (
	// KeyAuthToken is the canonical credential key.
	KeyAuthToken = "athena_auth_token"
	// KeyLegacyToken predates the portal rebrand; read-only, kept for migration.
	KeyLegacyToken = "athena_token"
	// KeyCookieToken mirrors the browser access-token cookie.
	KeyCookieToken = "access_token"
)

// CredentialKeys lists every key that may hold a credential, in the order
// they are consulted.
var CredentialKeys = []string{KeyAuthToken, KeyLegacyToken, KeyCookieToken}

var ErrNotFound = errors.New("credential not found")

// Store is any backend that can hold credential values.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Resolver is the canonical credential access path. Reads fall back across
// the legacy keys; writes only ever touch the canonical key.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Token returns the first credential found in fallback order.
// An absent credential is the normal anonymous state, not an error: ("", nil).
func (r *Resolver) Token(ctx context.Context) (string, error) {
	for _, key := range CredentialKeys {
		val, err := r.store.Get(ctx, key)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return "", err
		}
		if val != "" {
			return val, nil
		}
	}
	return "", nil
}

// SetToken writes the credential under the canonical key.
func (r *Resolver) SetToken(ctx context.Context, token string) error {
	return r.store.Set(ctx, KeyAuthToken, token)
}

// SetCookieToken mirrors a cookie-sourced credential so the fallback chain
// can pick it up; it never overrides a canonical credential.
func (r *Resolver) SetCookieToken(ctx context.Context, token string) error {
	if val, err := r.store.Get(ctx, KeyAuthToken); err == nil && val != "" {
		return nil
	}
	return r.store.Set(ctx, KeyCookieToken, token)
}

// Clear wipes every credential key. Idempotent and safe to repeat from
// several call sites (logout, guard timeout, auth failure).
func (r *Resolver) Clear(ctx context.Context) error {
	return r.store.Delete(ctx, CredentialKeys...)
}
