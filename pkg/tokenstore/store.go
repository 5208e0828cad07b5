// Package tokenstore persists the bearer token a client holds so a refreshed
// token survives restarts and can be shared by processes talking to the same
// API.
package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Store loads and saves one bearer token. An empty token from Load means
// none is stored; saving an empty token clears the entry.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
}

// KeyFor derives a stable storage key for a base URL.
func KeyFor(baseURL string) string {
	sum := sha256.Sum256([]byte(baseURL))
	return "apiclient:token:" + hex.EncodeToString(sum[:8])
}
