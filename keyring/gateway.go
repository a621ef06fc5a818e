// Package keyring defines the Gateway capability the encryption core uses to
// reach an external key-value keyring. All key material entering or leaving
// the process crosses this interface; the core itself never persists or
// caches key bytes outside of the short-lived EncryptionContext a caller
// already owns.
package keyring

import (
	"context"
	"errors"
)

// KeyType describes the algorithm a keyring entry was generated or stored
// under. The core only ever uses AES, but the type travels with Fetch
// results so a Gateway backed by a general-purpose secrets store can still
// report what it has.
type KeyType string

// AES is the only key type this core generates or consumes.
const AES KeyType = "AES"

// TestProbeName is the fixed name IsAlive probes with a fetch-or-generate
// round trip, per spec.md §4.1.
const TestProbeName = "percona_keyring_test"

// ErrNotFound is returned by Fetch and Remove when name does not exist in
// the backend. Wraps to tdeerrors.KeyNotFound at call sites that need the
// typed sentinel.
var ErrNotFound = errors.New("keyring: name not found")

// Gateway is the narrow capability the rest of the encryption core is built
// against. Implementations talk to exactly one external keyring backend
// (a local encrypted file, HashiCorp Vault, a cloud KMS, ...); the core
// never talks to a backend directly.
//
// Contracts (spec.md §4.1):
//   - Generate creates len bytes of random key material under name if name
//     is absent. Colliding with an existing name must not silently
//     overwrite; the backend may either no-op or return an error, but it
//     must never replace existing bytes.
//   - Fetch returns the raw bytes stored under name, or ErrNotFound.
//   - Remove deletes name, or ErrNotFound if it was already absent.
//   - IsAlive probes the backend with a fetch-or-generate round trip on
//     TestProbeName; it reports liveness, never partial credentials.
//
// No Gateway method retries internally and none cache results; failure is
// reported to the caller as-is.
type Gateway interface {
	Generate(ctx context.Context, name string, algo KeyType, length int) error
	Fetch(ctx context.Context, name string) ([]byte, KeyType, error)
	Remove(ctx context.Context, name string) error
	IsAlive(ctx context.Context) bool
}

// IsAliveByProbe implements the generic fetch-or-generate dance described in
// spec.md §4.1 against any Gateway, so individual backends do not each need
// to reimplement it. Backends whose native liveness check is cheaper (a
// health endpoint, say) may ignore this helper and implement IsAlive
// directly.
func IsAliveByProbe(ctx context.Context, g Gateway) bool {
	if _, _, err := g.Fetch(ctx, TestProbeName); err == nil {
		return true
	} else if !errors.Is(err, ErrNotFound) {
		return false
	}
	if err := g.Generate(ctx, TestProbeName, AES, 32); err != nil {
		return false
	}
	_, _, err := g.Fetch(ctx, TestProbeName)
	return err == nil
}
