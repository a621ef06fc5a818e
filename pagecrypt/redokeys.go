package pagecrypt

import (
	"context"
	"fmt"

	"github.com/tde-core/tdecore/keyname"
	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/tdeerrors"
)

// GatewayRedoKeySource implements RedoKeySource directly over a
// keyring.Gateway, fetching versioned system keys by name (spec.md §4.2
// "versioned system keys").
type GatewayRedoKeySource struct {
	Gateway  keyring.Gateway
	PSPrefix string
	KeyID    uint32
	UUID     string
}

// KeyForVersion fetches the redo-log key stored at this version.
func (s *GatewayRedoKeySource) KeyForVersion(ctx context.Context, version uint32) ([32]byte, error) {
	var out [32]byte
	name := keyname.VersionedSystemKeyName(s.PSPrefix, s.KeyID, s.UUID, version)
	raw, _, err := s.Gateway.Fetch(ctx, name)
	if err != nil {
		return out, fmt.Errorf("%w: fetching redo log key %q: %s", tdeerrors.KeyringUnavailable, name, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("%w: redo log key %q has length %d, want 32", tdeerrors.InfoCorrupt, name, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
