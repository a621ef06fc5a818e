// Package masterkey implements the process-wide lifecycle of the current
// master key id: lazy first-key creation, fetch-by-id for decryption,
// rotation, and a keyring liveness probe (spec.md §4.3).
package masterkey

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/tde-core/tdecore/keyname"
	"github.com/tde-core/tdecore/keyring"
	"github.com/tde-core/tdecore/logging"
	"github.com/tde-core/tdecore/tdeerrors"
)

var log *logrus.Logger

func init() {
	log = logging.NewLogger("MASTERKEY")
}

// DefaultMasterKeyID is the sentinel meaning "no rotation has ever happened
// on this instance" (spec.md §3).
const DefaultMasterKeyID uint32 = 0

// DefaultMasterKey is the hard-coded bootstrap key used for tablespaces
// created while DefaultMasterKeyID is still in effect. It must never be
// used once a real master key has been generated.
const DefaultMasterKey = "INNODBDefaultMasterKey0123456789"

// MasterKeyLength is the width in bytes of every master key this manager
// generates or fetches.
const MasterKeyLength = 32

// Manager owns the process-wide current master-key id and server uuid,
// guarded by a single mutex. It never caches key bytes: every
// Get*MasterKey call round-trips through the Gateway.
type Manager struct {
	mu                 sync.Mutex
	currentMasterKeyID uint32
	currentUUID        string

	gateway  keyring.Gateway
	serverID uint32 // for legacy 5.7.11-style name fallback
}

// NewManager constructs a Manager bound to gateway. serverID is used only
// for the legacy pre-uuid name form.
func NewManager(gateway keyring.Gateway, serverID uint32) *Manager {
	return &Manager{gateway: gateway, serverID: serverID}
}

// CurrentMasterKeyID returns the process-wide current id without touching
// the keyring.
func (m *Manager) CurrentMasterKeyID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentMasterKeyID
}

// CurrentUUID returns the process-wide current server uuid without
// touching the keyring.
func (m *Manager) CurrentUUID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentUUID
}

// AdvanceIfNewer bumps the process-wide current master-key id to id (and
// records uuid) if id is greater than what is currently recorded. This is
// the "catch-up after restart" step the info codec performs on decode
// (spec.md §4.4): once advanced, current_master_key_id never rewinds.
func (m *Manager) AdvanceIfNewer(id uint32, uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.currentMasterKeyID {
		m.currentMasterKeyID = id
		m.currentUUID = uuid
	}
}

// GetOrCreateMasterKey implements spec.md §4.3's lazy first-key creation:
// if no rotation has happened yet, it generates and fetches master key 1
// under a freshly minted server uuid; otherwise it fetches the current key
// by the process-wide (uuid, id).
func (m *Manager) GetOrCreateMasterKey(ctx context.Context) (uint32, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentMasterKeyID == DefaultMasterKeyID {
		newUUID := uuid.NewString()
		name := keyname.MasterKeyName(newUUID, 1)
		if err := m.gateway.Generate(ctx, name, keyring.AES, MasterKeyLength); err != nil {
			return 0, nil, fmt.Errorf("%w: generating first master key: %s", tdeerrors.KeyringUnavailable, err)
		}
		key, _, err := m.gateway.Fetch(ctx, name)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: fetching first master key: %s", tdeerrors.KeyringUnavailable, err)
		}
		m.currentMasterKeyID = 1
		m.currentUUID = newUUID
		log.WithFields(logrus.Fields{"id": 1, "uuid": newUUID}).Info("created first master key")
		return 1, key, nil
	}

	name := keyname.MasterKeyName(m.currentUUID, m.currentMasterKeyID)
	key, _, err := m.gateway.Fetch(ctx, name)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: fetching current master key %q: %s", tdeerrors.KeyringUnavailable, name, err)
	}
	return m.currentMasterKeyID, key, nil
}

// GetMasterKey fetches a specific master key by id. If uuid is empty, the
// legacy 5.7.11 server-id-scoped name is used instead (spec.md §4.3).
func (m *Manager) GetMasterKey(ctx context.Context, id uint32, uuid string) ([]byte, error) {
	if id == DefaultMasterKeyID {
		return []byte(DefaultMasterKey), nil
	}

	var name string
	if uuid == "" {
		name = keyname.LegacyMasterKeyName(m.serverID, id)
	} else {
		name = keyname.MasterKeyName(uuid, id)
	}

	key, _, err := m.gateway.Fetch(ctx, name)
	if err != nil {
		if uuid != "" {
			// Fall back to the legacy 5.7.11 name form, per spec.md §4.3.
			legacyName := keyname.LegacyMasterKeyName(m.serverID, id)
			key, _, legacyErr := m.gateway.Fetch(ctx, legacyName)
			if legacyErr == nil {
				return key, nil
			}
		}
		return nil, fmt.Errorf("%w: fetching master key %q: %s", tdeerrors.KeyNotFound, name, err)
	}
	return key, nil
}

// RotateOptions parameterizes Rotate.
type RotateOptions struct {
	// AnyLegacyInfo must be true if any open tablespace's on-disk
	// encryption info is still in the legacy V1 format. Rotation is
	// refused in that case (see SPEC_FULL.md's Open Question resolution):
	// a V1 blob carries no uuid, so rotating under the current uuid would
	// silently orphan the key that blob depends on.
	AnyLegacyInfo bool
}

// Rotate generates a new master key one id past the current one, confirms
// it can be fetched back, and only then advances current_master_key_id
// (spec.md §4.3). It does not itself rewrap tablespaces; callers invoke
// RewrapAll once Rotate returns.
func (m *Manager) Rotate(ctx context.Context, serverUUID string, opts RotateOptions) (uint32, error) {
	if opts.AnyLegacyInfo {
		return 0, tdeerrors.ErrLegacyInfoPresent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	nextID := m.currentMasterKeyID + 1
	name := keyname.MasterKeyName(serverUUID, nextID)
	if err := m.gateway.Generate(ctx, name, keyring.AES, MasterKeyLength); err != nil {
		return 0, fmt.Errorf("%w: generating rotated master key: %s", tdeerrors.KeyringUnavailable, err)
	}
	if _, _, err := m.gateway.Fetch(ctx, name); err != nil {
		return 0, fmt.Errorf("%w: confirming rotated master key: %s", tdeerrors.KeyringUnavailable, err)
	}

	m.currentMasterKeyID = nextID
	m.currentUUID = serverUUID
	log.WithFields(logrus.Fields{"id": nextID, "uuid": serverUUID}).Info("rotated master key")
	return nextID, nil
}

// RewrapFunc re-wraps one tablespace's key under the new master key.
// tablespaceID identifies the tablespace purely for error reporting.
type RewrapFunc func(ctx context.Context, tablespaceID string) error

// RewrapAll invokes rewrap for every id in tablespaceIDs and aggregates any
// failures with hashicorp/go-multierror, matching the "N results, M
// required" shape usererrors.go uses to report partial document-decrypt
// failures (here: partial rewrap failures after a master-key rotation).
// A non-nil error means at least one tablespace was NOT rewrapped under the
// new master key and its old key material must remain available.
func RewrapAll(ctx context.Context, tablespaceIDs []string, rewrap RewrapFunc) error {
	var result *multierror.Error
	for _, id := range tablespaceIDs {
		if err := rewrap(ctx, id); err != nil {
			result = multierror.Append(result, fmt.Errorf("tablespace %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}

// CheckAlive implements spec.md §4.3's sanity probe: if no master key
// exists yet, it performs the dummy-key generate/fetch/remove dance;
// otherwise it fetches the current key.
func (m *Manager) CheckAlive(ctx context.Context) error {
	m.mu.Lock()
	id, uuid := m.currentMasterKeyID, m.currentUUID
	m.mu.Unlock()

	if id == DefaultMasterKeyID {
		if !m.gateway.IsAlive(ctx) {
			return fmt.Errorf("%w: keyring liveness probe failed", tdeerrors.KeyringUnavailable)
		}
		if err := m.gateway.Remove(ctx, keyring.TestProbeName); err != nil {
			return fmt.Errorf("%w: removing keyring probe key: %s", tdeerrors.KeyringUnavailable, err)
		}
		return nil
	}

	name := keyname.MasterKeyName(uuid, id)
	if _, _, err := m.gateway.Fetch(ctx, name); err != nil {
		return fmt.Errorf("%w: fetching current master key during liveness check: %s", tdeerrors.KeyringUnavailable, err)
	}
	return nil
}
