// Package keyname builds the canonical keyring names for the three key
// families the encryption core persists: master keys, percona-style system
// keys, and versioned system keys. These functions are pure and stateless;
// the returned string is the only identity a key has outside the keyring, so
// the three grammars below must never change shape — doing so breaks
// on-disk compatibility for every database encrypted under the old names.
package keyname

import "fmt"

// MasterKeyNameMaxLen is the maximum ASCII name length, matching the storage
// limit of the keyring backends this core targets. The builders below do not
// check it: a name longer than this is returned as is.
const MasterKeyNameMaxLen = 255

// masterKeyPrefix is the namespace prefix for master-key names, matching the
// on-disk name grammar consumed by readers of older databases.
const masterKeyPrefix = "INNODBKey"

// MasterKeyName builds the canonical name for a master key:
// "<prefix>-<server_uuid>-<master_key_id>". uuid must be non-empty; calling
// this with an empty uuid is a programming error (spec.md §4.2).
func MasterKeyName(uuid string, masterKeyID uint32) string {
	if uuid == "" {
		panic("keyname: MasterKeyName called with empty server uuid")
	}
	return fmt.Sprintf("%s-%s-%d", masterKeyPrefix, uuid, masterKeyID)
}

// LegacyMasterKeyName builds the 5.7.11-compatible master-key name, scoped
// by numeric server id instead of server uuid. It exists solely to read
// databases created before server uuids were introduced.
func LegacyMasterKeyName(serverID uint32, masterKeyID uint32) string {
	return fmt.Sprintf("%s-%d-%d", masterKeyPrefix, serverID, masterKeyID)
}

// SystemKeyName builds the unversioned percona system-key name:
// "<psprefix>-<key_id>-<uuid>".
func SystemKeyName(psPrefix string, keyID uint32, uuid string) string {
	if uuid == "" {
		panic("keyname: SystemKeyName called with empty server uuid")
	}
	return fmt.Sprintf("%s-%d-%s", psPrefix, keyID, uuid)
}

// VersionedSystemKeyName builds the versioned percona system-key name:
// "<psprefix>-<key_id>-<uuid>:<version>", used to store redo-log keyring
// keys under a specific rotation version.
func VersionedSystemKeyName(psPrefix string, keyID uint32, uuid string, version uint32) string {
	if uuid == "" {
		panic("keyname: VersionedSystemKeyName called with empty server uuid")
	}
	return fmt.Sprintf("%s-%d-%s:%d", psPrefix, keyID, uuid, version)
}
