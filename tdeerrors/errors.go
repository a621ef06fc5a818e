// Package tdeerrors defines the error kinds surfaced by the encryption core.
//
// The operations in masterkey, infocodec and pagecrypt return one of these
// kinds (wrapped with context via %w) instead of an ad-hoc error, so callers
// can use errors.Is to branch on failure class. The keyring backends do not
// use these kinds: they report keyring.ErrNotFound or their own errors.
package tdeerrors

import "errors"

// Sentinel error kinds. Wrap these with fmt.Errorf("...: %w", Kind) to add
// context; callers match with errors.Is.
var (
	// KeyringUnavailable is returned when the keyring backend cannot be
	// reached at all (connection, auth, or transport failure).
	KeyringUnavailable = errors.New("keyring unavailable")
	// KeyNotFound is returned when a fetch/remove targets a name the
	// keyring does not hold.
	KeyNotFound = errors.New("key not found")
	// InfoCorrupt is returned by the info codec on an unparseable magic
	// (outside of recovery mode) or a CRC mismatch.
	InfoCorrupt = errors.New("encryption info corrupt")
	// EncryptFail is returned when the AES primitive rejects the input on
	// an encrypt path, or alignment invariants are violated.
	EncryptFail = errors.New("encrypt failed")
	// DecryptFail is returned when the AES primitive rejects the input on
	// a decrypt path, or the page/block is not decryptable in the given
	// context.
	DecryptFail = errors.New("decrypt failed")
	// UnsupportedMode is returned when an operation is attempted against
	// an EncryptionContext whose mode cannot support it.
	UnsupportedMode = errors.New("unsupported encryption mode")
	// InvariantViolation flags a programming error in the caller, such as
	// requesting encryption of a page that is already an encrypted type.
	InvariantViolation = errors.New("invariant violation")
	// ErrLegacyInfoPresent is returned by masterkey.Manager.Rotate when
	// the caller reports that a tablespace's on-disk info is still in the
	// legacy V1 format (see SPEC_FULL.md's Open Question resolution).
	ErrLegacyInfoPresent = errors.New("rotation refused: legacy V1 encryption info present")
)
