package pagecrypt

// Context is the per-tablespace (or per-redo-log-group) in-memory
// encryption state (spec.md §3 "EncryptionContext"). It is created by the
// tablespace open path, shared read-only with any I/O worker encrypting
// that tablespace's pages, and destroyed on close — at which point Zeroize
// must be called.
type Context struct {
	Mode Mode

	Key [32]byte
	IV  [32]byte

	// KeyVersion, KeyID and UUID are only meaningful in ModeKeyring /
	// ModeKeyringRotatingFromMaster; a redo-log key is looked up by
	// (KeyID, UUID, KeyVersion) via keyname.VersionedSystemKeyName.
	KeyVersion uint32
	KeyID      uint32
	UUID       string

	// RotationState mirrors Mode for the narrow "currently re-wrapping"
	// case; kept distinct from Mode so a caller can tell "now in keyring
	// mode" from "was in AES mode, migrating" without a type switch on Mode
	// alone having to carry rotation semantics.
	RotationState Mode

	// Checksum is the post-encryption CRC computed by this context's most
	// recent EncryptPage in ModeKeyringRotatingFromMaster (no other mode
	// sets it), exposed for callers that persist it alongside the page
	// (spec.md §4.5 step 7).
	Checksum uint32
}

// NewContext constructs a Context in the given mode with the given key
// material. Callers in ModeNone may pass zero key/iv.
func NewContext(mode Mode, key, iv [32]byte) *Context {
	return &Context{Mode: mode, Key: key, IV: iv, RotationState: mode}
}

// Zeroize wipes key material, per spec.md §9's "every heap buffer holding a
// master key or tablespace key must be wiped on free" invariant.
func (c *Context) Zeroize() {
	for i := range c.Key {
		c.Key[i] = 0
	}
	for i := range c.IV {
		c.IV[i] = 0
	}
}
