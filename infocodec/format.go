// Package infocodec serializes and parses the per-tablespace EncryptionInfo
// header (spec.md §3, §4.4, §6) and its redo-log counterpart,
// RedoLogEncryptionInfo. V1, V2 and V3 must all be parseable; only V3 is
// ever written.
//
// Numeric note: spec.md gives three different byte counts for this blob in
// different places (a 103-byte encode/decode contract in §4.4, a "107 bytes
// plus padding" total in §6, and a field-by-field offset table in §3 that
// sums to 111 bytes once every field — including the trailing CRC — is
// counted). This package treats the §3 field table as ground truth (it is
// the only one that is unambiguous field-by-field) and fixes the on-disk
// size at 111 bytes for V2/V3 and 75/79 bytes for V1 depending on whether
// the legacy 8-byte-id pad is present.
package infocodec

import "hash/crc32"

// Field widths, shared across all versions.
const (
	// MagicSize is the width of the leading format discriminator.
	MagicSize = 3
	// MasterKeyIDSize is the width of the master_key_id field.
	MasterKeyIDSize = 4
	// ServerUUIDLen is the width of a textual server uuid
	// ("xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"), null-padded when written.
	ServerUUIDLen = 36
	// WrappedSize is the width of the AES-256-ECB-wrapped {key‖iv} region.
	WrappedSize = 64
	// CRCSize is the width of the trailing CRC32.
	CRCSize = 4
	// KeySize is the width of a tablespace key.
	KeySize = 32
	// IVSize is the width of a tablespace IV.
	IVSize = 32

	// InfoV3Size is the total size of a V3 (and V2) EncryptionInfo blob.
	InfoV3Size = MagicSize + MasterKeyIDSize + ServerUUIDLen + WrappedSize + CRCSize
	// InfoV1SizeShort is a V1 blob with no legacy id padding.
	InfoV1SizeShort = MagicSize + MasterKeyIDSize + WrappedSize + CRCSize
	// InfoV1SizeLegacyPad is a V1 blob using the legacy 8-byte-id
	// representation (a 4-byte id followed by 4 zero bytes).
	InfoV1SizeLegacyPad = InfoV1SizeShort + 4

	// RedoLogInfoSize is the total size of an RK_V2 RedoLogEncryptionInfo
	// blob: magic, key_version(4), server_uuid(36), iv(32), crc32(4).
	RedoLogInfoSize = MagicSize + 4 + ServerUUIDLen + IVSize + CRCSize
)

// Magic values. V3 is the only version ever emitted; V1 and V2 are accepted
// on read for backward compatibility only (spec.md §9).
//
// Per spec.md §6 "External Interfaces", V3 is explicitly "lCA" and V1 is
// explicitly "lCB". §6 does not give V2 a magic distinct from V1's name
// (it describes V2 only as "v1 plus server_uuid"), but §4.4's decode
// dispatch requires magic alone to distinguish V1 from V2 bit-for-bit
// (V1 has no uuid field to disambiguate on length with the legacy-pad
// variant). "lCC" is assigned to V2 to fill that gap.
var (
	MagicV1 = [MagicSize]byte{'l', 'C', 'B'}
	MagicV2 = [MagicSize]byte{'l', 'C', 'C'}
	MagicV3 = [MagicSize]byte{'l', 'C', 'A'}

	// MagicRedoLogV2 discriminates the RK_V2 redo-log key info format.
	MagicRedoLogV2 = [MagicSize]byte{'R', 'K', '2'}
)

func crc32Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
