package infocodec

import (
	"encoding/binary"
	"fmt"

	"github.com/tde-core/tdecore/tdeerrors"
)

// RedoLogInfo is the decoded form of an RK_V2 RedoLogEncryptionInfo blob
// (spec.md §3, §4.4, §6). Unlike the per-tablespace EncryptionInfo, this
// carries no wrapped key material: the redo-log key itself is looked up in
// the keyring by (server uuid, version) via keyname.VersionedSystemKeyName,
// and this blob only records which version and IV are in effect plus a
// corruption check over the header.
type RedoLogInfo struct {
	KeyVersion uint32
	ServerUUID string
	IV         [IVSize]byte
}

// EncodeRedoLogInfo serializes info to the fixed RK_V2 layout.
func EncodeRedoLogInfo(info RedoLogInfo) []byte {
	out := make([]byte, RedoLogInfoSize)
	off := 0
	copy(out[off:], MagicRedoLogV2[:])
	off += MagicSize
	binary.BigEndian.PutUint32(out[off:], info.KeyVersion)
	off += 4
	copy(out[off:], paddedUUID(info.ServerUUID))
	off += ServerUUIDLen
	copy(out[off:], info.IV[:])
	off += IVSize
	crc := crc32Of(out[:off])
	binary.BigEndian.PutUint32(out[off:], crc)
	return out
}

// DecodeRedoLogInfo parses an RK_V2 blob, verifying its trailing CRC32.
func DecodeRedoLogInfo(blob []byte) (RedoLogInfo, error) {
	if len(blob) != RedoLogInfoSize {
		return RedoLogInfo{}, fmt.Errorf("%w: redo log info blob has length %d, want %d", tdeerrors.InfoCorrupt, len(blob), RedoLogInfoSize)
	}
	if [MagicSize]byte(blob[:MagicSize]) != MagicRedoLogV2 {
		return RedoLogInfo{}, fmt.Errorf("%w: unrecognized redo log info magic", tdeerrors.InfoCorrupt)
	}

	off := MagicSize
	keyVersion := binary.BigEndian.Uint32(blob[off:])
	off += 4
	uuid := unpaddedUUID(blob[off : off+ServerUUIDLen])
	off += ServerUUIDLen
	var iv [IVSize]byte
	copy(iv[:], blob[off:off+IVSize])
	off += IVSize
	storedCRC := binary.BigEndian.Uint32(blob[off:])

	if crc32Of(blob[:off]) != storedCRC {
		return RedoLogInfo{}, fmt.Errorf("%w: CRC mismatch in redo log info", tdeerrors.InfoCorrupt)
	}

	return RedoLogInfo{KeyVersion: keyVersion, ServerUUID: uuid, IV: iv}, nil
}
