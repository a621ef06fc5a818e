package pagecrypt

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tde-core/tdecore/logging"
	"github.com/tde-core/tdecore/tdeerrors"
)

var log *logrus.Logger

func init() {
	log = logging.NewLogger("PAGECRYPT")
}

func pageType(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[FilPageTypeOffset:])
}

func setPageType(buf []byte, t uint16) {
	binary.BigEndian.PutUint16(buf[FilPageTypeOffset:], t)
}

func isEncryptedType(t uint16) bool {
	return t == PageTypeEncrypted || t == PageTypeEncryptedRTree || t == PageTypeCompressedAndEncrypted
}

// EncryptPage transforms the plaintext page src into the ciphertext page
// dst, both of identical length (spec.md §4.5 "Page encrypt"). src is left
// untouched.
func EncryptPage(ctx *Context, src, dst []byte) error {
	if ctx.Mode == ModeNone {
		copy(dst, src)
		return nil
	}
	if len(src) != len(dst) {
		return fmt.Errorf("%w: src/dst length mismatch", tdeerrors.InvariantViolation)
	}
	if len(src) < FilPageData {
		return fmt.Errorf("%w: page shorter than the fixed header", tdeerrors.EncryptFail)
	}

	srcType := pageType(src)
	if isEncryptedType(srcType) {
		return fmt.Errorf("%w: page is already an encrypted type %d", tdeerrors.InvariantViolation, srcType)
	}

	compressed := srcType == PageTypeCompressed
	rtree := srcType == PageTypeRTree
	keyring := ctx.Mode == ModeKeyring || ctx.Mode == ModeKeyringRotatingFromMaster

	headerLen := FilPageData
	if keyring {
		// FIL_PAGE_ENCRYPTION_KEY_VERSION (+ the rotation checksum) is
		// reserved right after the header for every keyring-mode page, zip
		// or not; spec.md §3 pins it non-zero on any encrypted keyring page.
		headerLen += KeyVersionFieldSize
	}
	if !compressed && !rtree {
		// FIL_PAGE_ORIGINAL_TYPE_V1 is stamped with the plaintext srcType
		// below, after the data region is encrypted; it must not fall
		// inside the CBC region, the same reason the trailing LSN mirror
		// and the key-version reservation are excluded from it.
		if end := FilPageOriginalTypeV1Offset + FilPageOriginalTypeV1Size; headerLen < end {
			headerLen = end
		}
	}
	if headerLen > len(src) {
		return fmt.Errorf("%w: page too short for keyring header reservation", tdeerrors.EncryptFail)
	}

	dataLen := len(src) - headerLen
	if compressed {
		// Only the stored compressed payload is encrypted; callers are
		// responsible for src already being trimmed to that payload plus
		// header when the tablespace uses row compression. This core
		// treats headerLen..len(src) as "the compressed payload" either
		// way, so the branch only exists to apply the MinEncryptionLen
		// floor spec.md calls out explicitly for compressed pages.
		if dataLen < MinEncryptionLen-FilPageData {
			return fmt.Errorf("%w: compressed page payload shorter than MIN_ENCRYPTION_LEN", tdeerrors.EncryptFail)
		}
	}
	if keyring && !compressed {
		// Leave the trailing LSN mirror (last 4 bytes of the page trailer)
		// unencrypted; it is re-derived from the header on decrypt.
		dataLen -= TrailingLSNMirrorSize
	}
	if dataLen < 2*AESBlockSize {
		return fmt.Errorf("%w: page data region too short for the tail trick", tdeerrors.EncryptFail)
	}
	if keyring && ctx.KeyVersion == 0 {
		return fmt.Errorf("%w: keyring mode with zero key_version", tdeerrors.InvariantViolation)
	}

	copy(dst[:headerLen], src[:headerLen])
	copy(dst[headerLen:], src[headerLen:])

	region := dst[headerLen : headerLen+dataLen]
	if err := cbcEncryptTail(ctx.Key[:], ctx.IV[:], region); err != nil {
		return err
	}

	if keyring && !compressed {
		// Mirror the unencrypted low 4 bytes of the page LSN into the
		// trailing 4 bytes of the page, matching the plaintext layout so a
		// crash-recovery scan can read the LSN without decrypting.
		lsnLow := src[FilPageLSNOffset+4 : FilPageLSNOffset+8]
		copy(dst[len(dst)-4:], lsnLow)
	}

	var newType uint16
	switch {
	case compressed:
		newType = PageTypeCompressedAndEncrypted
	case rtree:
		newType = PageTypeEncryptedRTree
	default:
		newType = PageTypeEncrypted
		binary.BigEndian.PutUint16(dst[FilPageOriginalTypeV1Offset:], srcType)
	}
	setPageType(dst, newType)

	if keyring {
		binary.BigEndian.PutUint32(dst[FilPageData:], ctx.KeyVersion)
		if ctx.Mode == ModeKeyringRotatingFromMaster {
			ctx.Checksum = crc32Of(region)
			binary.BigEndian.PutUint32(dst[FilPageData+4:], ctx.Checksum)
		}
	}

	log.WithFields(logrus.Fields{"mode": ctx.Mode, "src_type": srcType, "dst_type": newType}).Debug("encrypted page")
	return nil
}

// DecryptPage reverses EncryptPage. If src is not an encrypted page type it
// is copied through unchanged (spec.md §8 invariant 7), unless ctx.Mode is
// ModeNone and src IS an encrypted type, which is an error: there is no key
// material to decrypt it with.
func DecryptPage(ctx *Context, src, dst []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: src/dst length mismatch", tdeerrors.InvariantViolation)
	}
	if len(src) < FilPageData {
		return fmt.Errorf("%w: page shorter than the fixed header", tdeerrors.DecryptFail)
	}

	srcType := pageType(src)
	if !isEncryptedType(srcType) {
		copy(dst, src)
		return nil
	}
	if ctx.Mode == ModeNone {
		return fmt.Errorf("%w: encountered encrypted page with no encryption context", tdeerrors.DecryptFail)
	}

	compressed := srcType == PageTypeCompressedAndEncrypted
	rtree := srcType == PageTypeEncryptedRTree
	keyring := ctx.Mode == ModeKeyring || ctx.Mode == ModeKeyringRotatingFromMaster

	headerLen := FilPageData
	if keyring {
		headerLen += KeyVersionFieldSize
	}
	if !compressed && !rtree {
		if end := FilPageOriginalTypeV1Offset + FilPageOriginalTypeV1Size; headerLen < end {
			headerLen = end
		}
	}
	if headerLen > len(src) {
		return fmt.Errorf("%w: page too short for keyring header reservation", tdeerrors.DecryptFail)
	}

	dataLen := len(src) - headerLen
	if keyring && !compressed {
		dataLen -= TrailingLSNMirrorSize
	}
	if dataLen < 2*AESBlockSize {
		return fmt.Errorf("%w: page data region too short for the tail trick", tdeerrors.DecryptFail)
	}

	copy(dst[:headerLen], src[:headerLen])
	copy(dst[headerLen:], src[headerLen:])

	region := dst[headerLen : headerLen+dataLen]
	if err := cbcDecryptTail(ctx.Key[:], ctx.IV[:], region); err != nil {
		return err
	}

	var originalType uint16
	switch srcType {
	case PageTypeCompressedAndEncrypted:
		originalType = PageTypeCompressed
	case PageTypeEncryptedRTree:
		originalType = PageTypeRTree
	default:
		originalType = binary.BigEndian.Uint16(src[FilPageOriginalTypeV1Offset:])
	}
	setPageType(dst, originalType)

	if keyring && !compressed {
		lsnLow := dst[FilPageLSNOffset+4 : FilPageLSNOffset+8]
		copy(dst[len(dst)-4:], lsnLow)
	}

	log.WithFields(logrus.Fields{"mode": ctx.Mode, "src_type": srcType, "restored_type": originalType}).Debug("decrypted page")
	return nil
}
