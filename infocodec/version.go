package infocodec

import (
	"context"
	"fmt"

	"github.com/blang/semver"

	"github.com/tde-core/tdecore/tdeerrors"
)

// legacyFormatFloor is the product version at and after which an operator
// may configure a Codec to refuse reading V1/V2 info blobs outright. This
// extends spec.md §9's Design Notes ("An implementation may refuse to
// write V1/V2") to reads as well, for operators who know no tablespace on
// their instance predates this floor.
var legacyFormatFloor = semver.MustParse("8.0.0")

// Codec wraps Encode/Decode with an operator-configurable policy on
// whether legacy (V1/V2) formats may still be read, gated by the running
// product version via github.com/blang/semver.
type Codec struct {
	// ProductVersion is the running server's version. If it is at or past
	// legacyFormatFloor and RefuseLegacyRead is true, Decode rejects V1/V2
	// blobs instead of parsing them.
	ProductVersion   semver.Version
	RefuseLegacyRead bool
}

// NewCodec parses productVersion and constructs a Codec.
func NewCodec(productVersion string, refuseLegacyRead bool) (*Codec, error) {
	v, err := semver.Parse(productVersion)
	if err != nil {
		return nil, fmt.Errorf("infocodec: invalid product version %q: %w", productVersion, err)
	}
	return &Codec{ProductVersion: v, RefuseLegacyRead: refuseLegacyRead}, nil
}

// Encode always writes V3; policy plays no part in writing (spec.md §9).
func (c *Codec) Encode(ctx context.Context, mks MasterKeySource, key [KeySize]byte, iv [IVSize]byte, serverUUID string, isBootstrap, encryptKey bool) ([]byte, error) {
	return Encode(ctx, mks, key, iv, serverUUID, isBootstrap, encryptKey)
}

// Decode applies the legacy-read policy before delegating to the package
// level Decode.
func (c *Codec) Decode(ctx context.Context, mks MasterKeySource, blob []byte, decryptKey, inRecovery bool) (DecodeResult, error) {
	if c.RefuseLegacyRead && c.ProductVersion.GE(legacyFormatFloor) && len(blob) >= MagicSize {
		legacyVersion := 0
		switch [MagicSize]byte(blob[:MagicSize]) {
		case MagicV1:
			legacyVersion = 1
		case MagicV2:
			legacyVersion = 2
		}
		if legacyVersion != 0 {
			return DecodeResult{}, fmt.Errorf("%w: legacy V%d encryption info refused on product version %s", tdeerrors.UnsupportedMode, legacyVersion, c.ProductVersion)
		}
	}
	return Decode(ctx, mks, blob, decryptKey, inRecovery)
}
