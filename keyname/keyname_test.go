package keyname

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMasterKeyName(t *testing.T) {
	name := MasterKeyName("00000000-0000-0000-0000-000000000001", 7)
	require.Equal(t, "INNODBKey-00000000-0000-0000-0000-000000000001-7", name)
	require.LessOrEqual(t, len(name), MasterKeyNameMaxLen)
}

func TestMasterKeyNamePanicsOnEmptyUUID(t *testing.T) {
	require.Panics(t, func() {
		MasterKeyName("", 1)
	})
}

func TestLegacyMasterKeyName(t *testing.T) {
	require.Equal(t, "INNODBKey-42-7", LegacyMasterKeyName(42, 7))
}

func TestSystemKeyName(t *testing.T) {
	name := SystemKeyName("percona", 3, "00000000-0000-0000-0000-000000000001")
	require.Equal(t, "percona-3-00000000-0000-0000-0000-000000000001", name)
}

func TestVersionedSystemKeyName(t *testing.T) {
	name := VersionedSystemKeyName("percona", 3, "00000000-0000-0000-0000-000000000001", 5)
	require.Equal(t, "percona-3-00000000-0000-0000-0000-000000000001:5", name)
}

func TestVersionedSystemKeyNamePanicsOnEmptyUUID(t *testing.T) {
	require.Panics(t, func() {
		VersionedSystemKeyName("percona", 3, "", 5)
	})
}
