package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUUIDv7Shape(t *testing.T) {
	b := GenerateUUIDv7()
	require.Equal(t, 16, len(b))
	require.Equal(t, byte(7), (b[6]>>4)&0x0f, "version nibble must be 7")
	require.Equal(t, byte(2), (b[8]>>6)&0x03, "variant bits must be RFC4122")
}

func TestBase62RoundTrip(t *testing.T) {
	original := GenerateUUIDv7()
	encoded := Base62Encode(original)
	require.Len(t, encoded, 22)
	decoded, err := Base62Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestBase62RoundTripZeros(t *testing.T) {
	var zeros [16]byte
	encoded := Base62Encode(zeros)
	decoded, err := Base62Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, zeros, decoded)
}

func TestBase62RoundTripMax(t *testing.T) {
	var maxes [16]byte
	for i := range maxes {
		maxes[i] = 0xff
	}
	encoded := Base62Encode(maxes)
	decoded, err := Base62Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, maxes, decoded)
}

func TestIDsAreSortable(t *testing.T) {
	a := GenerateID(SandboxPrefix)
	time.Sleep(2 * time.Millisecond)
	b := GenerateID(SandboxPrefix)
	require.Less(t, a, b)
}

func TestParseIDWorksForAllPrefixes(t *testing.T) {
	prefixes := []string{
		SandboxPrefix, ExecPrefix, SessionPrefix, ArtifactPrefix,
		ImagePrefix, ProfilePrefix, NodePrefix, ProjectPrefix,
	}
	for _, prefix := range prefixes {
		id := GenerateID(prefix)
		parsedPrefix, bytes, err := ParseID(id)
		require.NoError(t, err)
		require.Equal(t, prefix, parsedPrefix)
		require.Len(t, bytes, 16)
	}
}

func TestIDToBytesRoundTrip(t *testing.T) {
	id := GenerateID(ArtifactPrefix)
	bytes, err := IDToBytes(id)
	require.NoError(t, err)
	reconstructed := BytesToID(ArtifactPrefix, bytes)
	require.Equal(t, id, reconstructed)
}

func TestBase62DecodeRejectsWrongLength(t *testing.T) {
	_, err := Base62Decode("short")
	require.Error(t, err)
}

func TestBase62DecodeRejectsInvalidChar(t *testing.T) {
	_, err := Base62Decode("!!!!!!!!!!!!!!!!!!!!!!")
	require.Error(t, err)
}
