package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatBytesRoundNumbers(t *testing.T) {
	require.Equal(t, "512B", FormatBytes(512))
	require.Equal(t, "1KB", FormatBytes(1024))
	require.Equal(t, "4MB", FormatBytes(4*1024*1024))
}

func TestFormatBytesFractional(t *testing.T) {
	require.Equal(t, "1.50KB", FormatBytes(1536))
}

func TestParseBytesRoundTripsWithFormat(t *testing.T) {
	cases := []string{"512B", "1KB", "4MB", "2GB"}
	for _, c := range cases {
		n, err := ParseBytes(c)
		require.NoError(t, err)
		require.Equal(t, c, FormatBytes(n))
	}
}

func TestParseBytesPlainNumber(t *testing.T) {
	n, err := ParseBytes("4096")
	require.NoError(t, err)
	require.Equal(t, int64(4096), n)
}

func TestParseBytesRejectsGarbage(t *testing.T) {
	_, err := ParseBytes("not-a-size")
	require.Error(t, err)
}
