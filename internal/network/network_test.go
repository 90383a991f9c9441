package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTapNameTruncatesTo11Chars(t *testing.T) {
	require.Equal(t, "tap-sb_ABCDEFG", TapName("sb_ABCDEFG")) // short id, no truncation needed
	long := "sb_ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	name := TapName(long)
	require.LessOrEqual(t, len(name), 15)
	require.Equal(t, "tap-"+long[:11], name)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}
	require.Equal(t, defaultOutboundIface, c.iface())
	require.Equal(t, defaultBandwidthMbps, c.bandwidth())

	c2 := Config{OutboundIface: "eth1", BandwidthMbps: 250}
	require.Equal(t, "eth1", c2.iface())
	require.Equal(t, 250, c2.bandwidth())
}
