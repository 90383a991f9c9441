package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfileFor(t *testing.T) {
	cases := []struct {
		cpu, mem int
		want     ResourceProfile
	}{
		{1, 1024, ProfileSmall},
		{2, 4096, ProfileSmall},
		{2, 4097, ProfileMedium},
		{3, 4096, ProfileMedium},
		{4, 8192, ProfileMedium},
		{4, 8193, ProfileLarge},
		{8, 16384, ProfileLarge},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ProfileFor(tc.cpu, tc.mem), "cpu=%d mem=%d", tc.cpu, tc.mem)
	}
}

func TestNetworkSlotDerivations(t *testing.T) {
	s := NetworkSlot{Slot: 0}
	require.Equal(t, "172.16.0.1", s.HostIP())
	require.Equal(t, "172.16.0.2", s.GuestIP())
	require.Equal(t, "172.16.0.0/30", s.Subnet())
	require.Equal(t, "AA:FC:00:00:00:00", s.MAC())

	s = NetworkSlot{Slot: 255}
	require.Equal(t, "172.16.255.1", s.HostIP())
	require.Equal(t, "172.16.255.0/30", s.Subnet())
	require.Equal(t, "AA:FC:00:00:00:ff", s.MAC())

	s = NetworkSlot{Slot: 42}
	require.Equal(t, "AA:FC:00:00:00:2a", s.MAC())
}

func TestMACIsUniquePerSlot(t *testing.T) {
	seen := make(map[string]int)
	for slot := 0; slot < 256; slot++ {
		mac := NetworkSlot{Slot: slot}.MAC()
		prev, dup := seen[mac]
		require.False(t, dup, "slot %d and %d share MAC %s", prev, slot, mac)
		seen[mac] = slot
	}
}
