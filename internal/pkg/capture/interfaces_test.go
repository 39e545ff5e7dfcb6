package capture

import (
	"net"
	"testing"

	"github.com/google/gopacket/pcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMirrorCandidate(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"eth0", true},
		{"ens192", true},
		{"bond0.100", true},
		{"lo", false},
		{"docker0", false},
		{"veth12ab", false},
		{"vboxnet0", false},
		{"usbmon1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMirrorCandidate(tt.name))
		})
	}
}

func TestFilterDevices(t *testing.T) {
	devices := []pcap.Interface{
		{Name: "any"},
		{Name: "lo"},
		{Name: "eth0", Description: "Intel mirror port", Addresses: []pcap.InterfaceAddress{{IP: net.ParseIP("192.168.0.5")}}},
		{Name: "eth1"},
	}

	got := filterDevices(devices, true)
	require.Len(t, got, 3)
	assert.Equal(t, "any", got[0].Name)
	assert.Equal(t, "eth0", got[1].Name)
	assert.Equal(t, "Intel mirror port", got[1].Description)
	assert.Equal(t, []string{"192.168.0.5"}, got[1].Addresses)
	assert.Equal(t, "Network interface", got[2].Description)

	assert.Len(t, filterDevices(devices, false), 2)
}
