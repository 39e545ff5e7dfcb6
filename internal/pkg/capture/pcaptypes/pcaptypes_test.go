package pcaptypes

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveInterface_Name(t *testing.T) {
	tests := []struct {
		name       string
		deviceName string
	}{
		{name: "Standard ethernet interface", deviceName: "eth0"},
		{name: "Mirror port bond", deviceName: "bond0.100"},
		{name: "Any pseudo device", deviceName: "any"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iface := CreateLiveInterface(tt.deviceName, LiveOptions{})
			assert.Equal(t, tt.deviceName, iface.Name())
		})
	}
}

func TestLiveInterface_Handle_NoHandle(t *testing.T) {
	iface := CreateLiveInterface("eth0", LiveOptions{})

	handle, err := iface.Handle()
	assert.Nil(t, handle)
	assert.Error(t, err)
}

func TestOfflineInterface_Name(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	assert.Equal(t, path, CreateOfflineInterface(path).Name())
	assert.Equal(t, "offline", CreateOfflineInterface("").Name())
}

func TestOfflineInterface_MissingFile(t *testing.T) {
	iface := CreateOfflineInterface(filepath.Join(t.TempDir(), "missing.pcap"))

	require.Error(t, iface.SetHandle())
	handle, err := iface.Handle()
	assert.Nil(t, handle)
	assert.Error(t, err)
}
