package capture

import (
	"strings"

	"github.com/google/gopacket/pcap"
)

// InterfaceInfo describes a capture-capable device for the interfaces command
type InterfaceInfo struct {
	Name        string
	Description string
	Addresses   []string
}

// ListInterfaces returns devices a mirror port could be attached to.
// Loopback, container and VM bridges are left out; "any" comes first when
// includeAny is set.
func ListInterfaces(includeAny bool) ([]InterfaceInfo, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	return filterDevices(devices, includeAny), nil
}

func filterDevices(devices []pcap.Interface, includeAny bool) []InterfaceInfo {
	var result []InterfaceInfo
	if includeAny {
		result = append(result, InterfaceInfo{
			Name:        "any",
			Description: "Capture from all interfaces",
		})
	}

	for _, device := range devices {
		if device.Name == "any" || !IsMirrorCandidate(device.Name) {
			continue
		}

		info := InterfaceInfo{Name: device.Name, Description: "Network interface"}
		if desc := strings.TrimSpace(device.Description); desc != "" {
			if len(desc) > 50 {
				desc = desc[:50] + "..."
			}
			info.Description = desc
		}
		for _, addr := range device.Addresses {
			if addr.IP != nil {
				info.Addresses = append(info.Addresses, addr.IP.String())
			}
		}
		result = append(result, info)
	}
	return result
}

// IsMirrorCandidate reports whether a device can plausibly carry mirrored
// PBX traffic.
func IsMirrorCandidate(name string) bool {
	name = strings.ToLower(name)
	if name == "lo" || strings.HasPrefix(name, "lo0") {
		return false
	}
	for _, pattern := range []string{"loopback", "docker", "veth", "vmnet", "vbox", "bluetooth", "usbmon", "nflog", "nfqueue"} {
		if strings.Contains(name, pattern) {
			return false
		}
	}
	return true
}
