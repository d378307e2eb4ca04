package pcap

import (
	"fmt"
	"net"

	"github.com/google/gopacket/pcap"
)

// Device is a capture-capable interface.
type Device struct {
	Name        string
	Description string
	Addresses   []string
}

// Interfaces lists the devices libpcap can capture on.
func Interfaces() ([]Device, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	devices := make([]Device, 0, len(devs))
	for _, d := range devs {
		dev := Device{Name: d.Name, Description: d.Description}
		for _, a := range d.Addresses {
			dev.Addresses = append(dev.Addresses, a.IP.String())
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// LocalIPv4 returns the first IPv4 address bound to iface.
func LocalIPv4(iface string) (net.IP, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, d := range devs {
		if d.Name != iface {
			continue
		}
		for _, a := range d.Addresses {
			if ip4 := a.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
		return nil, fmt.Errorf("interface '%s' has no IPv4 address", iface)
	}
	return nil, fmt.Errorf("interface '%s' not found", iface)
}
