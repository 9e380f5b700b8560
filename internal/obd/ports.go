package obd

import (
	"path/filepath"
	"sort"
)

// ScanPorts lists serial ports that look like OBD adapters. USB-serial and
// USB-ACM devices only; onboard UARTs are never ELM327 dongles.
func ScanPorts() []string {
	var ports []string
	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports
}
