// Package identity provides system identity information: the host name
// advertised on the network and the SoC model read from the device tree.
package identity

import (
	"bytes"
	"os"
	"strings"

	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// DeviceTreeCompatible is the compatible property of the board's root node.
const DeviceTreeCompatible = "/proc/device-tree/compatible"

// DefaultHostname is used when the host name cannot be read.
const DefaultHostname = "rcar-du"

// GetHostname returns the system hostname.
func GetHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return DefaultHostname
	}
	return h
}

// DetectModel reads a device tree compatible file and returns the first
// supported DU model it names. The file holds NUL separated strings such
// as "renesas,lager\x00renesas,r8a7790\x00".
func DetectModel(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return ModelFromCompatible(data)
}

// ModelFromCompatible is DetectModel on the property contents.
func ModelFromCompatible(data []byte) (string, bool) {
	known := hardware.Models()
	for _, entry := range bytes.Split(data, []byte{0}) {
		_, soc, ok := strings.Cut(string(entry), ",")
		if !ok {
			continue
		}
		soc = strings.TrimPrefix(strings.ToLower(soc), "du-")
		for _, m := range known {
			if soc == m {
				return m, true
			}
		}
	}
	return "", false
}
