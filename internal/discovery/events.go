package discovery

import "github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"

// Event types published on the shared event bus, grounded on
// original_source's DiscoveryEvent variants.
type DeviceDiscovered struct {
	Info protocol.DeviceInfo
	Host string
	Port int
}

type DeviceUpdated struct {
	Info protocol.DeviceInfo
	Host string
	Port int
}

type DeviceTimedOut struct {
	DeviceID string
}
