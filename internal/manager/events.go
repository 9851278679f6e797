package manager

import "github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"

// Event types published on the shared event bus, grounded on
// original_source's ConnectionEvent variants.
type ManagerStarted struct{}

type ManagerStopped struct{}

type Connected struct {
	DeviceID             string
	RemoteAddr           string
	IncomingCapabilities []string
	OutgoingCapabilities []string
}

type Disconnected struct {
	DeviceID string
}

type PacketReceived struct {
	DeviceID string
	Packet   protocol.Packet
}
