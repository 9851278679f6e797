// Package plugin implements the capability-set plugin dispatch
// contract from SPEC_FULL.md §4.8, grounded on original_source's
// plugin trait (exercised by
// cosmic-connect-daemon/tests/plugin_integration_tests.rs: init, name,
// incoming_capabilities, outgoing_capabilities, handle_packet) and the
// teacher's packet-type switch in internal/core/core.go.handlePacket.
package plugin

import (
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// Context is what a plugin instance is given at Init: the device it
// is bound to, a way to send packets back to that device, and the
// shared event bus for publishing plugin-specific events.
type Context struct {
	DeviceID string
	Send     func(protocol.Packet) error
	Bus      *events.Bus
}

// Plugin is one capability (battery, ping, notification, ...)
// instantiated once per connected device whose advertised outgoing
// capabilities overlap the plugin's incoming ones. The dispatcher does
// not check the device's pairing status.
type Plugin interface {
	// Name is the plugin's stable identifier, e.g. "battery".
	Name() string

	// IncomingCapabilities lists the packet types this plugin accepts
	// via HandlePacket.
	IncomingCapabilities() []string

	// OutgoingCapabilities lists the packet types this plugin may
	// send via the Context given to Init.
	OutgoingCapabilities() []string

	// Init binds the plugin to one device's session.
	Init(ctx *Context) error

	// Start is called once the device's session is established.
	Start() error

	// Stop is called when the device's session ends.
	Stop() error

	// HandlePacket processes one inbound packet whose type is in
	// IncomingCapabilities.
	HandlePacket(pkt protocol.Packet) error
}

// Factory constructs a fresh Plugin instance, one per device session.
type Factory func() Plugin
