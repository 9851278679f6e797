package plugin

import (
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// PingEvent is published whenever a ping packet is received from a
// device, grounded on original_source's ping plugin
// (cosmic-connect-daemon/tests/plugin_integration_tests.rs).
type PingEvent struct {
	DeviceID string
}

// PingPlugin implements kdeconnect.ping: receiving one publishes a
// PingEvent for the UI layer to surface as a notification. It never
// auto-replies, matching the original's one-way ping semantics.
type PingPlugin struct {
	ctx *Context
}

// NewPingPlugin constructs an unbound ping plugin instance.
func NewPingPlugin() *PingPlugin {
	return &PingPlugin{}
}

func (p *PingPlugin) Name() string { return "ping" }

func (p *PingPlugin) IncomingCapabilities() []string {
	return []string{"kdeconnect.ping"}
}

func (p *PingPlugin) OutgoingCapabilities() []string {
	return []string{"kdeconnect.ping"}
}

func (p *PingPlugin) Init(ctx *Context) error {
	p.ctx = ctx
	return nil
}

func (p *PingPlugin) Start() error { return nil }

func (p *PingPlugin) Stop() error { return nil }

func (p *PingPlugin) HandlePacket(pkt protocol.Packet) error {
	p.ctx.Bus.Publish(PingEvent{DeviceID: p.ctx.DeviceID})
	return nil
}

// SendPing sends an outbound kdeconnect.ping to this plugin's device.
func (p *PingPlugin) SendPing() error {
	pkt, err := protocol.New("kdeconnect.ping", map[string]string{})
	if err != nil {
		return err
	}
	return p.ctx.Send(pkt)
}
