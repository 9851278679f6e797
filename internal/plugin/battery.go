package plugin

import (
	"sync"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// BatteryState mirrors the body of a kdeconnect.battery packet,
// grounded on original_source's battery plugin test fixtures
// (cosmic-connect-daemon/tests/plugin_integration_tests.rs).
type BatteryState struct {
	CurrentCharge  int  `json:"currentCharge"`
	IsCharging     bool `json:"isCharging"`
	ThresholdEvent int  `json:"thresholdEvent"`
}

// BatteryEvent is published for every kdeconnect.battery packet
// received from a device, whether or not the state changed.
type BatteryEvent struct {
	DeviceID string
	State    BatteryState
}

// BatteryPlugin implements both directions of the exchange: it pushes
// our own battery state to the peer (kdeconnect.battery, as an
// OutgoingCapability) and answers the peer's kdeconnect.battery.request
// with that same state, in addition to tracking the last state the
// peer itself pushed to us.
type BatteryPlugin struct {
	ctx *Context

	mu         sync.RWMutex
	peerState  BatteryState
	localState BatteryState
}

// NewBatteryPlugin constructs an unbound battery plugin instance.
func NewBatteryPlugin() *BatteryPlugin {
	return &BatteryPlugin{}
}

func (b *BatteryPlugin) Name() string { return "battery" }

func (b *BatteryPlugin) IncomingCapabilities() []string {
	return []string{"kdeconnect.battery", "kdeconnect.battery.request"}
}

func (b *BatteryPlugin) OutgoingCapabilities() []string {
	return []string{"kdeconnect.battery", "kdeconnect.battery.request"}
}

func (b *BatteryPlugin) Init(ctx *Context) error {
	b.ctx = ctx
	return nil
}

func (b *BatteryPlugin) Start() error {
	// Best effort: a failed initial request just means we wait for the
	// peer's next unsolicited push instead of aborting plugin startup.
	pkt, err := protocol.New("kdeconnect.battery.request", map[string]bool{"request": true})
	if err != nil {
		return nil
	}
	_ = b.ctx.Send(pkt)
	return nil
}

func (b *BatteryPlugin) Stop() error { return nil }

func (b *BatteryPlugin) HandlePacket(pkt protocol.Packet) error {
	switch pkt.Type {
	case "kdeconnect.battery.request":
		return b.replyWithLocalState()
	default:
		var state BatteryState
		if err := pkt.DecodeBody(&state); err != nil {
			return err
		}
		b.mu.Lock()
		b.peerState = state
		b.mu.Unlock()

		b.ctx.Bus.Publish(BatteryEvent{DeviceID: b.ctx.DeviceID, State: state})
		return nil
	}
}

func (b *BatteryPlugin) replyWithLocalState() error {
	b.mu.RLock()
	state := b.localState
	b.mu.RUnlock()

	pkt, err := protocol.New("kdeconnect.battery", state)
	if err != nil {
		return err
	}
	return b.ctx.Send(pkt)
}

// State returns the last battery state the peer reported.
func (b *BatteryPlugin) State() BatteryState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.peerState
}

// SetLocalState updates the battery state this device advertises to
// the peer when asked. The daemon's own hardware readout feeds this;
// it defaults to the zero value (0%, not charging) until set.
func (b *BatteryPlugin) SetLocalState(state BatteryState) {
	b.mu.Lock()
	b.localState = state
	b.mu.Unlock()
}
