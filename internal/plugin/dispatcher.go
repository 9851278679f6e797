package plugin

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/manager"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// Dispatcher ties plugin lifecycle to connection lifecycle: when a
// device connects, a fresh instance of every registered plugin whose
// incoming capabilities overlap the peer's outgoing capabilities is
// created, Init'd and Start'd, and it is Stop'd when the device
// disconnects. Inbound
// packets are routed to whichever instances declare that packet's
// type in IncomingCapabilities.
type Dispatcher struct {
	registry *Registry
	mgr      *manager.Manager
	bus      *events.Bus
	log      *zap.Logger

	mu        sync.Mutex
	instances map[string]map[string]Plugin // deviceID -> pluginName -> instance
}

// NewDispatcher constructs a Dispatcher. Call Run to subscribe it to
// the event bus; it runs until the stop channel passed to Run is
// closed.
func NewDispatcher(registry *Registry, mgr *manager.Manager, bus *events.Bus, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		registry:  registry,
		mgr:       mgr,
		bus:       bus,
		log:       log,
		instances: make(map[string]map[string]Plugin),
	}
}

// Run consumes manager lifecycle and packet events until stop is
// closed, then closes its subscription.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	sub := d.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-stop:
			return
		case evt := <-sub.C():
			d.handleEvent(evt)
		}
	}
}

func (d *Dispatcher) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case manager.Connected:
		d.onConnected(e.DeviceID, e.OutgoingCapabilities)
	case manager.Disconnected:
		d.onDisconnected(e.DeviceID)
	case manager.PacketReceived:
		d.onPacket(e.DeviceID, e.Packet)
	}
}

// onConnected instantiates one instance of every registered plugin
// whose declared incoming capabilities share at least one packet type
// with the peer's advertised outgoing capabilities. A plugin with no
// overlap has nothing the peer can ever send it, so it is never
// started for that device.
func (d *Dispatcher) onConnected(deviceID string, peerOutgoing []string) {
	d.mu.Lock()
	if _, exists := d.instances[deviceID]; exists {
		d.mu.Unlock()
		return
	}
	set := make(map[string]Plugin)
	d.instances[deviceID] = set
	d.mu.Unlock()

	for name, factory := range d.registry.Factories() {
		instance := factory()
		if !capabilitiesOverlap(instance.IncomingCapabilities(), peerOutgoing) {
			continue
		}
		ctx := &Context{
			DeviceID: deviceID,
			Bus:      d.bus,
			Send: func(pkt protocol.Packet) error {
				return d.mgr.SendPacket(deviceID, pkt)
			},
		}
		if err := instance.Init(ctx); err != nil {
			d.log.Warn("plugin init failed", zap.String("plugin", name), zap.String("device", deviceID), zap.Error(err))
			continue
		}
		if err := instance.Start(); err != nil {
			d.log.Warn("plugin start failed", zap.String("plugin", name), zap.String("device", deviceID), zap.Error(err))
			continue
		}

		d.mu.Lock()
		d.instances[deviceID][name] = instance
		d.mu.Unlock()
	}
}

func (d *Dispatcher) onDisconnected(deviceID string) {
	d.mu.Lock()
	set, ok := d.instances[deviceID]
	delete(d.instances, deviceID)
	d.mu.Unlock()
	if !ok {
		return
	}
	for name, instance := range set {
		if err := instance.Stop(); err != nil {
			d.log.Warn("plugin stop failed", zap.String("plugin", name), zap.String("device", deviceID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) onPacket(deviceID string, pkt protocol.Packet) {
	d.mu.Lock()
	set, ok := d.instances[deviceID]
	d.mu.Unlock()
	if !ok {
		return
	}
	for name, instance := range set {
		if !containsCapability(instance.IncomingCapabilities(), pkt.Type) {
			continue
		}
		if err := instance.HandlePacket(pkt); err != nil {
			d.log.Warn("plugin handle_packet failed",
				zap.String("plugin", name), zap.String("device", deviceID), zap.String("packet", pkt.Type), zap.Error(err))
		}
	}
}

// containsCapability reports whether t is in caps, treating the
// cconnect.* and kdeconnect.* spellings of a packet type as equal.
func containsCapability(caps []string, t string) bool {
	canonical := func(s string) string {
		if strings.HasPrefix(s, "cconnect.") {
			return "kdeconnect." + strings.TrimPrefix(s, "cconnect.")
		}
		return s
	}
	t = canonical(t)
	for _, c := range caps {
		if canonical(c) == t {
			return true
		}
	}
	return false
}

// capabilitiesOverlap reports whether any entry of a also appears in b.
func capabilitiesOverlap(a, b []string) bool {
	for _, c := range a {
		if containsCapability(b, c) {
			return true
		}
	}
	return false
}

// ActivePlugins returns the names of the plugin instances currently
// running for deviceID.
func (d *Dispatcher) ActivePlugins(deviceID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.instances[deviceID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}
