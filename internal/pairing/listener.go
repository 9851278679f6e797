package pairing

import (
	"go.uber.org/zap"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/manager"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// Listener subscribes to the connection manager's event bus and routes
// inbound *.pair packets into Handler, sending any reply the
// transition table produces back over the same live session. Without
// this, a *.pair packet the manager hands off via PacketReceived has
// nowhere to go — pairing only works end to end once this is running.
type Listener struct {
	handler *Handler
	mgr     *manager.Manager
	bus     *events.Bus
	log     *zap.Logger
}

// NewListener constructs a Listener. Call Run to start consuming
// events; it runs until stop is closed.
func NewListener(handler *Handler, mgr *manager.Manager, bus *events.Bus, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{handler: handler, mgr: mgr, bus: bus, log: log}
}

// Run consumes manager.PacketReceived events until stop is closed.
func (l *Listener) Run(stop <-chan struct{}) {
	sub := l.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-stop:
			return
		case evt := <-sub.C():
			pr, ok := evt.(manager.PacketReceived)
			if !ok || !protocol.IsPairType(pr.Packet.Type) {
				continue
			}
			l.handlePairPacket(pr.DeviceID, pr.Packet)
		}
	}
}

func (l *Listener) handlePairPacket(deviceID string, pkt protocol.Packet) {
	var body protocol.PairBody
	if err := pkt.DecodeBody(&body); err != nil {
		l.log.Warn("malformed pair packet", zap.String("device", deviceID), zap.Error(err))
		return
	}

	certDER, ok := l.mgr.PeerCertificate(deviceID)
	if !ok {
		l.log.Warn("pair packet from device with no live session", zap.String("device", deviceID))
		return
	}

	reply, err := l.handler.HandleIncoming(deviceID, body, certDER)
	if err != nil {
		l.log.Warn("pairing transition failed", zap.String("device", deviceID), zap.Error(err))
		return
	}
	if reply == nil {
		return
	}
	if err := l.mgr.SendPacket(deviceID, *reply); err != nil {
		l.log.Warn("failed to send pairing reply", zap.String("device", deviceID), zap.Error(err))
	}
}
