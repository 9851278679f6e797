// Package manager implements the connection manager from
// SPEC_FULL.md §4.7: one goroutine per live session, a command
// mailbox multiplexed against inbound frames, and session replacement
// when a device reconnects. Grounded on original_source's
// kdeconnect-protocol/src/connection/manager.rs, re-expressed with
// Go channels and context.Context in place of tokio tasks; the
// accept-loop and first-identity-frame handshake generalize the
// teacher's internal/network/server.go and client.go.
package manager

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protoerr"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/registry"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/transport"
)

// Manager owns every live session keyed by device ID.
type Manager struct {
	cfg     Config
	reg     *registry.Registry
	bus     *events.Bus
	log     *zap.Logger
	ownCert tls.Certificate

	mu       sync.Mutex
	sessions map[string]*activeConnection
	listener *transport.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// New constructs a Manager bound to ownCert for both the server and
// client sides of every TLS connection it opens or accepts.
func New(cfg Config, reg *registry.Registry, bus *events.Bus, ownCert tls.Certificate, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		reg:      reg,
		bus:      bus,
		log:      log,
		ownCert:  ownCert,
		sessions: make(map[string]*activeConnection),
	}
}

// Start binds the listen port and launches the accept loop. ctx
// bounds the manager's entire lifetime; canceling it (or calling Stop)
// tears down every session.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	// The listener itself accepts any certificate: a device pairing for
	// the first time has no certificate we could have pinned yet, and
	// TLS handshakes happen before we even know which device is dialing
	// in. Trust for already-paired devices is instead enforced in
	// handleInbound, once the first frame reveals the claimed device ID.
	listener, err := transport.Listen(m.cfg.ListenPort, transport.PairingServerConfig(m.ownCert))
	if err != nil {
		return errors.Wrap(err, "start connection manager listener")
	}
	m.listener = listener

	go m.acceptLoop()
	m.bus.Publish(ManagerStarted{})
	return nil
}

// Stop cancels every session and stops accepting new connections.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.listener != nil {
		m.listener.Close()
	}
	m.bus.Publish(ManagerStopped{})
}

func (m *Manager) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			continue
		}
		go m.handleInbound(conn)
	}
}

// handleInbound enforces the rule that the first frame on a new
// connection must be an identity packet carrying a non-empty
// deviceId; anything else is a protocol violation and the connection
// is dropped.
func (m *Manager) handleInbound(conn *transport.Conn) {
	pkt, err := conn.ReadPacket()
	if err != nil {
		conn.Close()
		return
	}
	if !protocol.IsIdentityType(pkt.Type) {
		m.log.Debug("first frame was not an identity packet", zap.String("type", pkt.Type))
		conn.Close()
		return
	}
	var identity protocol.DeviceInfo
	if err := pkt.DecodeBody(&identity); err != nil || identity.DeviceID == "" {
		conn.Close()
		return
	}

	if dev, ok := m.reg.Get(identity.DeviceID); ok && dev.PairingStatus == registry.Paired {
		if len(dev.CertificateData) == 0 || !transport.CertEqual(conn.PeerCert, dev.CertificateData) {
			m.log.Warn("inbound certificate does not match paired device", zap.String("device", identity.DeviceID))
			conn.Close()
			return
		}
	}

	host, _, _ := net.SplitHostPort(conn.RemoteAddr)
	m.installSession(identity.DeviceID, host, conn, identity.IncomingCapabilities, identity.OutgoingCapabilities)
}

// Connect dials deviceID and installs a session for it. A paired
// device is dialed with its pinned certificate (ClientConfig); an
// unpaired device — including one we are about to send a pairing
// request to — is dialed with PairingClientConfig, since we have no
// certificate to pin until the pairing handshake completes. The first
// frame sent is our own identity packet, satisfying the same
// first-frame rule enforced on the inbound side.
func (m *Manager) Connect(deviceID string) error {
	dev, ok := m.reg.Get(deviceID)
	if !ok {
		return protoerr.ErrDeviceNotFound
	}

	var cfg *tls.Config
	if dev.PairingStatus == registry.Paired && len(dev.CertificateData) > 0 {
		cfg = transport.ClientConfig(m.ownCert, dev.CertificateData, dev.Host)
	} else {
		cfg = transport.PairingClientConfig(m.ownCert, dev.Host)
	}

	conn, err := transport.Dial(dev.Host, dev.Port, cfg)
	if err != nil {
		return errors.Wrap(err, "dial device")
	}

	identityPkt, err := protocol.New(protocol.IdentityKDE, m.reg.OwnIdentity())
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.SendPacket(identityPkt); err != nil {
		conn.Close()
		return errors.Wrap(err, "send identity")
	}

	m.installSession(deviceID, dev.Host, conn, dev.IncomingCapabilities, dev.OutgoingCapabilities)
	return nil
}

// installSession replaces any existing session for deviceID and
// starts a fresh one over conn. incoming/outgoing are the peer's
// advertised capabilities, carried on the Connected event so plugin
// dispatch can gate instantiation on capability intersection without
// re-querying the registry.
func (m *Manager) installSession(deviceID, host string, conn *transport.Conn, incoming, outgoing []string) {
	m.mu.Lock()
	if old, ok := m.sessions[deviceID]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(m.ctx)
	session := &activeConnection{
		DeviceID:   deviceID,
		RemoteAddr: conn.RemoteAddr,
		PeerCert:   conn.PeerCert,
		commands:   make(chan sessionCommand, 16),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.sessions[deviceID] = session
	m.mu.Unlock()

	m.reg.MarkConnected(deviceID, host, m.cfg.ListenPort)
	m.bus.Publish(Connected{
		DeviceID:             deviceID,
		RemoteAddr:           conn.RemoteAddr,
		IncomingCapabilities: incoming,
		OutgoingCapabilities: outgoing,
	})

	go m.runSession(ctx, session, conn)
}

func (m *Manager) runSession(ctx context.Context, session *activeConnection, conn *transport.Conn) {
	defer func() {
		conn.Close()

		m.mu.Lock()
		stillCurrent := m.sessions[session.DeviceID] == session
		if stillCurrent {
			delete(m.sessions, session.DeviceID)
		}
		m.mu.Unlock()

		// A session superseded by installSession (device reconnected)
		// must not report Disconnected for the replaced session — the
		// device is still connected, just over the new one.
		if stillCurrent {
			m.reg.MarkDisconnected(session.DeviceID)
			m.bus.Publish(Disconnected{DeviceID: session.DeviceID})
		}
		close(session.done)
	}()

	reads := make(chan protocol.Packet)
	readErrs := make(chan error, 1)
	go func() {
		for {
			pkt, err := conn.ReadPacket()
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case reads <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	keepAlive := time.NewTicker(m.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-readErrs:
			return

		case pkt := <-reads:
			m.bus.Publish(PacketReceived{DeviceID: session.DeviceID, Packet: pkt})

		case cmd := <-session.commands:
			switch c := cmd.(type) {
			case sendPacketCmd:
				if err := conn.SendPacket(c.packet); err != nil {
					return
				}
			case closeCmd:
				return
			}

		case <-keepAlive.C:
			ping, err := protocol.New("kdeconnect.ping", map[string]string{})
			if err == nil {
				conn.SendPacket(ping)
			}
		}
	}
}

// SendPacket enqueues pkt for delivery on deviceID's live session.
func (m *Manager) SendPacket(deviceID string, pkt protocol.Packet) error {
	m.mu.Lock()
	session, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if !ok {
		return protoerr.ErrDeviceNotFound
	}

	select {
	case session.commands <- sendPacketCmd{packet: pkt}:
		return nil
	default:
		return errors.New("session command queue full")
	}
}

// Disconnect tears down deviceID's live session, if any. It is not an
// error to disconnect a device with no active session.
func (m *Manager) Disconnect(deviceID string) {
	m.mu.Lock()
	session, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case session.commands <- closeCmd{}:
	default:
		session.cancel()
	}
}

// IsConnected reports whether deviceID has a live session.
func (m *Manager) IsConnected(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[deviceID]
	return ok
}

// PeerCertificate returns the DER certificate presented by deviceID's
// live session, captured at TLS handshake time. Used by the pairing
// handler to learn the certificate it is being asked to trust.
func (m *Manager) PeerCertificate(deviceID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[deviceID]
	if !ok {
		return nil, false
	}
	return session.PeerCert, true
}
