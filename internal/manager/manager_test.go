package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/certstore"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/registry"
)

func pairTwoDevices(t *testing.T) (*registry.Registry, *registry.Registry, certstore.Info, certstore.Info) {
	t.Helper()
	serverIdentity, err := certstore.Generate("server-device")
	require.NoError(t, err)
	clientIdentity, err := certstore.Generate("client-device")
	require.NoError(t, err)

	serverReg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "server-device", TCPPort: 17160})
	clientReg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "client-device", TCPPort: 17161})

	require.NoError(t, serverReg.StorePairing("client-device", clientIdentity.Certificate))
	require.NoError(t, clientReg.StorePairing("server-device", serverIdentity.Certificate))

	return serverReg, clientReg, serverIdentity, clientIdentity
}

func TestConnectEstablishesSessionBothSides(t *testing.T) {
	serverReg, clientReg, serverIdentity, clientIdentity := pairTwoDevices(t)

	serverCert, err := serverIdentity.TLSCertificate()
	require.NoError(t, err)
	clientCert, err := clientIdentity.TLSCertificate()
	require.NoError(t, err)

	serverBus := events.NewBus(16)
	clientBus := events.NewBus(16)

	serverCfg := DefaultConfig()
	serverCfg.ListenPort = 28716

	serverMgr := New(serverCfg, serverReg, serverBus, serverCert, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, serverMgr.Start(ctx))
	defer serverMgr.Stop()

	// Client registry must know the server's dial address.
	clientReg.UpsertDiscovered(protocol.DeviceInfo{DeviceID: "server-device", TCPPort: 17160}, "127.0.0.1", serverCfg.ListenPort)
	require.NoError(t, clientReg.StorePairing("server-device", serverIdentity.Certificate))

	clientMgr := New(DefaultConfig(), clientReg, clientBus, clientCert, nil)
	clientMgr.ctx, clientMgr.cancel = context.WithCancel(ctx)
	defer clientMgr.cancel()

	require.NoError(t, clientMgr.Connect("server-device"))

	deadline := time.After(3 * time.Second)
	for !serverMgr.IsConnected("client-device") {
		select {
		case <-deadline:
			t.Fatal("server never saw inbound session")
		case <-time.After(10 * time.Millisecond):
		}
	}
	assert.True(t, clientMgr.IsConnected("server-device"))
}

func TestSendPacketToUnknownDeviceFails(t *testing.T) {
	reg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "self"})
	bus := events.NewBus(4)
	cert, err := certstore.Generate("self")
	require.NoError(t, err)
	tlsCert, err := cert.TLSCertificate()
	require.NoError(t, err)

	mgr := New(DefaultConfig(), reg, bus, tlsCert, nil)
	pkt, _ := protocol.New("kdeconnect.ping", map[string]string{})
	err = mgr.SendPacket("nonexistent", pkt)
	assert.Error(t, err)
}

// TestConnectToUnpairedDeviceReachesPairingPermissiveListener proves the
// first-pairing path is actually wired: dialing a device we have never
// paired with must still complete a TLS handshake (via
// PairingClientConfig against the peer's PairingServerConfig-accepted
// listener) rather than being rejected before any network attempt, as
// would happen if Connect still required PairingStatus == Paired.
func TestConnectToUnpairedDeviceReachesPairingPermissiveListener(t *testing.T) {
	serverReg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "server-device", TCPPort: 17162})
	serverIdentity, err := certstore.Generate("server-device")
	require.NoError(t, err)
	serverCert, err := serverIdentity.TLSCertificate()
	require.NoError(t, err)

	serverBus := events.NewBus(16)
	serverCfg := DefaultConfig()
	serverCfg.ListenPort = 28717
	serverMgr := New(serverCfg, serverReg, serverBus, serverCert, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, serverMgr.Start(ctx))
	defer serverMgr.Stop()

	clientReg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "client-device", TCPPort: 17163})
	clientReg.UpsertDiscovered(protocol.DeviceInfo{DeviceID: "server-device"}, "127.0.0.1", serverCfg.ListenPort)
	clientIdentity, err := certstore.Generate("client-device")
	require.NoError(t, err)
	clientCert, err := clientIdentity.TLSCertificate()
	require.NoError(t, err)

	clientBus := events.NewBus(16)
	clientMgr := New(DefaultConfig(), clientReg, clientBus, clientCert, nil)
	clientMgr.ctx, clientMgr.cancel = context.WithCancel(ctx)
	defer clientMgr.cancel()

	require.NoError(t, clientMgr.Connect("server-device"))

	deadline := time.After(3 * time.Second)
	for !serverMgr.IsConnected("client-device") {
		select {
		case <-deadline:
			t.Fatal("server never accepted the unpaired device's pairing-permissive connection")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestConnectFailsForUnknownDevice(t *testing.T) {
	reg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "self"})
	bus := events.NewBus(4)
	cert, err := certstore.Generate("self")
	require.NoError(t, err)
	tlsCert, err := cert.TLSCertificate()
	require.NoError(t, err)

	mgr := New(DefaultConfig(), reg, bus, tlsCert, nil)
	mgr.ctx, mgr.cancel = context.WithCancel(context.Background())
	defer mgr.cancel()

	err = mgr.Connect("never-seen-device")
	assert.Error(t, err)
}

func TestDisconnectIsNoOpForUnknownDevice(t *testing.T) {
	reg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "self"})
	bus := events.NewBus(4)
	cert, err := certstore.Generate("self")
	require.NoError(t, err)
	tlsCert, err := cert.TLSCertificate()
	require.NoError(t, err)

	mgr := New(DefaultConfig(), reg, bus, tlsCert, nil)
	assert.NotPanics(t, func() { mgr.Disconnect("nonexistent") })
}
