package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/certstore"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/registry"
)

func newTestHandler(t *testing.T) (*Handler, *registry.Registry, *events.Bus) {
	t.Helper()
	reg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "self"})
	bus := events.NewBus(8)
	return New(reg, bus), reg, bus
}

func peerCert(t *testing.T, deviceID string) []byte {
	t.Helper()
	info, err := certstore.Generate(deviceID)
	require.NoError(t, err)
	return info.Certificate
}

func TestPeerInitiatedRequestMovesToRequestedByPeer(t *testing.T) {
	h, reg, bus := newTestHandler(t)
	sub := bus.Subscribe()
	defer sub.Close()

	cert := peerCert(t, "phone-1")
	_, err := h.HandleIncoming("phone-1", protocol.PairBody{Pair: true, Timestamp: time.Now().UnixMilli()}, cert)
	require.NoError(t, err)

	dev, ok := reg.Get("phone-1")
	require.True(t, ok)
	assert.Equal(t, registry.RequestedByPeer, dev.PairingStatus)
	assert.False(t, dev.IsTrusted)

	select {
	case evt := <-sub.C():
		_, ok := evt.(RequestReceived)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected RequestReceived event")
	}
}

func TestAcceptPairingCommitsTrust(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	cert := peerCert(t, "phone-2")
	_, err := h.HandleIncoming("phone-2", protocol.PairBody{Pair: true}, cert)
	require.NoError(t, err)

	pkt, err := h.AcceptPairing("phone-2")
	require.NoError(t, err)
	var body protocol.PairBody
	require.NoError(t, pkt.DecodeBody(&body))
	assert.True(t, body.Pair)

	dev, ok := reg.Get("phone-2")
	require.True(t, ok)
	assert.Equal(t, registry.Paired, dev.PairingStatus)
	assert.True(t, dev.IsTrusted)
}

func TestAcceptPairingWithoutPendingRequestFails(t *testing.T) {
	h, _, _ := newTestHandler(t)
	_, err := h.AcceptPairing("phone-3")
	assert.Error(t, err)
}

func TestRequestPairingThenPeerAcceptCompletesPairing(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	_, err := h.RequestPairing("phone-4")
	require.NoError(t, err)

	dev, _ := reg.Get("phone-4")
	assert.Equal(t, registry.Requested, dev.PairingStatus)

	cert := peerCert(t, "phone-4")
	reply, err := h.HandleIncoming("phone-4", protocol.PairBody{Pair: true}, cert)
	require.NoError(t, err)

	dev, _ = reg.Get("phone-4")
	assert.Equal(t, registry.Paired, dev.PairingStatus)
	assert.True(t, dev.IsTrusted)

	// The peer accepted our request, so we owe it a confirming pair=true
	// reply in the same exchange.
	require.NotNil(t, reply)
	var body protocol.PairBody
	require.NoError(t, reply.DecodeBody(&body))
	assert.True(t, body.Pair)
}

func TestRequestPairingRejectsAlreadyPaired(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	cert := peerCert(t, "phone-5")
	require.NoError(t, reg.StorePairing("phone-5", cert))

	_, err := h.RequestPairing("phone-5")
	assert.Error(t, err)
}

func TestUnpairRequiresExistingPairing(t *testing.T) {
	h, _, _ := newTestHandler(t)
	_, err := h.Unpair("phone-6")
	assert.Error(t, err)
}

func TestUnpairClearsTrust(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	cert := peerCert(t, "phone-7")
	require.NoError(t, reg.StorePairing("phone-7", cert))

	_, err := h.Unpair("phone-7")
	require.NoError(t, err)

	dev, _ := reg.Get("phone-7")
	assert.Equal(t, registry.Unpaired, dev.PairingStatus)
	assert.False(t, dev.IsTrusted)
}

func TestIncomingRejectDuringPendingResetsToUnpaired(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	_, err := h.RequestPairing("phone-8")
	require.NoError(t, err)

	_, err = h.HandleIncoming("phone-8", protocol.PairBody{Pair: false}, nil)
	require.NoError(t, err)

	dev, _ := reg.Get("phone-8")
	assert.Equal(t, registry.Unpaired, dev.PairingStatus)
}

func TestSweepTimeoutsRevertsStaleRequests(t *testing.T) {
	h, reg, bus := newTestHandler(t)
	sub := bus.Subscribe()
	defer sub.Close()

	_, err := h.RequestPairing("phone-9")
	require.NoError(t, err)

	expired := h.SweepTimeouts(time.Now().Add(PendingTimeout + time.Second))
	assert.Equal(t, []string{"phone-9"}, expired)

	dev, _ := reg.Get("phone-9")
	assert.Equal(t, registry.Unpaired, dev.PairingStatus)

	select {
	case evt := <-sub.C():
		_, ok := evt.(TimedOut)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected TimedOut event")
	}
}

func TestSweepTimeoutsIgnoresFreshRequests(t *testing.T) {
	h, _, _ := newTestHandler(t)
	_, err := h.RequestPairing("phone-10")
	require.NoError(t, err)

	expired := h.SweepTimeouts(time.Now())
	assert.Empty(t, expired)
}

func TestVerificationKeyIsOrderIndependent(t *testing.T) {
	certA := peerCert(t, "device-a")
	certB := peerCert(t, "device-b")
	ts := time.Now().UnixMilli()

	keyAB, err := VerificationKey(certA, certB, ts)
	require.NoError(t, err)
	keyBA, err := VerificationKey(certB, certA, ts)
	require.NoError(t, err)
	assert.Equal(t, keyAB, keyBA)
	assert.Len(t, keyAB, 8)
}

func TestVerificationKeyDiffersByTimestamp(t *testing.T) {
	certA := peerCert(t, "device-c")
	certB := peerCert(t, "device-d")

	key1, err := VerificationKey(certA, certB, 1000)
	require.NoError(t, err)
	key2, err := VerificationKey(certA, certB, 2000)
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)
}
