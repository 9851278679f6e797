package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/registry"
)

func newTestService(t *testing.T) (*Service, *registry.Registry, *events.Bus) {
	t.Helper()
	reg := registry.New(t.TempDir(), protocol.DeviceInfo{DeviceID: "self", DeviceName: "Workstation"})
	bus := events.NewBus(8)
	cfg := DefaultConfig()
	return New(cfg, reg, bus, nil), reg, bus
}

func TestFallbackRangeExcludesPrimaryPort(t *testing.T) {
	cfg := DefaultConfig()
	ports := fallbackRange(cfg)
	for _, p := range ports {
		assert.NotEqual(t, cfg.PrimaryPort, p)
	}
	assert.Contains(t, ports, cfg.FallbackPortMin)
	assert.Contains(t, ports, cfg.FallbackPortMax)
}

func TestHandleIdentityPublishesDiscoveredThenUpdated(t *testing.T) {
	s, reg, bus := newTestService(t)
	sub := bus.Subscribe()
	defer sub.Close()

	info := protocol.DeviceInfo{DeviceID: "phone-1", DeviceName: "Phone", TCPPort: 1716}
	s.handleIdentity(info, "10.0.0.5")

	select {
	case evt := <-sub.C():
		d, ok := evt.(DeviceDiscovered)
		require.True(t, ok)
		assert.Equal(t, "phone-1", d.Info.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("expected DeviceDiscovered")
	}

	dev, ok := reg.Get("phone-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", dev.Host)

	s.handleIdentity(info, "10.0.0.6")
	select {
	case evt := <-sub.C():
		d, ok := evt.(DeviceUpdated)
		require.True(t, ok)
		assert.Equal(t, "phone-1", d.Info.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("expected DeviceUpdated")
	}
}

func TestSweepOnceExpiresStaleDevicesAndInvokesHook(t *testing.T) {
	s, _, bus := newTestService(t)
	sub := bus.Subscribe()
	defer sub.Close()

	s.lastSeen["phone-2"] = time.Now().Add(-time.Hour)

	var hookCalled bool
	s.OnSweep = func(now time.Time) { hookCalled = true }

	s.sweepOnce()
	assert.True(t, hookCalled)

	select {
	case evt := <-sub.C():
		d, ok := evt.(DeviceTimedOut)
		require.True(t, ok)
		assert.Equal(t, "phone-2", d.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("expected DeviceTimedOut")
	}

	s.mu.Lock()
	_, stillPresent := s.lastSeen["phone-2"]
	s.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestSweepOnceLeavesFreshDevicesAlone(t *testing.T) {
	s, _, _ := newTestService(t)
	s.lastSeen["phone-3"] = time.Now()

	s.sweepOnce()

	s.mu.Lock()
	_, present := s.lastSeen["phone-3"]
	s.mu.Unlock()
	assert.True(t, present)
}

func TestTargetAddressesAlwaysIncludesAdditionalAddrs(t *testing.T) {
	s, _, _ := newTestService(t)
	addrs := s.targetAddresses()
	assert.Contains(t, addrs, "192.168.240.255")
}
