package discovery

import "time"

// Config governs the UDP/mDNS discovery service. Defaults are
// grounded on original_source's DiscoveryConfig
// (cosmic-ext-connect-protocol/src/discovery/service.rs).
type Config struct {
	// BroadcastInterval is how often an identity broadcast is sent.
	BroadcastInterval time.Duration

	// SweepInterval is how often the stale-device/pairing-timeout sweep
	// runs, independent of BroadcastInterval.
	SweepInterval time.Duration

	// DeviceTimeout is how long a device may go unseen before it is
	// pruned from the discovered set.
	DeviceTimeout time.Duration

	// PrimaryPort is tried first when binding the listening socket.
	PrimaryPort int

	// FallbackPortMin/Max bound the range tried when PrimaryPort is
	// already taken by another device on the same host.
	FallbackPortMin int
	FallbackPortMax int

	// CompatPort is the legacy KDE Connect port broadcasts are
	// additionally sent to, for interoperability with older peers.
	CompatPort int

	// AdditionalBroadcastAddrs are sent to on every cycle in addition
	// to the interfaces' own broadcast addresses — e.g. the Waydroid
	// bridge network, which does not appear in net.Interfaces().
	AdditionalBroadcastAddrs []string
}

// DefaultConfig mirrors the original's defaults: 5s broadcast interval,
// 5s independent sweep interval, 30s device timeout, port 1816 primary
// with 1814-1864 fallback, compat broadcast to 1716, and the Waydroid
// bridge address pre-seeded.
func DefaultConfig() Config {
	return Config{
		BroadcastInterval:        5 * time.Second,
		SweepInterval:            5 * time.Second,
		DeviceTimeout:            30 * time.Second,
		PrimaryPort:              1816,
		FallbackPortMin:          1814,
		FallbackPortMax:          1864,
		CompatPort:               1716,
		AdditionalBroadcastAddrs: []string{"192.168.240.255"},
	}
}
