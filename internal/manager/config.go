package manager

import "time"

// Config governs the connection manager, grounded on original_source's
// ConnectionConfig (kdeconnect-protocol/src/connection/manager.rs).
type Config struct {
	// ListenPort is the TCP port the manager accepts inbound TLS
	// connections on.
	ListenPort int

	// KeepAliveInterval is how often a session sends a ping packet to
	// detect a dead peer, whether or not other traffic is flowing.
	KeepAliveInterval time.Duration

	// ConnectionTimeout is carried in the configuration but is not
	// consulted by the session loop. A session that receives no packet
	// ends when its pending frame read exceeds transport.FrameTimeout
	// (30s); there is no separate 60s idle cutoff.
	ConnectionTimeout time.Duration
}

// DefaultConfig mirrors the original's defaults: port 1716,
// 30s keep-alive, 60s connection timeout.
func DefaultConfig() Config {
	return Config{
		ListenPort:        1716,
		KeepAliveInterval: 30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
	}
}
