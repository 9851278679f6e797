package transport

import (
	"crypto/tls"
	"time"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// Conn wraps an established *tls.Conn with the length-framed packet
// codec and per-call deadlines, grounded on original_source's
// TlsConnection (kdeconnect-protocol/src/transport/tls.rs).
type Conn struct {
	tls        *tls.Conn
	RemoteAddr string
	PeerCert   []byte
}

// NewConn wraps an already-handshaken TLS connection. The peer's leaf
// certificate is captured once, at handshake time, since that is the
// only certificate state VerifyPeerCertificate validated.
func NewConn(c *tls.Conn) *Conn {
	var peerCert []byte
	state := c.ConnectionState()
	if len(state.PeerCertificates) > 0 {
		peerCert = state.PeerCertificates[0].Raw
	}
	return &Conn{tls: c, RemoteAddr: c.RemoteAddr().String(), PeerCert: peerCert}
}

// SendPacket frames and writes p, bounded by FrameTimeout.
func (c *Conn) SendPacket(p protocol.Packet) error {
	c.tls.SetWriteDeadline(time.Now().Add(FrameTimeout * time.Second))
	return protocol.WriteFrame(c.tls, p)
}

// ReadPacket reads one length-framed packet, bounded by FrameTimeout.
func (c *Conn) ReadPacket() (protocol.Packet, error) {
	c.tls.SetReadDeadline(time.Now().Add(FrameTimeout * time.Second))
	return protocol.ReadFrame(c.tls)
}

// Close closes the underlying TLS connection.
func (c *Conn) Close() error {
	return c.tls.Close()
}
