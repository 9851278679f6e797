package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Dial opens a TCP connection to host:port and performs a TLS
// handshake under cfg, both bounded by HandshakeTimeout.
func Dial(host string, port int, cfg *tls.Config) (*Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	rawConn, err := net.DialTimeout("tcp", addr, HandshakeTimeout*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	tlsConn := tls.Client(rawConn, cfg)
	tlsConn.SetDeadline(time.Now().Add(HandshakeTimeout * time.Second))
	if err := tlsConn.Handshake(); err != nil {
		rawConn.Close()
		return nil, errors.Wrap(err, "tls handshake")
	}
	tlsConn.SetDeadline(time.Time{})

	return NewConn(tlsConn), nil
}
