package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Listener accepts inbound TLS connections on a fixed port, handing
// each completed handshake to the caller via Accept.
type Listener struct {
	tcp net.Listener
}

// Listen binds port and wraps it for TLS accepts under cfg.
func Listen(port int, cfg *tls.Config) (*Listener, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	return &Listener{tcp: tls.NewListener(l, cfg)}, nil
}

// Accept blocks for the next inbound connection and completes its TLS
// handshake, bounded by HandshakeTimeout.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.tcp.Accept()
	if err != nil {
		return nil, err
	}
	tlsConn, ok := raw.(*tls.Conn)
	if !ok {
		raw.Close()
		return nil, errors.New("accepted connection is not TLS")
	}

	tlsConn.SetDeadline(time.Now().Add(HandshakeTimeout * time.Second))
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, errors.Wrap(err, "tls handshake")
	}
	tlsConn.SetDeadline(time.Time{})

	return NewConn(tlsConn), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.tcp.Close()
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.tcp.Addr()
}
