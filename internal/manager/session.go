package manager

import (
	"context"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// sessionCommand is the mailbox message type for a running session,
// grounded on original_source's ConnectionCommand enum.
type sessionCommand interface{ isSessionCommand() }

type sendPacketCmd struct{ packet protocol.Packet }

func (sendPacketCmd) isSessionCommand() {}

type closeCmd struct{}

func (closeCmd) isSessionCommand() {}

// activeConnection is the manager's handle on one running session.
// cancel is a real context.CancelFunc bound to the session's goroutine,
// resolving the Open Question left by original_source's "Placeholder"
// task-handle comment: calling cancel reliably stops the session loop
// and its reader goroutine.
type activeConnection struct {
	DeviceID   string
	RemoteAddr string
	PeerCert   []byte

	commands chan sessionCommand
	cancel   context.CancelFunc
	done     chan struct{}
}
