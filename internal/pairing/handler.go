// Package pairing implements the pairing state machine from
// SPEC_FULL.md §4.5, grounded on original_source's
// cosmic-ext-connect-protocol/src/pairing/handler.rs transition table
// and the teacher's Pair/AcceptPair/Unpair methods in
// internal/core/core.go.
package pairing

import (
	"sync"
	"time"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protoerr"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/registry"
)

// PendingTimeout is how long a Requested/RequestedByPeer transaction
// may sit unresolved before it is swept back to Unpaired. Enforced by
// the same 5s ticker that prunes stale discoveries, per the resolved
// Open Question in SPEC_FULL.md §9.
const PendingTimeout = 30 * time.Second

type pendingEntry struct {
	certDER   []byte
	timestamp time.Time
}

// Handler owns the per-device pairing transactions layered on top of
// the registry's PairingStatus field.
type Handler struct {
	mu      sync.Mutex
	reg     *registry.Registry
	bus     *events.Bus
	pending map[string]pendingEntry
}

// New constructs a pairing Handler bound to reg and publishing
// lifecycle events onto bus.
func New(reg *registry.Registry, bus *events.Bus) *Handler {
	return &Handler{
		reg:     reg,
		bus:     bus,
		pending: make(map[string]pendingEntry),
	}
}

// RequestPairing begins an outbound pairing transaction, returning the
// *.pair packet to send. Re-requesting an already-paired device is
// rejected; requesting again while a transaction is outstanding simply
// refreshes the deadline.
func (h *Handler) RequestPairing(deviceID string) (protocol.Packet, error) {
	dev, _ := h.reg.Get(deviceID)
	if dev.PairingStatus == registry.Paired {
		return protocol.Packet{}, protoerr.ErrAlreadyPaired
	}

	now := time.Now()
	h.reg.SetPairingStatus(deviceID, registry.Requested)
	h.setPending(deviceID, nil, now)

	return protocol.New(protocol.PairKDE, protocol.PairBody{Pair: true, Timestamp: now.UnixMilli()})
}

// HandleIncoming applies an inbound *.pair packet to the transition
// table and returns an outgoing packet when the transition requires an
// immediate reply. The Requested->Paired transition (the peer accepting
// a request we sent) replies with a confirming pair=true packet, per
// the original's Requested arm; every other transition — receiving a
// fresh request, a retransmit, or a rejection/unpair — is handled
// silently, with acceptance and rejection left to explicit user actions
// via AcceptPairing/RejectPairing.
func (h *Handler) HandleIncoming(deviceID string, body protocol.PairBody, peerCertDER []byte) (*protocol.Packet, error) {
	if body.Pair {
		return h.handleRequestOrAccept(deviceID, body, peerCertDER)
	}
	return nil, h.handleRejectOrUnpair(deviceID)
}

func (h *Handler) handleRequestOrAccept(deviceID string, body protocol.PairBody, peerCertDER []byte) (*protocol.Packet, error) {
	dev, _ := h.reg.Get(deviceID)

	switch dev.PairingStatus {
	case registry.Requested:
		// We asked; this is the peer's accept. Trust now established,
		// and the peer expects our own confirming pair=true in reply.
		if err := h.reg.StorePairing(deviceID, peerCertDER); err != nil {
			return nil, err
		}
		h.clearPending(deviceID)
		h.bus.Publish(Accepted{DeviceID: deviceID})

		confirm, err := protocol.New(protocol.PairKDE, protocol.PairBody{Pair: true, Timestamp: time.Now().UnixMilli()})
		if err != nil {
			return nil, err
		}
		return &confirm, nil

	case registry.RequestedByPeer:
		// Retransmit of the peer's original request: refresh the
		// pending deadline and the held certificate, no state change.
		h.setPending(deviceID, peerCertDER, time.Now())

	case registry.Paired:
		// Peer resent a request we already honored; nothing to do.

	default:
		// Unpaired (or unknown device): peer is initiating.
		h.reg.SetPairingStatus(deviceID, registry.RequestedByPeer)
		h.setPending(deviceID, peerCertDER, time.Now())
		h.bus.Publish(RequestReceived{DeviceID: deviceID})
	}
	return nil, nil
}

func (h *Handler) handleRejectOrUnpair(deviceID string) error {
	dev, _ := h.reg.Get(deviceID)
	h.clearPending(deviceID)

	if dev.PairingStatus == registry.Paired {
		if err := h.reg.Forget(deviceID); err != nil {
			return err
		}
		h.bus.Publish(Unpaired{DeviceID: deviceID})
		return nil
	}

	h.reg.SetPairingStatus(deviceID, registry.Unpaired)
	h.bus.Publish(Rejected{DeviceID: deviceID})
	return nil
}

// AcceptPairing accepts a peer-initiated request that is currently
// RequestedByPeer, committing the certificate held since the request
// arrived, and returns the accept packet to send back.
func (h *Handler) AcceptPairing(deviceID string) (protocol.Packet, error) {
	dev, _ := h.reg.Get(deviceID)
	if dev.PairingStatus != registry.RequestedByPeer {
		return protocol.Packet{}, protoerr.ErrPairingNotPending
	}

	h.mu.Lock()
	entry, ok := h.pending[deviceID]
	h.mu.Unlock()
	if !ok {
		return protocol.Packet{}, protoerr.ErrPairingNotPending
	}

	if err := h.reg.StorePairing(deviceID, entry.certDER); err != nil {
		return protocol.Packet{}, err
	}
	h.clearPending(deviceID)
	h.bus.Publish(Accepted{DeviceID: deviceID})

	return protocol.New(protocol.PairKDE, protocol.PairBody{Pair: true, Timestamp: time.Now().UnixMilli()})
}

// RejectPairing declines a peer-initiated or our own outstanding
// request and returns the reject packet to send.
func (h *Handler) RejectPairing(deviceID string) (protocol.Packet, error) {
	h.clearPending(deviceID)
	h.reg.SetPairingStatus(deviceID, registry.Unpaired)
	h.bus.Publish(Rejected{DeviceID: deviceID})

	return protocol.New(protocol.PairKDE, protocol.PairBody{Pair: false})
}

// Unpair tears down an existing pairing and returns the unpair packet
// to send.
func (h *Handler) Unpair(deviceID string) (protocol.Packet, error) {
	dev, ok := h.reg.Get(deviceID)
	if !ok || dev.PairingStatus != registry.Paired {
		return protocol.Packet{}, protoerr.ErrNotPaired
	}

	if err := h.reg.Forget(deviceID); err != nil {
		return protocol.Packet{}, err
	}
	h.clearPending(deviceID)
	h.bus.Publish(Unpaired{DeviceID: deviceID})

	return protocol.New(protocol.PairKDE, protocol.PairBody{Pair: false})
}

// SweepTimeouts reverts any Requested/RequestedByPeer transaction
// older than PendingTimeout back to Unpaired, returning the device IDs
// that timed out. Called by the discovery service's sweep ticker.
func (h *Handler) SweepTimeouts(now time.Time) []string {
	h.mu.Lock()
	var expired []string
	for deviceID, entry := range h.pending {
		if now.Sub(entry.timestamp) > PendingTimeout {
			expired = append(expired, deviceID)
			delete(h.pending, deviceID)
		}
	}
	h.mu.Unlock()

	for _, deviceID := range expired {
		h.reg.SetPairingStatus(deviceID, registry.Unpaired)
		h.bus.Publish(TimedOut{DeviceID: deviceID})
	}
	return expired
}

func (h *Handler) setPending(deviceID string, certDER []byte, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	existing := h.pending[deviceID]
	if certDER == nil {
		certDER = existing.certDER
	}
	h.pending[deviceID] = pendingEntry{certDER: certDER, timestamp: ts}
}

func (h *Handler) clearPending(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, deviceID)
}
