// Package protocol defines the wire envelope exchanged between devices
// and the identity/pairing body shapes carried inside it.
package protocol

import (
	"encoding/json"
	"time"
)

// IdentityKDE and IdentityCConnect are the two attested names for the
// identity packet type. Outgoing identity and pair packets use the
// kdeconnect.* names; both spellings are accepted on receipt. See
// SPEC_FULL.md's Open Question resolution on naming.
const (
	IdentityKDE      = "kdeconnect.identity"
	IdentityCConnect = "cconnect.identity"

	PairKDE      = "kdeconnect.pair"
	PairCConnect = "cconnect.pair"

	ProtocolVersion = 7
)

// IsIdentityType reports whether t is either spelling of the identity
// packet type.
func IsIdentityType(t string) bool {
	return t == IdentityKDE || t == IdentityCConnect
}

// IsPairType reports whether t is either spelling of the pair packet type.
func IsPairType(t string) bool {
	return t == PairKDE || t == PairCConnect
}

// DeviceType enumerates the advertised device kinds.
type DeviceType string

const (
	DeviceTypePhone   DeviceType = "phone"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeLaptop  DeviceType = "laptop"
	DeviceTypeTV      DeviceType = "tv"
)

// DeviceInfo is the identity advertised over UDP and exchanged as the
// first TLS packet.
type DeviceInfo struct {
	DeviceID             string     `json:"deviceId"`
	DeviceName           string     `json:"deviceName"`
	DeviceType           DeviceType `json:"deviceType"`
	ProtocolVersion      int        `json:"protocolVersion"`
	TCPPort              int        `json:"tcpPort"`
	IncomingCapabilities []string   `json:"incomingCapabilities"`
	OutgoingCapabilities []string   `json:"outgoingCapabilities"`
}

// PairBody is the body of a *.pair packet.
type PairBody struct {
	Pair      bool  `json:"pair"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Packet is the wire envelope: a typed JSON object carrying a
// free-form body.
type Packet struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// New constructs a packet with a fresh millisecond-timestamp ID and a
// marshaled body.
func New(packetType string, body interface{}) (Packet, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Packet{}, err
	}
	return Packet{
		ID:   time.Now().UnixMilli(),
		Type: packetType,
		Body: raw,
	}, nil
}

// DecodeBody unmarshals the packet body into v.
func (p Packet) DecodeBody(v interface{}) error {
	return json.Unmarshal(p.Body, v)
}
