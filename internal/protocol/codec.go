package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// MaxPacketSize is the hard cap on a single encoded packet, shared by
// both the newline-delimited UDP encoding and the length-framed TLS
// encoding.
const MaxPacketSize = 10 * 1024 * 1024 // 10 MiB

// ErrPacketTooLarge is returned when a frame's declared length
// (ReadFrame), an encoded frame (EncodeFrame), or a received line
// (DecodeLine) exceeds MaxPacketSize.
var ErrPacketTooLarge = errors.New("packet exceeds maximum size")

// ErrInvalidPacket is returned when a decoded packet fails the
// structural invariants (non-empty type, object body).
var ErrInvalidPacket = errors.New("invalid packet")

// validate enforces the codec-level invariants from SPEC_FULL.md §4.1:
// packet_type is non-empty and body is a JSON object (or absent).
func validate(p Packet) error {
	if p.Type == "" {
		return errors.Wrap(ErrInvalidPacket, "empty packet type")
	}
	if len(p.Body) > 0 {
		trimmed := trimLeadingSpace(p.Body)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return errors.Wrap(ErrInvalidPacket, "body is not a JSON object")
		}
	}
	return nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return b[i:]
		}
	}
	return b[i:]
}

// EncodeLine serializes p as a single UTF-8 JSON object terminated by
// a newline, for the UDP discovery path.
func EncodeLine(p Packet) ([]byte, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "marshal packet")
	}
	return append(data, '\n'), nil
}

// DecodeLine parses a single newline-terminated (or bare) JSON packet.
func DecodeLine(data []byte) (Packet, error) {
	if len(data) > MaxPacketSize {
		return Packet{}, ErrPacketTooLarge
	}
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, errors.Wrap(err, "unmarshal packet")
	}
	if err := validate(p); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// EncodeFrame serializes p as a 4-byte big-endian length prefix
// followed by the JSON body, for the TLS transport path.
func EncodeFrame(p Packet) ([]byte, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "marshal packet")
	}
	if len(data) > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	return buf, nil
}

// WriteFrame encodes and writes p to w in a single call.
func WriteFrame(w io.Writer, p Packet) error {
	buf, err := EncodeFrame(p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
// Frames whose declared length exceeds MaxPacketSize are a fatal
// protocol error: the caller must close the underlying connection.
func ReadFrame(r io.Reader) (Packet, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Packet{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxPacketSize {
		return Packet{}, ErrPacketTooLarge
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Packet{}, errors.Wrap(err, "read frame body")
	}
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, errors.Wrap(err, "unmarshal packet")
	}
	if err := validate(p); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// String renders a packet for log messages.
func (p Packet) String() string {
	return fmt.Sprintf("%s#%d", p.Type, p.ID)
}
