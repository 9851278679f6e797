// Package protoerr collects the sentinel error kinds named in
// SPEC_FULL.md §7, one-to-one with original_source's ProtocolError
// enum (kdeconnect-protocol/src/error.rs). Callers wrap these with
// github.com/pkg/errors.Wrap to attach call-site context; consumers
// match the kind with errors.Is.
package protoerr

import "github.com/pkg/errors"

var (
	// ErrDeviceNotFound means the caller addressed a device_id the
	// registry has never seen.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNotPaired means an operation requires a paired device and the
	// addressed device is not paired.
	ErrNotPaired = errors.New("device not paired")

	// ErrProtocol covers malformed packets: empty type, non-object
	// body, or oversized frame.
	ErrProtocol = errors.New("protocol violation")

	// ErrCertificate covers certificate generation, parsing, or
	// mismatch failures.
	ErrCertificate = errors.New("certificate error")

	// ErrPairingNotPending means accept_pairing was called with no
	// RequestedByPeer transaction outstanding.
	ErrPairingNotPending = errors.New("no pairing request pending")

	// ErrTimeout covers operations that exceeded their deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrAlreadyPaired means request_pairing was called against a
	// device that is already in the Paired state.
	ErrAlreadyPaired = errors.New("device already paired")
)
