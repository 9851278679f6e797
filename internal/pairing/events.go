package pairing

// Event types published on the shared event bus. Grounded on
// original_source's PairingEvent variants (cosmic-ext-connect-protocol
// pairing/handler.rs) and the teacher's Pair/Unpair notifications in
// internal/core/core.go.
type RequestReceived struct {
	DeviceID string
}

type Accepted struct {
	DeviceID string
}

type Rejected struct {
	DeviceID string
}

type Unpaired struct {
	DeviceID string
}

type TimedOut struct {
	DeviceID string
}
