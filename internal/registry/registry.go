// Package registry holds the set of known devices — discovered,
// connecting, paired — and persists the paired subset plus our own
// identity to a JSON config file, mirroring the teacher's
// internal/core/storage.go Config/SaveConfig/LoadConfig round trip.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/certstore"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
)

// ConnectionState mirrors SPEC_FULL.md §3.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// PairingStatus mirrors SPEC_FULL.md §3.
type PairingStatus string

const (
	Unpaired        PairingStatus = "unpaired"
	Requested       PairingStatus = "requested"
	RequestedByPeer PairingStatus = "requested_by_peer"
	Paired          PairingStatus = "paired"
)

// Device is the runtime entity keyed by DeviceID. Invariant:
// IsTrusted <=> PairingStatus == Paired <=> CertificateData != nil.
type Device struct {
	protocol.DeviceInfo

	ConnectionState ConnectionState `json:"connectionState"`
	PairingStatus   PairingStatus   `json:"pairingStatus"`
	IsTrusted       bool            `json:"isTrusted"`

	LastSeen      int64 `json:"lastSeen"`
	LastConnected int64 `json:"lastConnected"`

	Host string `json:"host"`
	Port int    `json:"port"`

	CertificateFingerprint string `json:"certificateFingerprint,omitempty"`
	CertificateData        []byte `json:"-"` // never serialized to config.json; lives in trust_store/*.pem
}

// config is the on-disk shape persisted to config.json: our own
// identity plus the paired subset of the device map (certificate
// bytes excluded — those live as PEM files in the trust store).
type config struct {
	Identity protocol.DeviceInfo        `json:"identity"`
	Paired   map[string]persistedDevice `json:"pairedDevices"`
}

type persistedDevice struct {
	Device                 Device `json:"device"`
	CertificateFingerprint string `json:"certificateFingerprint"`
}

// Registry is the single shared, lock-guarded device table.
type Registry struct {
	mu sync.RWMutex

	configDir   string
	trustDir    string
	ownIdentity protocol.DeviceInfo
	devices     map[string]*Device
}

// New constructs an empty registry rooted at configDir, with the
// trust store at configDir/trust_store.
func New(configDir string, ownIdentity protocol.DeviceInfo) *Registry {
	return &Registry{
		configDir:   configDir,
		trustDir:    filepath.Join(configDir, "trust_store"),
		ownIdentity: ownIdentity,
		devices:     make(map[string]*Device),
	}
}

// TrustDir returns the directory holding per-peer certificate PEM
// files.
func (r *Registry) TrustDir() string {
	return r.trustDir
}

// OwnIdentity returns our own advertised identity.
func (r *Registry) OwnIdentity() protocol.DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownIdentity
}

// SetOwnIdentity updates the advertised identity (e.g. device name
// changed) and persists it.
func (r *Registry) SetOwnIdentity(info protocol.DeviceInfo) error {
	r.mu.Lock()
	r.ownIdentity = info
	r.mu.Unlock()
	return r.save()
}

// UpsertDiscovered inserts or refreshes a discovered device, preserving
// any existing pairing/certificate fields.
func (r *Registry) UpsertDiscovered(info protocol.DeviceInfo, host string, port int) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().Unix()
	dev, ok := r.devices[info.DeviceID]
	if !ok {
		dev = &Device{
			DeviceInfo:      info,
			ConnectionState: Disconnected,
			PairingStatus:   Unpaired,
		}
		r.devices[info.DeviceID] = dev
	}
	dev.DeviceInfo = info
	dev.Host = host
	dev.Port = port
	dev.LastSeen = now
	return dev
}

// MarkConnected transitions a device to Connected and records the
// observed endpoint and timestamp.
func (r *Registry) MarkConnected(deviceID, host string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[deviceID]
	if !ok {
		dev = &Device{DeviceInfo: protocol.DeviceInfo{DeviceID: deviceID}, PairingStatus: Unpaired}
		r.devices[deviceID] = dev
	}
	dev.ConnectionState = Connected
	dev.Host = host
	dev.Port = port
	now := time.Now().Unix()
	dev.LastConnected = now
	dev.LastSeen = now
	return nil
}

// MarkDisconnected transitions a device to Disconnected.
func (r *Registry) MarkDisconnected(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[deviceID]
	if !ok {
		return nil
	}
	dev.ConnectionState = Disconnected
	return nil
}

// StorePairing persists certDER to the trust store, marks the device
// Paired/trusted, and persists the config. On any storage failure the
// in-memory state is left untouched (atomicity per SPEC_FULL.md §4.3).
func (r *Registry) StorePairing(deviceID string, certDER []byte) error {
	if err := certstore.SavePeerCert(r.trustDir, deviceID, certDER); err != nil {
		return errors.Wrap(err, "store pairing certificate")
	}

	r.mu.Lock()
	dev, ok := r.devices[deviceID]
	if !ok {
		dev = &Device{DeviceInfo: protocol.DeviceInfo{DeviceID: deviceID}}
		r.devices[deviceID] = dev
	}
	prev := *dev
	dev.PairingStatus = Paired
	dev.IsTrusted = true
	dev.CertificateData = certDER
	dev.CertificateFingerprint = certstore.Fingerprint(certDER)
	r.mu.Unlock()

	if err := r.save(); err != nil {
		r.mu.Lock()
		if ok {
			*dev = prev
		} else {
			delete(r.devices, deviceID)
		}
		r.mu.Unlock()
		if prev.PairingStatus != Paired {
			certstore.RemovePeerCert(r.trustDir, deviceID)
		}
		return err
	}
	return nil
}

// Forget deletes the peer's certificate file atomically before
// resetting in-memory state to Unpaired.
func (r *Registry) Forget(deviceID string) error {
	if err := certstore.RemovePeerCert(r.trustDir, deviceID); err != nil {
		return errors.Wrap(err, "remove pairing certificate")
	}

	r.mu.Lock()
	if dev, ok := r.devices[deviceID]; ok {
		dev.PairingStatus = Unpaired
		dev.IsTrusted = false
		dev.CertificateData = nil
		dev.CertificateFingerprint = ""
	}
	r.mu.Unlock()

	return r.save()
}

// Get returns a copy of the device entry, if known.
func (r *Registry) Get(deviceID string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

// PairedDevices returns every device whose PairingStatus is Paired.
func (r *Registry) PairedDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Device
	for _, dev := range r.devices {
		if dev.PairingStatus == Paired {
			out = append(out, *dev)
		}
	}
	return out
}

// AllDevices returns every known device.
func (r *Registry) AllDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, *dev)
	}
	return out
}

// setPairingStatus is used by the pairing handler to move a device
// through Requested/RequestedByPeer without touching trust state.
func (r *Registry) setPairingStatus(deviceID string, status PairingStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[deviceID]
	if !ok {
		dev = &Device{DeviceInfo: protocol.DeviceInfo{DeviceID: deviceID}}
		r.devices[deviceID] = dev
	}
	dev.PairingStatus = status
}

// SetPairingStatus is the exported form used by internal/pairing.
func (r *Registry) SetPairingStatus(deviceID string, status PairingStatus) {
	r.setPairingStatus(deviceID, status)
}

func (r *Registry) save() error {
	r.mu.RLock()
	cfg := config{
		Identity: r.ownIdentity,
		Paired:   make(map[string]persistedDevice),
	}
	for id, dev := range r.devices {
		if dev.PairingStatus == Paired {
			cfg.Paired[id] = persistedDevice{Device: *dev, CertificateFingerprint: dev.CertificateFingerprint}
		}
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.MkdirAll(r.configDir, 0o700); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	path := filepath.Join(r.configDir, "config.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write config")
	}
	return os.Rename(tmp, path)
}

// Load reads config.json (if present) and the trust store PEM files,
// reconstructing the paired device set. A missing config file is not
// an error — callers proceed with an empty registry.
func Load(configDir string) (*Registry, error) {
	r := &Registry{
		configDir: configDir,
		trustDir:  filepath.Join(configDir, "trust_store"),
		devices:   make(map[string]*Device),
	}

	data, err := os.ReadFile(filepath.Join(configDir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	r.ownIdentity = cfg.Identity

	certs, _ := certstore.LoadPeerCerts(r.trustDir)
	for id, pd := range cfg.Paired {
		dev := pd.Device
		if der, ok := certs[id]; ok {
			dev.CertificateData = der
			dev.CertificateFingerprint = certstore.Fingerprint(der)
			dev.IsTrusted = true
			dev.PairingStatus = Paired
		} else {
			// Config claims pairing but the cert file is gone: trust
			// the filesystem over the config snapshot.
			dev.IsTrusted = false
			dev.PairingStatus = Unpaired
		}
		d := dev
		r.devices[id] = &d
	}
	return r, nil
}

// Save exposes the persistence routine for callers that mutate the
// own identity or paired set outside the registry's own setters.
func (r *Registry) Save() error { return r.save() }
