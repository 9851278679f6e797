// Package certstore generates, persists, and loads each device's
// self-signed identity certificate, and computes the SHA-256
// fingerprint used for manual pairing verification.
//
// Grounded on the teacher's internal/protocol/crypto.go
// (GenerateCertificate) and on original_source's
// cosmic-ext-connect-protocol/src/pairing/handler.rs doc comment,
// which pins the exact subject fields, validity, and serial number.
package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protoerr"
)

const (
	validity     = 10 * 365 * 24 * time.Hour
	ownCertFile  = "device_cert.pem"
	ownKeyFile   = "device_key.pem"
	serialNumber = 10
)

// Info is this device's identity: certificate, private key, and the
// fingerprint derived from the certificate's DER encoding.
type Info struct {
	DeviceID    string
	Certificate []byte // DER
	PrivateKey  []byte // PKCS#8 DER
	Fingerprint string
}

// TLSCertificate adapts Info into a crypto/tls.Certificate suitable
// for tls.Config.Certificates.
func (i Info) TLSCertificate() (tls.Certificate, error) {
	key, err := x509.ParsePKCS8PrivateKey(i.PrivateKey)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(protoerr.ErrCertificate, err.Error())
	}
	return tls.Certificate{
		Certificate: [][]byte{i.Certificate},
		PrivateKey:  key,
	}, nil
}

// Generate creates a new RSA-2048 self-signed certificate for
// deviceID, valid for 10 years starting now, with subject
// O=KDE, OU=Kde connect, CN=deviceID.
func Generate(deviceID string) (Info, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return Info{}, errors.Wrap(protoerr.ErrCertificate, err.Error())
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: big.NewInt(serialNumber),
		Subject: pkix.Name{
			Organization:       []string{"KDE"},
			OrganizationalUnit: []string{"Kde connect"},
			CommonName:         deviceID,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return Info{}, errors.Wrap(protoerr.ErrCertificate, err.Error())
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return Info{}, errors.Wrap(protoerr.ErrCertificate, err.Error())
	}

	return Info{
		DeviceID:    deviceID,
		Certificate: der,
		PrivateKey:  pkcs8,
		Fingerprint: Fingerprint(der),
	}, nil
}

// Fingerprint renders the SHA-256 of certDER as 32 colon-joined,
// uppercase two-hex-digit groups (95 characters total).
func Fingerprint(certDER []byte) string {
	sum := sha256.Sum256(certDER)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// Save writes the certificate and key as PEM files under dir, using
// the fixed own-identity file names.
func Save(dir string, info Info) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create cert dir")
	}
	certPEM := encodePEM("CERTIFICATE", info.Certificate)
	keyPEM := encodePEM("PRIVATE KEY", info.PrivateKey)

	tmpCert := filepath.Join(dir, ownCertFile+".tmp")
	tmpKey := filepath.Join(dir, ownKeyFile+".tmp")
	if err := os.WriteFile(tmpCert, certPEM, 0o600); err != nil {
		return errors.Wrap(err, "write cert")
	}
	if err := os.WriteFile(tmpKey, keyPEM, 0o600); err != nil {
		os.Remove(tmpCert)
		return errors.Wrap(err, "write key")
	}
	if err := os.Rename(tmpCert, filepath.Join(dir, ownCertFile)); err != nil {
		return errors.Wrap(err, "install cert")
	}
	if err := os.Rename(tmpKey, filepath.Join(dir, ownKeyFile)); err != nil {
		return errors.Wrap(err, "install key")
	}
	return nil
}

// Load reads the own-identity PEM files from dir and validates that
// the certificate's subject CN matches deviceID.
func Load(dir, deviceID string) (Info, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, ownCertFile))
	if err != nil {
		return Info{}, err
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, ownKeyFile))
	if err != nil {
		return Info{}, err
	}

	certDER, err := decodePEM(certPEM)
	if err != nil {
		return Info{}, errors.Wrap(protoerr.ErrCertificate, err.Error())
	}
	keyDER, err := decodePEM(keyPEM)
	if err != nil {
		return Info{}, errors.Wrap(protoerr.ErrCertificate, err.Error())
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return Info{}, errors.Wrap(protoerr.ErrCertificate, err.Error())
	}
	if deviceID != "" && cert.Subject.CommonName != deviceID {
		return Info{}, errors.Wrapf(protoerr.ErrCertificate,
			"certificate CN %q does not match device id %q", cert.Subject.CommonName, deviceID)
	}

	return Info{
		DeviceID:    cert.Subject.CommonName,
		Certificate: certDER,
		PrivateKey:  keyDER,
		Fingerprint: Fingerprint(certDER),
	}, nil
}

// SavePeerCert writes a paired peer's certificate as
// dir/<deviceID>.pem, containing only the certificate (no key).
func SavePeerCert(dir, deviceID string, certDER []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create trust store dir")
	}
	path := filepath.Join(dir, deviceID+".pem")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encodePEM("CERTIFICATE", certDER), 0o600); err != nil {
		return errors.Wrap(err, "write peer cert")
	}
	return os.Rename(tmp, path)
}

// RemovePeerCert deletes dir/<deviceID>.pem if present. Removing an
// absent file is not an error.
func RemovePeerCert(dir, deviceID string) error {
	err := os.Remove(filepath.Join(dir, deviceID+".pem"))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove peer cert")
	}
	return nil
}

// LoadPeerCerts reads every `<device_id>.pem` file in dir except the
// own-identity files, skipping unparseable entries with the returned
// warnings slice instead of failing the whole load.
func LoadPeerCerts(dir string) (map[string][]byte, []string) {
	result := make(map[string][]byte)
	var warnings []string

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		deviceID := strings.TrimSuffix(entry.Name(), ".pem")
		if deviceID == "device_cert" || deviceID == "device_key" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		der, err := decodePEM(data)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		result[deviceID] = der
	}
	return result, warnings
}
