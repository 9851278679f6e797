package certstore

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSubjectFields(t *testing.T) {
	info, err := Generate("device-123")
	require.NoError(t, err)

	cert, err := parseForTest(info.Certificate)
	require.NoError(t, err)
	assert.Equal(t, "device-123", cert.Subject.CommonName)
	assert.Equal(t, []string{"KDE"}, cert.Subject.Organization)
	assert.Equal(t, []string{"Kde connect"}, cert.Subject.OrganizationalUnit)
}

func TestFingerprintFormat(t *testing.T) {
	info, err := Generate("device-abc")
	require.NoError(t, err)

	parts := strings.Split(info.Fingerprint, ":")
	require.Len(t, parts, 32)
	assert.Len(t, info.Fingerprint, 95)
	for _, part := range parts {
		assert.Len(t, part, 2)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	info, err := Generate("device-xyz")
	require.NoError(t, err)
	assert.Equal(t, info.Fingerprint, Fingerprint(info.Certificate))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original, err := Generate("device-roundtrip")
	require.NoError(t, err)

	require.NoError(t, Save(dir, original))
	loaded, err := Load(dir, "device-roundtrip")
	require.NoError(t, err)
	assert.Equal(t, original.Fingerprint, loaded.Fingerprint)
}

func TestLoadRejectsDeviceIDMismatch(t *testing.T) {
	dir := t.TempDir()
	info, err := Generate("device-real")
	require.NoError(t, err)
	require.NoError(t, Save(dir, info))

	_, err = Load(dir, "device-impostor")
	assert.Error(t, err)
}

func TestPeerCertLifecycle(t *testing.T) {
	dir := t.TempDir()
	info, err := Generate("peer-1")
	require.NoError(t, err)

	require.NoError(t, SavePeerCert(dir, "peer-1", info.Certificate))
	assert.FileExists(t, filepath.Join(dir, "peer-1.pem"))

	certs, warnings := LoadPeerCerts(dir)
	assert.Empty(t, warnings)
	assert.Equal(t, info.Certificate, certs["peer-1"])

	require.NoError(t, RemovePeerCert(dir, "peer-1"))
	assert.NoFileExists(t, filepath.Join(dir, "peer-1.pem"))

	// Removing an already-absent file is not an error.
	require.NoError(t, RemovePeerCert(dir, "peer-1"))
}

func TestLoadPeerCertsToleratesUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFileForTest(filepath.Join(dir, "garbage.pem"), []byte("not pem data")))

	certs, warnings := LoadPeerCerts(dir)
	assert.Empty(t, certs)
	assert.Len(t, warnings, 1)
}
