package certstore

import (
	"crypto/x509"
	"os"
)

func parseForTest(der []byte) (*x509.Certificate, error) {
	return x509.ParseCertificate(der)
}

func writeFileForTest(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
