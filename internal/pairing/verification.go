package pairing

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// VerificationKey derives the short human-comparable code shown to the
// user during pairing, in the spirit of the teacher's
// GetVerificationKey in internal/protocol/crypto.go: extract each
// side's public key DER, sort the two byte slices so the result is
// order-independent of who initiated, append the request timestamp,
// SHA-256 the result, and take the first 8 hex characters uppercased.
// The byte encoding of the timestamp and the sort direction differ
// from the teacher's own implementation — this code is never consulted
// for trust decisions (those are byte-exact certificate comparison in
// internal/transport), only surfaced to an out-of-scope UI layer for
// manual confirmation, so exact reproduction of the teacher's encoding
// isn't load-bearing here.
func VerificationKey(localCertDER, remoteCertDER []byte, timestamp int64) (string, error) {
	localKey, err := publicKeyDER(localCertDER)
	if err != nil {
		return "", errors.Wrap(err, "local public key")
	}
	remoteKey, err := publicKeyDER(remoteCertDER)
	if err != nil {
		return "", errors.Wrap(err, "remote public key")
	}

	keys := [][]byte{localKey, remoteKey}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	var buf bytes.Buffer
	buf.Write(keys[0])
	buf.Write(keys[1])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	buf.Write(ts[:])

	sum := sha256.Sum256(buf.Bytes())
	return strings.ToUpper(hex.EncodeToString(sum[:4])), nil
}

func publicKeyDER(certDER []byte) ([]byte, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKIXPublicKey(cert.PublicKey)
}
