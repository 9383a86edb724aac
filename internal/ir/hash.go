package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/relq/internal/expr"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the encoding to change without collisions.
const (
	DomainQuery = "relq/query/v" + FingerprintVersion
)

// hashWithDomain computes SHA256(domain + 0x00 + data), hex encoded.
// The null byte separates the domain from the data.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content-addressed identity of a query model.
// Models that differ only in the identity of their QuerySource pointers
// or in the values later bound to their parameters share a fingerprint.
// It fails when a captured constant has no canonical form.
func Fingerprint(m *expr.QueryModel) (string, error) {
	obj, err := EncodeQuery(m)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: %w", err)
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// MustFingerprint is Fingerprint for models known to be encodable.
// It panics on error.
func MustFingerprint(m *expr.QueryModel) string {
	fp, err := Fingerprint(m)
	if err != nil {
		panic(err)
	}
	return fp
}
