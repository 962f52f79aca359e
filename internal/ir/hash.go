package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainTuple = "strata/tuple/v1"
	DomainGroup = "strata/group/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TupleHash identifies a tuple of values, e.g. the dependency values of a
// computed field for one record. Equal tuples hash identically.
func TupleHash(values ...Value) string {
	return hashWithDomain(DomainTuple, []byte(CanonicalKey(List(values))))
}

// GroupHash identifies an aggregation group.
func GroupHash(group Record) string {
	return hashWithDomain(DomainGroup, []byte(CanonicalKey(group)))
}
