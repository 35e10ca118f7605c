package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainAction   = "replica/action/v1"
	DomainSnapshot = "replica/cache/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionID computes the content-addressed ID of an action. The ID is
// stable across restarts and replays given the same action fields,
// including the sequence number the store stamped on it.
func ActionID(a Action) (string, error) {
	canonical, err := MarshalCanonical(a.canonicalDoc())
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAction, canonical), nil
}

// SnapshotHash computes the content-addressed hash of a full cache
// snapshot. Two caches with equal canonical form hash identically, which
// is what replay verification compares.
func SnapshotHash(c *Cache) (string, error) {
	canonical, err := MarshalCanonical(c.canonicalDoc())
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustActionID is like ActionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustActionID(a Action) string {
	id, err := ActionID(a)
	if err != nil {
		panic(err)
	}
	return id
}

// MustSnapshotHash is like SnapshotHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotHash(c *Cache) string {
	h, err := SnapshotHash(c)
	if err != nil {
		panic(err)
	}
	return h
}
