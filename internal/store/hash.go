package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainConfig prefixes config hashes. The version suffix allows changing
// the algorithm without colliding with stored hashes.
const DomainConfig = "pcielane/config/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ConfigHash identifies a resolved bench configuration. Runs with equal
// hashes ran on identical settings. The input must be the JSON encoding of
// the config struct, whose field order is fixed.
func ConfigHash(config []byte) string {
	if len(config) == 0 {
		config = []byte("{}")
	}
	return hashWithDomain(DomainConfig, config)
}
