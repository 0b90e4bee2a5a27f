// Package sha256 derives record IDs from product addresses.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher implements scrape.Hasher. Addresses that differ only in surrounding
// whitespace or a fragment map to the same record ID.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// HashString returns the hex SHA-256 digest of the normalized address.
func (Hasher) HashString(address string) string {
	sum := sha256.Sum256([]byte(normalize(address)))
	return hex.EncodeToString(sum[:])
}

func normalize(address string) string {
	address = strings.TrimSpace(address)
	if base, _, found := strings.Cut(address, "#"); found {
		return base
	}
	return address
}
