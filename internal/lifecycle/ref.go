package lifecycle

import (
	"crypto/sha256"
	"strings"

	"github.com/mr-tron/base58/base58"
)

const refPrefix = "fok1"

// RefFromID derives the short public reference code shown to users and
// typed back in commands. It hashes the document ID so the code leaks no
// insertion order, then keeps enough base58 to make collisions a unique-
// index event rather than a practical concern.
func RefFromID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return refPrefix + base58.Encode(sum[:6])
}

// NormalizeRef canonicalizes user-typed reference codes. Base58 is case
// sensitive, so only surrounding noise is stripped.
func NormalizeRef(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "#")
	return raw
}
