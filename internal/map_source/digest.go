package map_source

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyDigest is a short fingerprint of a definition key, safe for logs and
// ETags. Keys hold whole resolved definitions, so the raw text stays out of
// log lines and headers.
func KeyDigest(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])[:16]
}
