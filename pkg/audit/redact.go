package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashActorID returns the salted SHA-256 of an actor identifier so
// audit rows never carry raw principal IDs.
func HashActorID(id string, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}
