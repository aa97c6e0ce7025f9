package testutil

import (
	"crypto/sha256"

	"am-go/internal/model"
)

// HashOf returns the SHA-256 content hash of data, matching FakeParser and
// the VPK parser.
func HashOf(data string) model.ContentHash {
	h := sha256.Sum256([]byte(data))
	return model.ContentHash(h[:])
}
