package testutil

import (
	"am-go/internal/encryption"
)

// NewTestEncryptor creates a deterministic encryptor for snapshot tests.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
