package am

import "io"

// Encryptor protects catalog snapshots before they leave the machine.
// Encryption needs only the public key; decryption needs a passphrase to
// unlock the private key.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is wrong.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key for the length of a restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
