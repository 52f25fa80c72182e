// Package recovery creates encrypted backups and restores them from shares.
//
// A backup is sealed to the public key of the active container and linked to it
// by the container timestamp. Restoring combines at least threshold shares
// with distinct indexes into the private key and decrypts the ciphertext.
//
// # Failure Modes
//
//   - fewer shares than the threshold, or shares that cannot be combined:
//     *interfaces.ReconstructionError carrying the share counts
//   - a combined key that does not open the backup, typically because shares of
//     different containers were mixed: *interfaces.DecryptionError
//
// No plaintext is returned on any failure, and the combined private key is
// wiped as soon as decryption finished.
//
// Collector accumulates shares scanned back one at a time, ignoring repeated
// submissions of the same share, and restores once enough are present.
package recovery
