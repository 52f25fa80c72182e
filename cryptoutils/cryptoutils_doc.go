// Package cryptoutils provides the cryptographic collaborators of the key-share
// backup system.
//
// ShamirSplitter splits a private key into shares with Shamir's secret sharing
// over GF(2^8) and combines them back. ECIESCipher generates secp256k1 keypairs
// and encrypts backups to a public key with ECIES.
//
// # Share Format
//
// Each share produced by ShamirSplitter has the layout
//
//	[y-values (len(secret) bytes)][x-coordinate (1 byte)]
//
// Two shares with the same x-coordinate are the same point and add nothing to a
// reconstruction. ShareIndex extracts the x-coordinate.
//
// # Key Encoding
//
// Public keys are uncompressed secp256k1 points (65 bytes). Private keys are
// the 32-byte big-endian scalar.
package cryptoutils
