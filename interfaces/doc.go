// Package interfaces defines the core data model and collaborator contracts for
// the key-share backup system, separating interface definitions from
// implementations.
//
// # Data Model
//
//   - Container: asymmetric keypair with threshold parameters (M of N)
//   - KeyPart: one share of a split private key, own or foreign
//   - Contact: recipient of a share with its SendStatus and SendMethod
//   - Backup: payload encrypted to a container public key
//   - Preferences: user display name and the key-shared flag
//
// # Collaborator Interfaces
//
//   - SecretSplitter: Shamir split and combine arithmetic
//   - Cipher: asymmetric keypair generation, encryption and decryption
//   - Store: relational persistence with atomic batches
//   - BlobStore: write-once named storage used for cloud backups
//   - Channel: out-of-band share transmission (QR, print, email)
//   - ContactBook: address book lookups for contact display data
//
// # Error Types
//
// Sentinel errors are matched with errors.Is, typed errors (ThresholdError,
// TransportSizeError, ProvenanceError, ReconstructionError, DecryptionError,
// PersistenceError) with errors.As.
package interfaces
