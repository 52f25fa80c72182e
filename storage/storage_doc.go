// Package storage provides write-once named blob stores for encrypted backups.
//
// A backup stored in the cloud is written under its name. Writing a name a
// backend already holds is a no-op, so a stored ciphertext is never replaced:
//
//   - File system storage, for local directories and synced folders
//   - S3-compatible object storage
//   - IPFS, through the node's mutable file system
//   - HashiCorp Vault KV v2
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//   - file:///var/lib/keyshare/backups
//   - s3://AKIA...:secret@bucket-name/prefix/?region=us-west-2
//   - ipfs://127.0.0.1:5001/keyshare?timeout=10s
//   - vault://s.token@vault.example.com:8200/secret/keyshare
//
// Several locations can be combined with BlobStoreFactory.CreateMultiBackend.
// The combined store writes to every available backend and reads from the
// first one holding the name.
package storage
