// Package main (cmd/keybackup) is the command line front end of a key backup
// device.
//
// A device holds one container: an asymmetric keypair whose private key is
// split into N key parts, M of which restore it. Key parts are handed to
// contacts by QR code, printed sheet or email and later scanned back to
// restore backups encrypted to the container's public key.
//
// State is kept in a SQLite file by default (--db), or in PostgreSQL when a
// postgres:// DSN is given. Encrypted backups may additionally be written to
// one or more cloud locations (--cloud file://, s3://, ipfs://, vault://).
// Every flag can also be set through its KEYSHARE_* environment variable or a
// .env file in the working directory.
//
// Typical session:
//
//	keybackup user set-name Alice
//	keybackup init --threshold 3 --total 5
//	keybackup contacts add --name Bob --email bob@example.com
//	keybackup contacts select --method email 1
//	keybackup contacts send 1
//	keybackup backup create --name wallet --store CLOUD < seed.txt
//
// Restoring on a new device:
//
//	keybackup scan --restore --backup 1 < scanned-parts.txt
//
// The serve command exposes the same device over HTTP, and the remote
// commands talk to such a server.
package main
