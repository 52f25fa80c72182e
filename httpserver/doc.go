/*
Package httpserver serves the device API of the key-share backup system.

The server exposes read-only views of the container, contacts and backups, an
endpoint that ingests scanned key parts, and a restore session that collects
key parts from their holders and opens a backup once the threshold is met.

# Restore sessions

A session moves through idle, collecting and complete:

  - POST /api/restore/init starts collecting. The threshold may be given or
    learned from the shares.
  - POST /api/restore/share adds one encoded key part. A share with an index
    already collected is ignored.
  - POST /api/restore/backup combines the shares and decrypts a stored backup
    or an inline ciphertext. On failure the shares stay collected so more can
    be added.

Shares submitted to a session are never persisted. WaitForRestore lets a
caller block until the first successful restore.

Health endpoints follow the usual livez/readyz/drain/undrain pattern, and
metrics are served on a separate listener.
*/
package httpserver
