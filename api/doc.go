/*
Package api holds the wire types and server configuration of the key-share
backup HTTP API.

The server itself lives in package httpserver and the Go client in
api/clients. All responses are JSON. Private keys, plaintexts and share bytes
never appear in a response, with the single exception of the restore endpoint,
which returns the recovered plaintext to the caller that supplied enough shares.

# Endpoints

	GET  /api/status            container and hand-out summary
	GET  /api/contacts          contacts with their send status
	GET  /api/backups           backups, oldest first
	POST /api/scan              ingest one encoded key part (text/plain body)
	GET  /api/restore/status    share collection progress
	POST /api/restore/init      start collecting shares
	POST /api/restore/share     add one encoded key part to the collection
	POST /api/restore/backup    open a backup with the collected shares
	GET  /livez, /readyz, /drain, /undrain
*/
package api
