/*
Package clients provides a Go client for the device API.

DeviceClient wraps the read-only views and the scan endpoint, and drives a
restore session:

	c := clients.NewDeviceClient("http://127.0.0.1:8080")
	if err := c.InitRestore(0); err != nil { ... }
	for _, payload := range scanned {
		status, err := c.SubmitShare(payload)
		...
	}
	plaintext, err := c.RestoreBackup(api.RestoreRequest{BackupID: id})

Non-2xx responses are returned as *APIError carrying the status code and the
server's error message.
*/
package clients
