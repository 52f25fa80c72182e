package clients

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/keyshare-backup/api"
)

// APIError is a non-2xx response of the device API.
type APIError struct {
	StatusCode int
	Message    string
	// Rule is set when a scanned key part was rejected.
	Rule string
}

func (e *APIError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("request failed with code %d: %s (%s)", e.StatusCode, e.Message, e.Rule)
	}
	return fmt.Sprintf("request failed with code %d: %s", e.StatusCode, e.Message)
}

// DeviceClient talks to a running device API server.
type DeviceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDeviceClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080". The default timeout is 30 seconds.
func NewDeviceClient(baseURL string, timeout ...time.Duration) *DeviceClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &DeviceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Status returns the container and hand-out summary.
func (c *DeviceClient) Status() (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(http.MethodGet, "/api/status", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Contacts lists the contacts of the active container.
func (c *DeviceClient) Contacts() ([]api.ContactView, error) {
	var resp []api.ContactView
	if err := c.do(http.MethodGet, "/api/contacts", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Backups lists the backups, oldest first.
func (c *DeviceClient) Backups() ([]api.BackupView, error) {
	var resp []api.BackupView
	if err := c.do(http.MethodGet, "/api/backups", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Scan submits one scanned key part payload for ingestion.
func (c *DeviceClient) Scan(payload string) (*api.ScanResponse, error) {
	var resp api.ScanResponse
	if err := c.do(http.MethodPost, "/api/scan", "text/plain", []byte(payload), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RestoreStatus returns the progress of the restore session.
func (c *DeviceClient) RestoreStatus() (*api.RestoreStatusResponse, error) {
	var resp api.RestoreStatusResponse
	if err := c.do(http.MethodGet, "/api/restore/status", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitRestore starts a restore session. A threshold of 0 is learned from the shares.
func (c *DeviceClient) InitRestore(threshold int) error {
	reqJSON, err := json.Marshal(map[string]int{"threshold": threshold})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(http.MethodPost, "/api/restore/init", "application/json", reqJSON, nil)
}

// SubmitShare adds one encoded key part to the restore session.
func (c *DeviceClient) SubmitShare(payload string) (*api.RestoreStatusResponse, error) {
	var resp api.RestoreStatusResponse
	if err := c.do(http.MethodPost, "/api/restore/share", "text/plain", []byte(payload), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RestoreBackup opens a backup with the collected shares and returns the plaintext.
func (c *DeviceClient) RestoreBackup(req api.RestoreRequest) ([]byte, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var resp api.RestoreResponse
	if err := c.do(http.MethodPost, "/api/restore/backup", "application/json", reqJSON, &resp); err != nil {
		return nil, err
	}

	plaintext, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

func (c *DeviceClient) do(method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response of %s: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var parsed api.ErrorResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: parsed.Error, Rule: parsed.Rule}
}

// IsStatus reports whether err is an *APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
