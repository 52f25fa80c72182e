// Package keypart converts key parts to and from their transport text.
//
// The transport text is canonical JSON:
//
//	{"foreign":false,"key":"<base64>","owner":"Alice","threshold":3,"timestamp":1700000000000}
//
// threshold is omitted when unknown. The text must fit into a single QR code,
// which caps it at MaxTransportLength characters.
package keypart

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/gibson042/canonicaljson-go"
	"github.com/ruteri/keyshare-backup/interfaces"
)

// MaxTransportLength is the largest transport text a QR code carries reliably.
const MaxTransportLength = 2950

// wireKeyPart fields are declared in canonical key order.
type wireKeyPart struct {
	Foreign   bool   `json:"foreign"`
	Key       []byte `json:"key"`
	Owner     string `json:"owner"`
	Threshold int    `json:"threshold,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Encode renders a key part as transport text. threshold overrides the key
// part's own threshold when positive.
func Encode(kp *interfaces.KeyPart, threshold int) (string, error) {
	if threshold <= 0 {
		threshold = kp.Threshold
	}

	data, err := canonicaljson.Marshal(wireKeyPart{
		Foreign:   kp.Foreign,
		Key:       kp.Key,
		Owner:     kp.Owner,
		Threshold: threshold,
		Timestamp: kp.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode key part: %w", err)
	}

	text := string(data)
	if err := CheckTransportSize(text); err != nil {
		return "", err
	}
	return text, nil
}

// CheckTransportSize returns a *interfaces.TransportSizeError when text is
// longer than MaxTransportLength characters.
func CheckTransportSize(text string) error {
	if n := utf8.RuneCountInString(text); n > MaxTransportLength {
		return &interfaces.TransportSizeError{Length: n, Limit: MaxTransportLength}
	}
	return nil
}

// Decode parses transport text into a key part. The returned key part has no
// id and no container link.
func Decode(text string) (*interfaces.KeyPart, error) {
	var w wireKeyPart
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedShare, err)
	}
	if len(w.Key) == 0 {
		return nil, fmt.Errorf("%w: missing key", interfaces.ErrMalformedShare)
	}
	if w.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", interfaces.ErrMalformedShare)
	}
	if w.Threshold < 0 {
		return nil, fmt.Errorf("%w: negative threshold", interfaces.ErrMalformedShare)
	}

	return &interfaces.KeyPart{
		Key:       w.Key,
		Owner:     w.Owner,
		Timestamp: w.Timestamp,
		Foreign:   w.Foreign,
		Threshold: w.Threshold,
	}, nil
}
