// Package interfaces defines the core data model and collaborator contracts for
// the key-share backup system. It provides the contract between components
// without implementation details.
package interfaces

import (
	"fmt"
	"strings"
	"time"
)

// ActiveContainerID is the identifier of the one container this system manages.
// Only a single container is supported; a multi-container extension would
// replace this constant with real identifiers.
const ActiveContainerID int64 = 1

// MaxShares is the largest number of shares a private key can be split into.
const MaxShares = 255

// Container holds the asymmetric keypair and threshold parameters for one
// secret-sharing round.
type Container struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	PublicKey []byte `json:"public_key"`

	// PrivateKey is only present while splitting or restoring. It is never persisted.
	PrivateKey []byte `json:"-"`

	// Threshold is the minimum number of shares needed to reconstruct the key (M).
	Threshold int `json:"threshold"`
	// Total is the number of shares the key is split into (N).
	Total int `json:"total"`

	// Timestamp is set in epoch milliseconds when the key is split. Zero means unsplit.
	Timestamp int64 `json:"timestamp"`
}

// IsSplit reports whether shares have already been created for this container.
func (c *Container) IsSplit() bool {
	return c.Timestamp != 0
}

// WipePrivateKey zeroes and drops the transient private key.
func (c *Container) WipePrivateKey() {
	Wipe(c.PrivateKey)
	c.PrivateKey = nil
}

// KeyPart is one share of a split private key.
type KeyPart struct {
	ID          int64  `json:"id"`
	ContainerID int64  `json:"container_id,omitempty"`
	Key         []byte `json:"key"`
	Owner       string `json:"owner"`
	Timestamp   int64  `json:"timestamp"`

	// Foreign is true for shares received from someone else.
	Foreign bool `json:"foreign"`

	// Threshold is the container threshold when known, 0 otherwise.
	Threshold int `json:"threshold,omitempty"`
}

// Clone returns a deep copy of the key part.
func (kp *KeyPart) Clone() *KeyPart {
	c := *kp
	c.Key = append([]byte(nil), kp.Key...)
	return &c
}

// SendStatus tracks the hand-out of a share to a contact.
type SendStatus int

const (
	// StatusNone means the contact is a candidate with no share assigned.
	StatusNone SendStatus = iota
	// StatusSelected means the user picked this contact but did not transmit yet.
	StatusSelected
	// StatusSent means the user triggered a transmission.
	StatusSent
	// StatusConfirmed means the user attests that the contact received the share.
	StatusConfirmed
	// StatusReceived means the share was scanned back in.
	StatusReceived
)

var sendStatusNames = []string{"none", "selected", "sent", "confirmed", "received"}

func (s SendStatus) String() string {
	if s < 0 || int(s) >= len(sendStatusNames) {
		return "unknown"
	}
	return sendStatusNames[s]
}

// ParseSendStatus is the inverse of SendStatus.String.
func ParseSendStatus(str string) (SendStatus, error) {
	for i, name := range sendStatusNames {
		if strings.EqualFold(str, name) {
			return SendStatus(i), nil
		}
	}
	return StatusNone, fmt.Errorf("no send status named %q", str)
}

// SendMethod is the channel used to transmit a share to a contact.
type SendMethod int

const (
	MethodNone SendMethod = iota
	MethodQR
	MethodPrint
	MethodEmail
)

var sendMethodNames = []string{"none", "qr", "print", "email"}

func (m SendMethod) String() string {
	if m < 0 || int(m) >= len(sendMethodNames) {
		return "unknown"
	}
	return sendMethodNames[m]
}

// ParseSendMethod is the inverse of SendMethod.String.
func ParseSendMethod(str string) (SendMethod, error) {
	for i, name := range sendMethodNames {
		if strings.EqualFold(str, name) {
			return SendMethod(i), nil
		}
	}
	return MethodNone, fmt.Errorf("no send method named %q", str)
}

// Contact is a recipient of a share.
type Contact struct {
	ID          int64      `json:"id"`
	ContainerID int64      `json:"container_id"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	KeyPartID   int64      `json:"key_part_id,omitempty"`
	SendStatus  SendStatus `json:"send_status"`
	SendMethod  SendMethod `json:"send_method"`

	// ExternalID and LookupKey link the contact to an address book entry.
	// They are only used to refresh display data.
	ExternalID int64  `json:"external_id,omitempty"`
	LookupKey  string `json:"lookup_key,omitempty"`
}

// HasKeyPart reports whether a share is linked to the contact.
func (c *Contact) HasKeyPart() bool {
	return c.KeyPartID > 0
}

// HasEmail reports whether the contact has an email address.
func (c *Contact) HasEmail() bool {
	return c.Email != ""
}

// StoreMethod is how an encrypted backup is kept.
type StoreMethod int

const (
	StoreEmail StoreMethod = iota
	StorePrint
	StoreCloud
)

var storeMethodNames = []string{"EMAIL", "PRINT", "CLOUD"}

func (m StoreMethod) String() string {
	if m < 0 || int(m) >= len(storeMethodNames) {
		return "UNKNOWN"
	}
	return storeMethodNames[m]
}

// ParseStoreMethod is the inverse of StoreMethod.String.
func ParseStoreMethod(str string) (StoreMethod, error) {
	for i, name := range storeMethodNames {
		if strings.EqualFold(str, name) {
			return StoreMethod(i), nil
		}
	}
	return StoreEmail, fmt.Errorf("no store method named %q", str)
}

// Backup is an encrypted payload recoverable only by reconstructing the
// container's private key.
type Backup struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	// Timestamp is the timestamp of the container whose shares open this backup.
	Timestamp int64     `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`

	PublicKey []byte `json:"-"`

	// PrivateKey and Plaintext are transient and never persisted.
	PrivateKey []byte `json:"-"`
	Plaintext  []byte `json:"-"`

	// Ciphertext is the standard base64 encoding of the encrypted payload.
	Ciphertext  string      `json:"ciphertext,omitempty"`
	StoreMethod StoreMethod `json:"store_method"`
	Locator     string      `json:"locator,omitempty"`
}

// HasCiphertext reports whether the encrypted payload is available locally.
func (b *Backup) HasCiphertext() bool {
	return b.Ciphertext != ""
}

// InCloud reports whether the backup was written to a blob store.
func (b *Backup) InCloud() bool {
	return b.Locator != ""
}

// Preferences is the process-wide user state that survives restarts.
type Preferences struct {
	UserName  string `json:"user_name"`
	KeyShared bool   `json:"key_shared"`
}

// HasUserName reports whether the user display name is set.
func (p Preferences) HasUserName() bool {
	return p.UserName != ""
}

// NowMillis converts a time to epoch milliseconds.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// Wipe zeroes a byte slice in place.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
