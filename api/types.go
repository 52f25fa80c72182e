package api

import (
	"time"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// StatusResponse summarizes the device's container and hand-out progress.
type StatusResponse struct {
	UserName  string `json:"user_name"`
	KeyShared bool   `json:"key_shared"`

	// Container is nil until a container was created.
	Container *ContainerStatus `json:"container,omitempty"`

	ForeignKeyParts int `json:"foreign_key_parts"`
}

// ContainerStatus describes the active container without key material.
type ContainerStatus struct {
	Name      string `json:"name"`
	Threshold int    `json:"threshold"`
	Total     int    `json:"total"`
	Split     bool   `json:"split"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Spares is the number of self-shares no contact holds.
	Spares int `json:"spares"`

	// Holders counts contacts by send status name.
	Holders map[string]int `json:"holders"`
}

// ContactView is the public representation of a contact.
type ContactView struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	HasKeyPart bool   `json:"has_key_part"`
	SendStatus string `json:"send_status"`
	SendMethod string `json:"send_method"`
}

// NewContactView drops the key part link and address book ids.
func NewContactView(c *interfaces.Contact) ContactView {
	return ContactView{
		ID:         c.ID,
		Name:       c.Name,
		Email:      c.Email,
		HasKeyPart: c.HasKeyPart(),
		SendStatus: c.SendStatus.String(),
		SendMethod: c.SendMethod.String(),
	}
}

// BackupView is the public representation of a backup. Ciphertexts are not
// exposed.
type BackupView struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Timestamp     int64     `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
	StoreMethod   string    `json:"store_method"`
	Locator       string    `json:"locator,omitempty"`
	HasCiphertext bool      `json:"has_ciphertext"`
}

func NewBackupView(b *interfaces.Backup) BackupView {
	return BackupView{
		ID:            b.ID,
		Name:          b.Name,
		Timestamp:     b.Timestamp,
		CreatedAt:     b.CreatedAt,
		StoreMethod:   b.StoreMethod.String(),
		Locator:       b.Locator,
		HasCiphertext: b.HasCiphertext(),
	}
}

// ScanResponse reports the outcome of a submitted key part payload.
type ScanResponse struct {
	ID        int64  `json:"id"`
	Owner     string `json:"owner"`
	Foreign   bool   `json:"foreign"`
	Duplicate bool   `json:"duplicate"`

	// Holder is the contact whose share was scanned back, if any.
	Holder *ContactView `json:"holder,omitempty"`
}

// RestoreStatusResponse describes a share collection session.
type RestoreStatusResponse struct {
	State     string `json:"state"`
	Threshold int    `json:"threshold,omitempty"`
	Collected int    `json:"collected"`
	Needed    int    `json:"needed"`
}

// RestoreRequest selects the ciphertext to open, either inline or by backup id.
type RestoreRequest struct {
	BackupID   int64  `json:"backup_id,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// RestoreResponse carries the recovered plaintext as standard base64.
type RestoreResponse struct {
	Plaintext string `json:"plaintext"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	// Rule names the provenance rule a rejected key part violated.
	Rule string `json:"rule,omitempty"`
}
