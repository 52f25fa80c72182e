package recovery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/keyshare-backup/cryptoutils"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/ruteri/keyshare-backup/metrics"
)

var (
	// ErrNotSealed is returned when storing a backup that has no ciphertext.
	ErrNotSealed = errors.New("backup is not sealed")

	// ErrNoPublicKey is returned when creating a backup for a container without a public key.
	ErrNoPublicKey = errors.New("container has no public key")
)

// Flow creates, stores and restores backups.
type Flow struct {
	store    interfaces.Store
	splitter interfaces.SecretSplitter
	cipher   interfaces.Cipher
	blobs    interfaces.BlobStore
	channels map[interfaces.StoreMethod]interfaces.Channel
	log      *slog.Logger

	now func() time.Time
}

// NewFlow creates a Flow. blobs may be nil when no cloud storage is configured.
func NewFlow(store interfaces.Store, splitter interfaces.SecretSplitter, cipher interfaces.Cipher, blobs interfaces.BlobStore, log *slog.Logger) *Flow {
	return &Flow{
		store:    store,
		splitter: splitter,
		cipher:   cipher,
		blobs:    blobs,
		channels: make(map[interfaces.StoreMethod]interfaces.Channel),
		log:      log,
		now:      time.Now,
	}
}

// WithChannel sets the channel delivering backups stored by EMAIL or PRINT.
func (f *Flow) WithChannel(method interfaces.StoreMethod, ch interfaces.Channel) *Flow {
	f.channels[method] = ch
	return f
}

// CreateBackup prepares an empty backup bound to the container's key. An empty
// name gets a generated one.
func (f *Flow) CreateBackup(c *interfaces.Container, name string) (*interfaces.Backup, error) {
	if len(c.PublicKey) == 0 {
		return nil, ErrNoPublicKey
	}
	if name == "" {
		name = "backup-" + uuid.NewString()[:8]
	}

	return &interfaces.Backup{
		Name:      name,
		Timestamp: c.Timestamp,
		CreatedAt: f.now(),
		PublicKey: append([]byte(nil), c.PublicKey...),
	}, nil
}

// Seal encrypts plaintext to the backup's public key and records the base64
// ciphertext. The plaintext is not kept.
func (f *Flow) Seal(b *interfaces.Backup, plaintext []byte) error {
	if len(b.PublicKey) == 0 {
		return ErrNoPublicKey
	}

	ciphertext, err := f.cipher.Encrypt(plaintext, b.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to seal backup: %w", err)
	}

	b.Ciphertext = base64.StdEncoding.EncodeToString(ciphertext)
	b.Plaintext = nil
	b.PrivateKey = nil
	return nil
}

// Store keeps a sealed backup by the given method and persists it.
//
// CLOUD writes the ciphertext to the blob store under the backup name. Names
// are write-once: a taken name keeps the blob already stored there. EMAIL and PRINT require the ciphertext to fit the transport
// ceiling and hand it to the configured channel, if any.
func (f *Flow) Store(ctx context.Context, b *interfaces.Backup, method interfaces.StoreMethod) error {
	if !b.HasCiphertext() {
		return ErrNotSealed
	}

	switch method {
	case interfaces.StoreCloud:
		if f.blobs == nil {
			return fmt.Errorf("%w: no cloud storage configured", interfaces.ErrBackendUnavailable)
		}
		locator, err := f.blobs.Put(ctx, b.Name, []byte(b.Ciphertext))
		if err != nil {
			metrics.IncBlobWrite(f.blobs.Name(), "failure")
			return fmt.Errorf("failed to store backup %q in %s: %w", b.Name, f.blobs.Name(), err)
		}
		metrics.IncBlobWrite(f.blobs.Name(), "success")
		b.Locator = locator

	case interfaces.StoreEmail, interfaces.StorePrint:
		if err := keypart.CheckTransportSize(b.Ciphertext); err != nil {
			return err
		}
		if ch, ok := f.channels[method]; ok {
			err := ch.Send(ctx, interfaces.Delivery{
				Recipient: b.Name,
				Subject:   "Encrypted backup " + b.Name,
				Payload:   b.Ciphertext,
			})
			if err != nil {
				return fmt.Errorf("failed to deliver backup: %w", err)
			}
		}

	default:
		return fmt.Errorf("unknown store method %d", method)
	}

	b.StoreMethod = method

	var err error
	if b.ID == 0 {
		err = f.store.InsertBackup(ctx, b)
	} else {
		err = f.store.UpdateBackup(ctx, b)
	}
	if err != nil {
		f.log.Error("failed to persist backup", "name", b.Name, "err", err)
		return &interfaces.PersistenceError{Op: "store backup", Err: err}
	}

	f.log.Info("backup stored", "name", b.Name, "method", method, "locator", b.Locator)
	return nil
}

// Fetch loads the ciphertext of a cloud backup whose ciphertext is not kept locally.
func (f *Flow) Fetch(ctx context.Context, b *interfaces.Backup) error {
	if b.HasCiphertext() {
		return nil
	}
	if !b.InCloud() {
		return fmt.Errorf("%w: backup %q has no stored ciphertext", interfaces.ErrNotFound, b.Name)
	}
	if f.blobs == nil {
		return fmt.Errorf("%w: no cloud storage configured", interfaces.ErrBackendUnavailable)
	}

	data, err := f.blobs.Get(ctx, b.Name)
	if err != nil {
		return fmt.Errorf("failed to fetch backup %q: %w", b.Name, err)
	}
	b.Ciphertext = strings.TrimSpace(string(data))
	return nil
}

// RemoveData drops the locally stored ciphertext of a backup.
func (f *Flow) RemoveData(ctx context.Context, b *interfaces.Backup) error {
	removed := *b
	removed.Ciphertext = ""
	if err := f.store.UpdateBackup(ctx, &removed); err != nil {
		return &interfaces.PersistenceError{Op: "remove backup data", Err: err}
	}
	*b = removed
	return nil
}

// List returns the stored backups, oldest first.
func (f *Flow) List(ctx context.Context, filter interfaces.BackupFilter) ([]*interfaces.Backup, error) {
	backups, err := f.store.ListBackups(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return backups, nil
}

// RestoreBackup restores a backup of container c from shares.
func (f *Flow) RestoreBackup(c *interfaces.Container, shares []*interfaces.KeyPart, ciphertext string) ([]byte, error) {
	if c == nil {
		return nil, interfaces.ErrNoContainer
	}
	return f.Restore(c.Threshold, shares, ciphertext)
}

// Restore combines shares into the private key and decrypts the base64
// ciphertext with it. At least threshold shares with distinct indexes are
// required; more are fine. On any failure no plaintext is returned.
func (f *Flow) Restore(threshold int, shares []*interfaces.KeyPart, ciphertext string) ([]byte, error) {
	keys := distinctShares(shares)
	if threshold < 1 || len(keys) < threshold {
		metrics.IncRestore("reconstruction")
		return nil, &interfaces.ReconstructionError{Have: len(keys), Need: threshold}
	}

	privateKey, err := f.splitter.Combine(keys)
	if err != nil {
		metrics.IncRestore("reconstruction")
		return nil, &interfaces.ReconstructionError{Have: len(keys), Need: threshold, Err: err}
	}
	defer interfaces.Wipe(privateKey)

	raw, err := decodeCiphertext(ciphertext)
	if err != nil {
		metrics.IncRestore("decryption")
		return nil, &interfaces.DecryptionError{Err: err}
	}

	plaintext, err := f.cipher.Decrypt(raw, privateKey)
	if err != nil {
		metrics.IncRestore("decryption")
		f.log.Warn("reconstructed key does not open backup", "shares", len(keys), "err", err)
		return nil, &interfaces.DecryptionError{Err: err}
	}

	metrics.IncRestore("success")
	return plaintext, nil
}

// distinctShares drops shares repeating an already seen index.
func distinctShares(shares []*interfaces.KeyPart) [][]byte {
	seen := make(map[byte]bool, len(shares))
	keys := make([][]byte, 0, len(shares))
	for _, kp := range shares {
		if kp == nil || len(kp.Key) < 2 {
			continue
		}
		idx := cryptoutils.ShareIndex(kp.Key)
		if seen[idx] {
			continue
		}
		seen[idx] = true
		keys = append(keys, kp.Key)
	}
	return keys
}

// decodeCiphertext accepts standard base64, with or without line breaks.
func decodeCiphertext(ciphertext string) ([]byte, error) {
	clean := strings.Join(strings.Fields(ciphertext), "")
	if clean == "" {
		return nil, errors.New("empty ciphertext")
	}
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	return raw, nil
}
