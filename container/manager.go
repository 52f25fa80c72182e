// Package container manages the active container: its keypair, threshold
// parameters, the split into shares and the bookkeeping of which shares are
// still unassigned.
//
// A container is created with a fresh keypair and is "unsplit" until Split
// stamps it with a timestamp and persists it together with all N shares in one
// atomic batch. Once split, the threshold parameters never change and the
// private key only exists again when enough shares are combined.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/metrics"
)

// Manager creates and splits the active container.
type Manager struct {
	store    interfaces.Store
	splitter interfaces.SecretSplitter
	cipher   interfaces.Cipher
	log      *slog.Logger

	now func() time.Time
}

// NewManager creates a Manager over the given collaborators.
func NewManager(store interfaces.Store, splitter interfaces.SecretSplitter, cipher interfaces.Cipher, log *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		splitter: splitter,
		cipher:   cipher,
		log:      log,
		now:      time.Now,
	}
}

// NewContainer validates the threshold parameters and generates a keypair. The
// returned container is unsplit and not yet persisted.
func (m *Manager) NewContainer(name string, threshold, total int) (*interfaces.Container, error) {
	if err := interfaces.ValidateThreshold(threshold, total); err != nil {
		return nil, err
	}

	pub, priv, err := m.cipher.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate container key: %w", err)
	}

	return &interfaces.Container{
		ID:         interfaces.ActiveContainerID,
		Name:       name,
		PublicKey:  pub,
		PrivateKey: priv,
		Threshold:  threshold,
		Total:      total,
	}, nil
}

// Split divides the container's private key into Total shares and persists the
// container together with the shares. The shares are returned in creation
// order, each stamped with the container timestamp, the user's display name and
// the threshold.
//
// On success the private key is wiped from c. If persisting fails nothing is
// stored, c is left unsplit and a *interfaces.PersistenceError is returned.
func (m *Manager) Split(ctx context.Context, c *interfaces.Container) ([]*interfaces.KeyPart, error) {
	if err := interfaces.ValidateThreshold(c.Threshold, c.Total); err != nil {
		return nil, err
	}
	if c.IsSplit() {
		return nil, interfaces.ErrAlreadySplit
	}
	if len(c.PrivateKey) == 0 {
		return nil, interfaces.ErrNoPrivateKey
	}

	prefs, err := m.store.Preferences(ctx)
	if err != nil {
		return nil, &interfaces.PersistenceError{Op: "split", Err: err}
	}
	if !prefs.HasUserName() {
		m.log.Warn("splitting without a user name, shares will be unlabelled")
	}

	shares, err := m.splitter.Split(c.PrivateKey, c.Threshold, c.Total)
	if err != nil {
		metrics.IncSplit("failure")
		return nil, fmt.Errorf("failed to split private key: %w", err)
	}

	if c.ID == 0 {
		c.ID = interfaces.ActiveContainerID
	}
	c.Timestamp = m.now().UnixMilli()

	keyParts := make([]*interfaces.KeyPart, len(shares))
	for i, share := range shares {
		keyParts[i] = &interfaces.KeyPart{
			ContainerID: c.ID,
			Key:         share,
			Owner:       prefs.UserName,
			Timestamp:   c.Timestamp,
			Threshold:   c.Threshold,
		}
	}

	err = m.store.Atomic(ctx, func(tx interfaces.Store) error {
		if err := tx.UpsertContainer(ctx, c); err != nil {
			return err
		}
		return tx.InsertKeyParts(ctx, keyParts)
	})
	if err != nil {
		c.Timestamp = 0
		metrics.IncSplit("failure")
		m.log.Error("failed to persist split", "container", c.ID, "err", err)
		return nil, &interfaces.PersistenceError{Op: "split", Err: err}
	}

	c.WipePrivateKey()
	metrics.IncSplit("success")
	m.log.Info("container split", "container", c.ID, "threshold", c.Threshold, "total", c.Total, "timestamp", c.Timestamp)

	return keyParts, nil
}

// Active loads the active container. It returns nil without an error when no
// container has been split yet.
func (m *Manager) Active(ctx context.Context) (*interfaces.Container, error) {
	c, err := m.store.FindContainer(ctx, interfaces.ActiveContainerID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active container: %w", err)
	}
	return c, nil
}

// SparesAvailable lists the active container's shares that no contact holds.
func (m *Manager) SparesAvailable(ctx context.Context) ([]*interfaces.KeyPart, error) {
	filter := interfaces.OwnKeyParts(interfaces.ActiveContainerID)
	filter.Unassigned = true

	spares, err := m.store.ListKeyParts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list spare key parts: %w", err)
	}
	return spares, nil
}

// Assign binds a share to a contact. It does not persist anything.
func Assign(c *interfaces.Contact, kp *interfaces.KeyPart) {
	c.KeyPartID = kp.ID
	if kp.ContainerID != 0 {
		c.ContainerID = kp.ContainerID
	}
}

// Unassign drops the contact's reference to kp. The share itself is kept.
func Unassign(c *interfaces.Contact, kp *interfaces.KeyPart) {
	if kp == nil || c.KeyPartID == kp.ID {
		c.KeyPartID = 0
	}
}
