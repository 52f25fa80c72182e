package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/keyshare-backup/container"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/metrics"
)

var (
	// ErrKeyPartInUse is returned when selecting a share another contact holds.
	ErrKeyPartInUse = errors.New("key part is assigned to another contact")

	// ErrForeignKeyPart is returned when selecting a share received from someone else.
	ErrForeignKeyPart = errors.New("foreign key parts cannot be handed out")

	// ErrNoEmail is returned when selecting email delivery for a contact without an address.
	ErrNoEmail = errors.New("contact has no email address")

	// ErrNoMethod is returned when selecting a contact without a send method.
	ErrNoMethod = errors.New("send method required")

	// ErrInactiveKeyPart is returned when selecting a share of a container
	// other than the active one.
	ErrInactiveKeyPart = errors.New("key part does not belong to the active container")
)

// Tracker persists send status transitions. Every transition is written to the
// store first; the caller's Contact is only updated once the write succeeded.
type Tracker struct {
	store interfaces.Store
	log   *slog.Logger
}

// NewTracker creates a Tracker writing to store.
func NewTracker(store interfaces.Store, log *slog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// WithStore returns a tracker writing to another store view, usually a
// transaction opened by the caller.
func (t *Tracker) WithStore(store interfaces.Store) *Tracker {
	return &Tracker{store: store, log: t.log}
}

// Add persists a new contact of the active container in status NONE.
func (t *Tracker) Add(ctx context.Context, c *interfaces.Contact) error {
	next := *c
	next.ID = 0
	next.ContainerID = interfaces.ActiveContainerID
	next.KeyPartID = 0
	next.SendStatus = interfaces.StatusNone
	next.SendMethod = interfaces.MethodNone

	if err := t.store.UpsertContact(ctx, &next); err != nil {
		return &interfaces.PersistenceError{Op: "add contact", Err: err}
	}
	*c = next
	return nil
}

// Remove clears the contact and deletes it.
func (t *Tracker) Remove(ctx context.Context, c *interfaces.Contact) error {
	cleared := *c
	err := t.store.Atomic(ctx, func(tx interfaces.Store) error {
		if err := t.WithStore(tx).Clear(ctx, &cleared); err != nil {
			return err
		}
		if err := tx.DeleteContact(ctx, c.ID); err != nil {
			return &interfaces.PersistenceError{Op: "remove contact", Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	*c = cleared
	return nil
}

// List returns all contacts of the active container.
func (t *Tracker) List(ctx context.Context) ([]*interfaces.Contact, error) {
	contacts, err := t.store.ListContacts(ctx, interfaces.ContactFilter{ContainerID: interfaces.ActiveContainerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// Pending returns contacts that were selected but not sent to yet.
func (t *Tracker) Pending(ctx context.Context) ([]*interfaces.Contact, error) {
	contacts, err := t.store.ListContacts(ctx, interfaces.WithStatus(interfaces.ActiveContainerID, interfaces.StatusSelected))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending contacts: %w", err)
	}
	return contacts, nil
}

// Select assigns kp to the contact and records the chosen send method. The
// share must be stored and belong to the active container.
func (t *Tracker) Select(ctx context.Context, c *interfaces.Contact, kp *interfaces.KeyPart, method interfaces.SendMethod) error {
	if err := checkTransition(c, interfaces.StatusSelected); err != nil {
		return err
	}
	if kp.Foreign {
		return ErrForeignKeyPart
	}
	if method == interfaces.MethodNone {
		return ErrNoMethod
	}
	if method == interfaces.MethodEmail && !c.HasEmail() {
		return ErrNoEmail
	}
	if kp.ID <= 0 {
		return fmt.Errorf("%w: key part is not stored", interfaces.ErrNotFound)
	}

	next := *c
	err := t.store.Atomic(ctx, func(tx interfaces.Store) error {
		stored, err := tx.FindKeyPart(ctx, kp.ID)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			return fmt.Errorf("%w: key part %d", interfaces.ErrNotFound, kp.ID)
		case err != nil:
			return &interfaces.PersistenceError{Op: "select", Err: err}
		case stored.Foreign:
			return fmt.Errorf("%w: key part %d", ErrForeignKeyPart, kp.ID)
		case stored.ContainerID != interfaces.ActiveContainerID:
			return fmt.Errorf("%w: key part %d", ErrInactiveKeyPart, kp.ID)
		}

		holder, err := tx.FindContactByKeyPart(ctx, kp.ID)
		switch {
		case err == nil && holder.ID != c.ID:
			return fmt.Errorf("%w: contact %d", ErrKeyPartInUse, holder.ID)
		case err != nil && !errors.Is(err, interfaces.ErrNotFound):
			return &interfaces.PersistenceError{Op: "select", Err: err}
		}

		container.Assign(&next, stored)
		next.SendStatus = interfaces.StatusSelected
		next.SendMethod = method
		return t.commit(ctx, tx, c, &next, "select")
	})
	if err != nil {
		return err
	}
	*c = next
	return nil
}

// MarkSent records that a transmission was triggered. It also sets the
// "key has been shared" preference.
func (t *Tracker) MarkSent(ctx context.Context, c *interfaces.Contact) error {
	if err := checkTransition(c, interfaces.StatusSent); err != nil {
		return err
	}

	next := *c
	next.SendStatus = interfaces.StatusSent

	err := t.store.Atomic(ctx, func(tx interfaces.Store) error {
		prefs, err := tx.Preferences(ctx)
		if err != nil {
			return &interfaces.PersistenceError{Op: "mark sent", Err: err}
		}
		if !prefs.KeyShared {
			prefs.KeyShared = true
			if err := tx.SavePreferences(ctx, prefs); err != nil {
				return &interfaces.PersistenceError{Op: "mark sent", Err: err}
			}
		}
		return t.commit(ctx, tx, c, &next, "mark sent")
	})
	if err != nil {
		return err
	}
	*c = next
	return nil
}

// Confirm records the user's attestation that the contact received the share.
func (t *Tracker) Confirm(ctx context.Context, c *interfaces.Contact) error {
	return t.advance(ctx, c, interfaces.StatusConfirmed, "confirm")
}

// MarkReceived records that the contact's share was scanned back in.
func (t *Tracker) MarkReceived(ctx context.Context, c *interfaces.Contact) error {
	return t.advance(ctx, c, interfaces.StatusReceived, "mark received")
}

// ReceivedBack moves the contact holding kp from CONFIRMED to RECEIVED. It
// returns the contact, or nil when no contact holds kp. Contacts in any other
// status are returned unchanged.
func (t *Tracker) ReceivedBack(ctx context.Context, kp *interfaces.KeyPart) (*interfaces.Contact, error) {
	holder, err := t.store.FindContactByKeyPart(ctx, kp.ID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact for key part: %w", err)
	}

	if holder.SendStatus != interfaces.StatusConfirmed {
		t.log.Debug("share scanned back from unconfirmed contact", "contact", holder.ID, "status", holder.SendStatus)
		return holder, nil
	}
	if err := t.MarkReceived(ctx, holder); err != nil {
		return nil, err
	}
	return holder, nil
}

// Clear returns the contact to NONE from any status and drops its share
// reference. If the contact had confirmed receipt the self-share is deleted,
// since the contact now holds it.
func (t *Tracker) Clear(ctx context.Context, c *interfaces.Contact) error {
	next := *c
	next.KeyPartID = 0
	next.SendStatus = interfaces.StatusNone
	next.SendMethod = interfaces.MethodNone

	deleteShare := c.HasKeyPart() &&
		(c.SendStatus == interfaces.StatusConfirmed || c.SendStatus == interfaces.StatusReceived)

	err := t.store.Atomic(ctx, func(tx interfaces.Store) error {
		if err := t.commit(ctx, tx, c, &next, "clear"); err != nil {
			return err
		}
		if !deleteShare {
			return nil
		}
		err := tx.DeleteKeyPart(ctx, c.KeyPartID)
		if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			t.log.Error("failed to delete handed out key part", "contact", c.ID, "keyPart", c.KeyPartID, "err", err)
			return &interfaces.PersistenceError{Op: "clear", Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	*c = next
	return nil
}

// Refresh updates the contact's display data from book and persists it when
// anything changed. The send status is left alone.
func (t *Tracker) Refresh(ctx context.Context, book interfaces.ContactBook, c *interfaces.Contact) (bool, error) {
	next := *c
	changed, err := book.Refresh(ctx, &next)
	if err != nil {
		return false, fmt.Errorf("failed to refresh contact %q: %w", c.Name, err)
	}
	if !changed {
		return false, nil
	}

	if err := t.store.UpsertContact(ctx, &next); err != nil {
		return false, &interfaces.PersistenceError{Op: "refresh contact", Err: err}
	}
	*c = next
	return true, nil
}

func (t *Tracker) advance(ctx context.Context, c *interfaces.Contact, to interfaces.SendStatus, op string) error {
	if err := checkTransition(c, to); err != nil {
		return err
	}

	next := *c
	next.SendStatus = to
	err := t.store.Atomic(ctx, func(tx interfaces.Store) error {
		return t.commit(ctx, tx, c, &next, op)
	})
	if err != nil {
		return err
	}
	*c = next
	return nil
}

// commit writes next. The caller copies next into c once the surrounding
// transaction succeeded.
func (t *Tracker) commit(ctx context.Context, tx interfaces.Store, c, next *interfaces.Contact, op string) error {
	if err := tx.UpsertContact(ctx, next); err != nil {
		t.log.Error("failed to persist send status", "contact", c.ID, "op", op, "err", err)
		return &interfaces.PersistenceError{Op: op, Err: err}
	}

	t.log.Debug("send status changed", "contact", c.ID, "from", c.SendStatus, "to", next.SendStatus)
	metrics.IncTransition(next.SendStatus.String())
	return nil
}

func checkTransition(c *interfaces.Contact, to interfaces.SendStatus) error {
	if !CanTransition(c.SendStatus, to) {
		return fmt.Errorf("%w: %s to %s", interfaces.ErrInvalidTransition, c.SendStatus, to)
	}
	return nil
}
