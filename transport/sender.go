package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/keyshare-backup/contacts"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
)

// ErrNoChannel is returned when no channel is configured for a send method.
var ErrNoChannel = errors.New("no channel configured for send method")

// Sender hands a selected contact's key part to the channel chosen for it and
// records the contact as sent.
type Sender struct {
	store    interfaces.Store
	tracker  *contacts.Tracker
	channels map[interfaces.SendMethod]interfaces.Channel
	log      *slog.Logger
}

// NewSender creates a Sender over the given channels.
func NewSender(store interfaces.Store, tracker *contacts.Tracker, log *slog.Logger, channels ...interfaces.Channel) *Sender {
	s := &Sender{
		store:    store,
		tracker:  tracker,
		channels: make(map[interfaces.SendMethod]interfaces.Channel, len(channels)),
		log:      log,
	}
	for _, ch := range channels {
		s.channels[ch.Method()] = ch
	}
	return s
}

// Send delivers the key part assigned to c and moves c to SENT. The contact
// must be SELECTED.
func (s *Sender) Send(ctx context.Context, c *interfaces.Contact) error {
	if c.SendStatus != interfaces.StatusSelected || !c.HasKeyPart() {
		return fmt.Errorf("%w: contact %q is %s", interfaces.ErrInvalidTransition, c.Name, c.SendStatus)
	}
	if c.SendMethod == interfaces.MethodEmail && !c.HasEmail() {
		return contacts.ErrNoEmail
	}
	ch, ok := s.channels[c.SendMethod]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, c.SendMethod)
	}

	kp, err := s.store.FindKeyPart(ctx, c.KeyPartID)
	if err != nil {
		return fmt.Errorf("failed to load key part for %q: %w", c.Name, err)
	}
	prefs, err := s.store.Preferences(ctx)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	text, err := keypart.Encode(kp, kp.Threshold)
	if err != nil {
		return err
	}

	subject := "Key part"
	if prefs.HasUserName() {
		subject = "Key part from " + prefs.UserName
	}

	err = ch.Send(ctx, interfaces.Delivery{
		Recipient: c.Name,
		Email:     c.Email,
		Subject:   subject,
		Payload:   text,
	})
	if err != nil {
		return err
	}

	s.log.Info("key part delivered", "contact", c.Name, "method", c.SendMethod)
	return s.tracker.MarkSent(ctx, c)
}
