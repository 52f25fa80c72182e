// Package contacts tracks the hand-out of shares to contacts.
//
// Every contact moves through
//
//	NONE -> SELECTED -> SENT -> CONFIRMED -> RECEIVED
//
// one step at a time. Clear returns a contact to NONE from any state. SENT only
// records that the user triggered a transmission; CONFIRMED is the user's
// attestation that the contact got the share.
package contacts

import (
	"github.com/ruteri/keyshare-backup/interfaces"
)

// CanTransition reports whether a contact may move from one status to another.
// Moving to StatusNone is always allowed.
func CanTransition(from, to interfaces.SendStatus) bool {
	if to == interfaces.StatusNone {
		return true
	}
	next, ok := Next(from)
	return ok && next == to
}

// Next returns the status following s, and false when s is final.
func Next(s interfaces.SendStatus) (interfaces.SendStatus, bool) {
	if s < interfaces.StatusNone || s >= interfaces.StatusReceived {
		return s, false
	}
	return s + 1, true
}

// HoldsKeyPart reports whether a contact in status s references a share.
func HoldsKeyPart(s interfaces.SendStatus) bool {
	return s >= interfaces.StatusSelected && s <= interfaces.StatusReceived
}
