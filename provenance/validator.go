// Package provenance decides whether a decoded key part may be ingested.
//
// Validate has no side effects. Persisting an accepted key part is up to the
// caller.
package provenance

import (
	"github.com/ruteri/keyshare-backup/interfaces"
)

// Identity is what the local device knows about itself.
type Identity struct {
	// UserName is the user's own owner label, empty when not set.
	UserName string
	// ContainerTimestamp is the timestamp of the active container, 0 when there is none.
	ContainerTimestamp int64
}

// Mode describes how the key part is being ingested.
type Mode struct {
	// Foreign is set when importing a share received from someone else.
	Foreign bool
	// IgnoreOrigin skips the owner and timestamp checks. It is used when
	// restoring on a device that has no container for the shares.
	IgnoreOrigin bool
}

// Validate returns an accepted copy of kp with Foreign set from the mode, or a
// *interfaces.ProvenanceError naming the failed rule.
func Validate(kp *interfaces.KeyPart, id Identity, mode Mode) (*interfaces.KeyPart, error) {
	if !mode.IgnoreOrigin {
		if rule, ok := check(kp, id, mode.Foreign); !ok {
			return nil, &interfaces.ProvenanceError{Rule: rule}
		}
	}

	accepted := kp.Clone()
	accepted.Foreign = mode.Foreign
	return accepted, nil
}

func check(kp *interfaces.KeyPart, id Identity, foreign bool) (interfaces.ProvenanceRule, bool) {
	bothLabelled := id.UserName != "" && kp.Owner != ""

	if foreign {
		if bothLabelled && kp.Owner == id.UserName {
			return interfaces.RuleOwnShare, false
		}
		return "", true
	}

	if kp.Timestamp != id.ContainerTimestamp {
		return interfaces.RuleTimestampMismatch, false
	}
	if bothLabelled && kp.Owner != id.UserName {
		return interfaces.RuleOwnerMismatch, false
	}
	return "", true
}
