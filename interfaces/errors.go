package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when the threshold parameters of a container are invalid.
	ErrConfiguration = errors.New("invalid container configuration")

	// ErrTransportSizeExceeded is returned when an encoded share or backup does not fit
	// into the transport ceiling.
	ErrTransportSizeExceeded = errors.New("transport size exceeded")

	// ErrMalformedShare is returned when scanned input is not a recognizable share.
	ErrMalformedShare = errors.New("not a recognizable key part")

	// ErrProvenanceRejected is returned when a decoded share fails the provenance rules.
	ErrProvenanceRejected = errors.New("key part provenance rejected")

	// ErrReconstruction is returned when the supplied shares cannot produce a key.
	ErrReconstruction = errors.New("private key reconstruction failed")

	// ErrDecryption is returned when a reconstructed key does not open a backup.
	ErrDecryption = errors.New("backup decryption failed")

	// ErrPersistence is returned when the underlying store fails to write.
	ErrPersistence = errors.New("persistence failure")

	ErrAlreadySplit      = errors.New("container is already split")
	ErrNoPrivateKey      = errors.New("container has no private key")
	ErrNoContainer       = errors.New("no active container")
	ErrInvalidTransition = errors.New("invalid send status transition")
	ErrNotFound          = errors.New("not found")


	// ErrContentNotFound is returned when requested content cannot be found in a blob store.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a blob store is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// ThresholdError describes threshold parameters rejected before splitting.
type ThresholdError struct {
	Threshold int
	Total     int
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("%s: threshold %d of %d shares (need 1 <= threshold <= total <= %d)",
		ErrConfiguration, e.Threshold, e.Total, MaxShares)
}

func (e *ThresholdError) Unwrap() error { return ErrConfiguration }

// ValidateThreshold checks 1 <= threshold <= total <= MaxShares.
func ValidateThreshold(threshold, total int) error {
	if threshold < 1 || threshold > total || total > MaxShares {
		return &ThresholdError{Threshold: threshold, Total: total}
	}
	return nil
}

// TransportSizeError carries the measured length of a text that does not fit
// into the transport ceiling.
type TransportSizeError struct {
	Length int
	Limit  int
}

func (e *TransportSizeError) Error() string {
	return fmt.Sprintf("%s: text length %d, maximum allowed %d", ErrTransportSizeExceeded, e.Length, e.Limit)
}

func (e *TransportSizeError) Unwrap() error { return ErrTransportSizeExceeded }

// Overflow is the number of characters above the ceiling.
func (e *TransportSizeError) Overflow() int {
	return e.Length - e.Limit
}

// ProvenanceRule names the validator rule a share failed.
type ProvenanceRule string

const (
	// RuleOwnShare rejects a share labelled with the user's own name imported as foreign.
	RuleOwnShare ProvenanceRule = "own-share-as-foreign"
	// RuleTimestampMismatch rejects a self share from another container.
	RuleTimestampMismatch ProvenanceRule = "timestamp-mismatch"
	// RuleOwnerMismatch rejects a self share labelled with someone else's name.
	RuleOwnerMismatch ProvenanceRule = "owner-mismatch"
)

// ProvenanceError reports which validator rule rejected a share.
type ProvenanceError struct {
	Rule ProvenanceRule
}

func (e *ProvenanceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProvenanceRejected, e.Rule)
}

func (e *ProvenanceError) Unwrap() error { return ErrProvenanceRejected }

// ReconstructionError reports why a private key could not be combined.
type ReconstructionError struct {
	Have int
	Need int
	Err  error
}

func (e *ReconstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d shares, %d needed): %v", ErrReconstruction, e.Have, e.Need, e.Err)
	}
	return fmt.Sprintf("%s: %d shares, %d needed", ErrReconstruction, e.Have, e.Need)
}

func (e *ReconstructionError) Is(target error) bool { return target == ErrReconstruction }

func (e *ReconstructionError) Unwrap() error { return e.Err }

// DecryptionError reports that a reconstructed key did not open a backup.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDecryption, e.Err)
}

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

func (e *DecryptionError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store operation. The logical operation it
// belonged to has been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s during %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }
