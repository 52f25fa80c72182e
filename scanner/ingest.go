// Package scanner ingests scanned key part payloads.
//
// Payloads are processed one at a time by a single consumer. Each one is
// decoded, checked for provenance, persisted and its contact updated as one
// unit before the next payload is taken.
package scanner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ruteri/keyshare-backup/contacts"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/ruteri/keyshare-backup/metrics"
	"github.com/ruteri/keyshare-backup/provenance"
	"github.com/ruteri/keyshare-backup/recovery"
)

// Result describes an ingested key part.
type Result struct {
	// KeyPart is the stored key part.
	KeyPart *interfaces.KeyPart
	// Duplicate is set when an identical key part was already stored.
	Duplicate bool
	// Holder is the contact that was given a scanned-back self share, if any.
	Holder *interfaces.Contact
}

// Ingester turns payloads into stored key parts.
type Ingester struct {
	store     interfaces.Store
	tracker   *contacts.Tracker
	mode      provenance.Mode
	collector *recovery.Collector
	log       *slog.Logger
}

// NewIngester creates an Ingester importing key parts in the given mode.
func NewIngester(store interfaces.Store, tracker *contacts.Tracker, mode provenance.Mode, log *slog.Logger) *Ingester {
	return &Ingester{
		store:   store,
		tracker: tracker,
		mode:    mode,
		log:     log,
	}
}

// WithCollector feeds every accepted key part into c.
func (in *Ingester) WithCollector(c *recovery.Collector) *Ingester {
	in.collector = c
	return in
}

// Ingest decodes, validates and persists one payload. Decoding failures wrap
// ErrMalformedShare, rejected key parts are *interfaces.ProvenanceError.
func (in *Ingester) Ingest(ctx context.Context, payload string) (*Result, error) {
	kp, err := keypart.Decode(payload)
	if err != nil {
		metrics.IncScan("malformed")
		return nil, err
	}

	var result *Result
	err = in.store.Atomic(ctx, func(tx interfaces.Store) error {
		id, containerID, err := identity(ctx, tx)
		if err != nil {
			return err
		}

		accepted, err := provenance.Validate(kp, id, in.mode)
		if err != nil {
			return err
		}

		res := &Result{}
		existing, err := tx.FindKeyPartByContent(ctx, accepted.Key, accepted.Timestamp, accepted.Foreign)
		switch {
		case err == nil:
			res.KeyPart = existing
			res.Duplicate = true
		case errors.Is(err, interfaces.ErrNotFound):
			if !accepted.Foreign {
				accepted.ContainerID = containerID
			}
			if err := tx.InsertKeyParts(ctx, []*interfaces.KeyPart{accepted}); err != nil {
				return &interfaces.PersistenceError{Op: "ingest", Err: err}
			}
			res.KeyPart = accepted
		default:
			return &interfaces.PersistenceError{Op: "ingest", Err: err}
		}

		if !res.KeyPart.Foreign {
			holder, err := in.tracker.WithStore(tx).ReceivedBack(ctx, res.KeyPart)
			if err != nil {
				return err
			}
			res.Holder = holder
		}

		result = res
		return nil
	})
	if err != nil {
		var provErr *interfaces.ProvenanceError
		if errors.As(err, &provErr) {
			metrics.IncScan("rejected")
			in.log.Warn("scanned key part rejected", "rule", provErr.Rule, "owner", kp.Owner)
		} else {
			metrics.IncScan("failure")
			in.log.Error("failed to ingest key part", "err", err)
		}
		return nil, err
	}

	if result.Duplicate {
		metrics.IncScan("duplicate")
	} else {
		metrics.IncScan("accepted")
	}
	if in.collector != nil {
		in.collector.Add(result.KeyPart)
	}

	in.log.Info("key part ingested",
		"id", result.KeyPart.ID,
		"owner", result.KeyPart.Owner,
		"foreign", result.KeyPart.Foreign,
		"duplicate", result.Duplicate)
	return result, nil
}

// identity loads what the device knows about itself.
func identity(ctx context.Context, store interfaces.Store) (provenance.Identity, int64, error) {
	prefs, err := store.Preferences(ctx)
	if err != nil {
		return provenance.Identity{}, 0, &interfaces.PersistenceError{Op: "ingest", Err: err}
	}

	id := provenance.Identity{UserName: prefs.UserName}
	c, err := store.FindContainer(ctx, interfaces.ActiveContainerID)
	switch {
	case err == nil:
		if c.IsSplit() {
			id.ContainerTimestamp = c.Timestamp
			return id, c.ID, nil
		}
		return id, 0, nil
	case errors.Is(err, interfaces.ErrNotFound):
		return id, 0, nil
	default:
		return provenance.Identity{}, 0, &interfaces.PersistenceError{Op: "ingest", Err: err}
	}
}
