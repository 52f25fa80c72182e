package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// MultiStorageBackend implements interfaces.BlobStore over several backends.
// Writes go to every available backend, reads are served by the first one
// holding the blob.
type MultiStorageBackend struct {
	backends []interfaces.BlobStore
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.BlobStore, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Get returns the blob from the first available backend that has it.
func (m *MultiStorageBackend) Get(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := true

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("name", name))
			continue
		}

		data, err := backend.Get(ctx, name)
		if err == nil {
			m.log.Info("Fetched blob",
				slog.String("backend_name", backend.Name()),
				slog.String("name", name),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if !errors.Is(err, interfaces.ErrContentNotFound) {
			notFound = false
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("name", name),
			"err", err)
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no backend available", interfaces.ErrBackendUnavailable)
	}
	if notFound {
		return nil, interfaces.ErrContentNotFound
	}

	m.log.Error("All backends failed to fetch blob",
		slog.String("name", name),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all backends failed to fetch %s: %w", name, errors.Join(errs...))
}

// Put stores data in all available backends and returns the first locator.
// Backends already holding the name keep their copy.
func (m *MultiStorageBackend) Put(ctx context.Context, name string, data []byte) (string, error) {
	start := time.Now()
	var locator string
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		loc, err := backend.Put(ctx, name, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}

		if locator == "" {
			locator = loc
			m.log.Info("Stored blob",
				slog.String("backend_name", backend.Name()),
				slog.String("locator", loc),
				slog.Duration("duration", time.Since(start)))
		}
	}

	if locator != "" {
		return locator, nil
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: no backend available", interfaces.ErrBackendUnavailable)
	}
	m.log.Error("All backends failed to store blob",
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return "", fmt.Errorf("all backends failed to store %s: %w", name, errors.Join(errs...))
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the URI of this backend
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
