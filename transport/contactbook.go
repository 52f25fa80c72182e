package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// BookEntry is one address book record.
type BookEntry struct {
	ExternalID int64  `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
}

// FileContactBook is an address book kept as a JSON object mapping lookup
// keys to entries.
type FileContactBook struct {
	path string

	mu      sync.Mutex
	entries map[string]BookEntry
}

// NewFileContactBook loads the address book at path. A missing file is an
// empty book.
func NewFileContactBook(path string) (*FileContactBook, error) {
	b := &FileContactBook{path: path, entries: make(map[string]BookEntry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contact book: %w", err)
	}
	if err := json.Unmarshal(data, &b.entries); err != nil {
		return nil, fmt.Errorf("failed to parse contact book %s: %w", path, err)
	}
	return b, nil
}

// Lookup returns the entry for a lookup key.
func (b *FileContactBook) Lookup(lookupKey string) (BookEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[lookupKey]
	return entry, ok
}

// Refresh updates the contact's name, email and external id from the entry
// matching its lookup key. Unknown keys leave the contact unchanged.
func (b *FileContactBook) Refresh(ctx context.Context, c *interfaces.Contact) (bool, error) {
	if c.LookupKey == "" {
		return false, nil
	}
	entry, ok := b.Lookup(c.LookupKey)
	if !ok {
		return false, nil
	}

	changed := false
	if entry.ExternalID != 0 && entry.ExternalID != c.ExternalID {
		c.ExternalID = entry.ExternalID
		changed = true
	}
	if entry.Name != "" && entry.Name != c.Name {
		c.Name = entry.Name
		changed = true
	}
	if entry.Email != "" && entry.Email != c.Email {
		c.Email = entry.Email
		changed = true
	}
	return changed, nil
}
