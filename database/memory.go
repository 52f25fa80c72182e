package database

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// MemoryStore is a concurrency-safe in-memory implementation of interfaces.Store.
// Useful for tests, demos, or as an ephemeral backend.
type MemoryStore struct {
	txMu sync.Mutex // serializes Atomic calls and writers
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	containers map[int64]interfaces.Container
	keyParts   map[int64]interfaces.KeyPart
	contacts   map[int64]interfaces.Contact
	backups    map[int64]interfaces.Backup
	prefs      interfaces.Preferences
	nextID     int64
}

var _ interfaces.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		containers: make(map[int64]interfaces.Container),
		keyParts:   make(map[int64]interfaces.KeyPart),
		contacts:   make(map[int64]interfaces.Contact),
		backups:    make(map[int64]interfaces.Backup),
	}}
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		containers: make(map[int64]interfaces.Container, len(d.containers)),
		keyParts:   make(map[int64]interfaces.KeyPart, len(d.keyParts)),
		contacts:   make(map[int64]interfaces.Contact, len(d.contacts)),
		backups:    make(map[int64]interfaces.Backup, len(d.backups)),
		prefs:      d.prefs,
		nextID:     d.nextID,
	}
	for k, v := range d.containers {
		c.containers[k] = v
	}
	for k, v := range d.keyParts {
		c.keyParts[k] = v
	}
	for k, v := range d.contacts {
		c.contacts[k] = v
	}
	for k, v := range d.backups {
		c.backups[k] = v
	}
	return c
}

func (d *memoryData) id() int64 {
	d.nextID++
	return d.nextID
}

// Atomic runs fn against a private copy of the data and installs the copy
// only when fn succeeds. Direct writes wait for a running Atomic call, so
// callbacks must write through the store view they are handed.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(interfaces.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := &MemoryStore{data: m.data.clone()}
	m.mu.RUnlock()

	if err := fn(&memoryTx{work}); err != nil {
		return err
	}

	m.mu.Lock()
	m.data = work.data
	m.mu.Unlock()
	return nil
}

// lock takes the writer locks. Writers queue behind a running Atomic call so
// its commit cannot discard them.
func (m *MemoryStore) lock() (unlock func()) {
	m.txMu.Lock()
	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		m.txMu.Unlock()
	}
}

// memoryTx is the store view handed to Atomic callbacks. Nested Atomic calls
// join the outer one.
type memoryTx struct {
	*MemoryStore
}

func (t *memoryTx) Atomic(ctx context.Context, fn func(interfaces.Store) error) error {
	return fn(t)
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) UpsertContainer(ctx context.Context, c *interfaces.Container) error {
	defer m.lock()()

	if c.ID == 0 {
		c.ID = interfaces.ActiveContainerID
	}
	stored := *c
	stored.PrivateKey = nil
	stored.PublicKey = bytes.Clone(c.PublicKey)
	m.data.containers[c.ID] = stored
	return nil
}

func (m *MemoryStore) FindContainer(ctx context.Context, id int64) (*interfaces.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.data.containers[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c.PublicKey = bytes.Clone(c.PublicKey)
	return &c, nil
}

func (m *MemoryStore) InsertKeyParts(ctx context.Context, kps []*interfaces.KeyPart) error {
	defer m.lock()()

	for _, kp := range kps {
		kp.ID = m.data.id()
		m.data.keyParts[kp.ID] = *kp.Clone()
	}
	return nil
}

func (m *MemoryStore) FindKeyPart(ctx context.Context, id int64) (*interfaces.KeyPart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kp, ok := m.data.keyParts[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return kp.Clone(), nil
}

func (m *MemoryStore) FindKeyPartByContent(ctx context.Context, key []byte, timestamp int64, foreign bool) (*interfaces.KeyPart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *interfaces.KeyPart
	for _, kp := range m.data.keyParts {
		if kp.Timestamp != timestamp || kp.Foreign != foreign || !bytes.Equal(kp.Key, key) {
			continue
		}
		if found == nil || kp.ID < found.ID {
			found = kp.Clone()
		}
	}
	if found == nil {
		return nil, interfaces.ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) DeleteKeyPart(ctx context.Context, id int64) error {
	defer m.lock()()

	if _, ok := m.data.keyParts[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(m.data.keyParts, id)
	return nil
}

func (m *MemoryStore) ListKeyParts(ctx context.Context, filter interfaces.KeyPartFilter) ([]*interfaces.KeyPart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assigned := make(map[int64]bool)
	if filter.Unassigned {
		for _, c := range m.data.contacts {
			if c.KeyPartID > 0 {
				assigned[c.KeyPartID] = true
			}
		}
	}

	var result []*interfaces.KeyPart
	for _, kp := range m.data.keyParts {
		if filter.Foreign != nil && kp.Foreign != *filter.Foreign {
			continue
		}
		if filter.ContainerID != 0 && kp.ContainerID != filter.ContainerID {
			continue
		}
		if assigned[kp.ID] {
			continue
		}
		result = append(result, kp.Clone())
	}

	byOwner := filter.Foreign != nil && *filter.Foreign
	sort.Slice(result, func(i, j int) bool {
		if byOwner && result[i].Owner != result[j].Owner {
			return result[i].Owner < result[j].Owner
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) UpsertContact(ctx context.Context, c *interfaces.Contact) error {
	defer m.lock()()

	if c.ID == 0 {
		c.ID = m.data.id()
	} else if _, ok := m.data.contacts[c.ID]; !ok {
		return interfaces.ErrNotFound
	}
	m.data.contacts[c.ID] = *c
	return nil
}

func (m *MemoryStore) DeleteContact(ctx context.Context, id int64) error {
	defer m.lock()()

	if _, ok := m.data.contacts[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(m.data.contacts, id)
	return nil
}

func (m *MemoryStore) FindContact(ctx context.Context, id int64) (*interfaces.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.data.contacts[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) FindContactByKeyPart(ctx context.Context, keyPartID int64) (*interfaces.Contact, error) {
	contacts, err := m.ListContacts(ctx, interfaces.ContactFilter{})
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if keyPartID > 0 && c.KeyPartID == keyPartID {
			return c, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (m *MemoryStore) ListContacts(ctx context.Context, filter interfaces.ContactFilter) ([]*interfaces.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*interfaces.Contact
	for _, c := range m.data.contacts {
		if filter.ContainerID != 0 && c.ContainerID != filter.ContainerID {
			continue
		}
		if filter.Status != nil && c.SendStatus != *filter.Status {
			continue
		}
		c := c
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) InsertBackup(ctx context.Context, b *interfaces.Backup) error {
	defer m.lock()()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.ID = m.data.id()
	m.data.backups[b.ID] = storedBackup(b)
	return nil
}

func (m *MemoryStore) UpdateBackup(ctx context.Context, b *interfaces.Backup) error {
	defer m.lock()()

	existing, ok := m.data.backups[b.ID]
	if !ok {
		return interfaces.ErrNotFound
	}
	updated := storedBackup(b)
	updated.CreatedAt = existing.CreatedAt
	m.data.backups[b.ID] = updated
	return nil
}

// storedBackup drops transient fields and truncates the creation time to the
// millisecond precision of the SQL store.
func storedBackup(b *interfaces.Backup) interfaces.Backup {
	stored := *b
	stored.PrivateKey = nil
	stored.Plaintext = nil
	stored.PublicKey = bytes.Clone(b.PublicKey)
	stored.CreatedAt = time.UnixMilli(b.CreatedAt.UnixMilli())
	return stored
}

func (m *MemoryStore) FindBackup(ctx context.Context, id int64) (*interfaces.Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.data.backups[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &b, nil
}

func (m *MemoryStore) ListBackups(ctx context.Context, filter interfaces.BackupFilter) ([]*interfaces.Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*interfaces.Backup
	for _, b := range m.data.backups {
		if filter.WithCiphertext && !b.HasCiphertext() {
			continue
		}
		b := b
		result = append(result, &b)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) Preferences(ctx context.Context) (interfaces.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.prefs, nil
}

func (m *MemoryStore) SavePreferences(ctx context.Context, p interfaces.Preferences) error {
	defer m.lock()()
	m.data.prefs = p
	return nil
}
