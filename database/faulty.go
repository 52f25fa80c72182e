package database

import (
	"context"
	"sync"

	"github.com/ruteri/keyshare-backup/interfaces"
)

// FaultyStore wraps a store and fails selected operations. It is used to test
// rollback paths of the components writing to the store.
type FaultyStore struct {
	interfaces.Store
	faults *faults
}

type faults struct {
	mu  sync.Mutex
	ops map[string]error
}

// NewFaultyStore wraps inner without any faults configured.
func NewFaultyStore(inner interfaces.Store) *FaultyStore {
	return &FaultyStore{Store: inner, faults: &faults{ops: make(map[string]error)}}
}

// FailOn makes every later call of the named method return err. A nil err
// clears the fault.
func (f *FaultyStore) FailOn(op string, err error) {
	f.faults.mu.Lock()
	defer f.faults.mu.Unlock()
	if err == nil {
		delete(f.faults.ops, op)
		return
	}
	f.faults.ops[op] = err
}

func (f *FaultyStore) fault(op string) error {
	f.faults.mu.Lock()
	defer f.faults.mu.Unlock()
	return f.faults.ops[op]
}

func (f *FaultyStore) Atomic(ctx context.Context, fn func(interfaces.Store) error) error {
	return f.Store.Atomic(ctx, func(tx interfaces.Store) error {
		return fn(&FaultyStore{Store: tx, faults: f.faults})
	})
}

func (f *FaultyStore) UpsertContainer(ctx context.Context, c *interfaces.Container) error {
	if err := f.fault("UpsertContainer"); err != nil {
		return err
	}
	return f.Store.UpsertContainer(ctx, c)
}

func (f *FaultyStore) InsertKeyParts(ctx context.Context, kps []*interfaces.KeyPart) error {
	if err := f.fault("InsertKeyParts"); err != nil {
		return err
	}
	return f.Store.InsertKeyParts(ctx, kps)
}

func (f *FaultyStore) DeleteKeyPart(ctx context.Context, id int64) error {
	if err := f.fault("DeleteKeyPart"); err != nil {
		return err
	}
	return f.Store.DeleteKeyPart(ctx, id)
}

func (f *FaultyStore) UpsertContact(ctx context.Context, c *interfaces.Contact) error {
	if err := f.fault("UpsertContact"); err != nil {
		return err
	}
	return f.Store.UpsertContact(ctx, c)
}

func (f *FaultyStore) InsertBackup(ctx context.Context, b *interfaces.Backup) error {
	if err := f.fault("InsertBackup"); err != nil {
		return err
	}
	return f.Store.InsertBackup(ctx, b)
}

func (f *FaultyStore) UpdateBackup(ctx context.Context, b *interfaces.Backup) error {
	if err := f.fault("UpdateBackup"); err != nil {
		return err
	}
	return f.Store.UpdateBackup(ctx, b)
}

func (f *FaultyStore) SavePreferences(ctx context.Context, p interfaces.Preferences) error {
	if err := f.fault("SavePreferences"); err != nil {
		return err
	}
	return f.Store.SavePreferences(ctx, p)
}
