package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/keyshare-backup/container"
	"github.com/ruteri/keyshare-backup/contacts"
	"github.com/ruteri/keyshare-backup/cryptoutils"
	"github.com/ruteri/keyshare-backup/database"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/ruteri/keyshare-backup/provenance"
	"github.com/ruteri/keyshare-backup/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type device struct {
	ctx       context.Context
	store     *database.FaultyStore
	inner     *database.MemoryStore
	tracker   *contacts.Tracker
	container *interfaces.Container
	parts     []*interfaces.KeyPart
}

// newDevice creates a store for userName. With total > 0 a container is split.
func newDevice(t *testing.T, userName string, threshold, total int) *device {
	ctx := context.Background()
	inner := database.NewMemoryStore()
	store := database.NewFaultyStore(inner)
	require.NoError(t, inner.SavePreferences(ctx, interfaces.Preferences{UserName: userName}))

	d := &device{
		ctx:     ctx,
		store:   store,
		inner:   inner,
		tracker: contacts.NewTracker(store, newTestLogger()),
	}
	if total == 0 {
		return d
	}

	m := container.NewManager(store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, newTestLogger())
	c, err := m.NewContainer("primary", threshold, total)
	require.NoError(t, err)
	parts, err := m.Split(ctx, c)
	require.NoError(t, err)
	d.container = c
	d.parts = parts
	return d
}

func (d *device) ingester(mode provenance.Mode) *Ingester {
	return NewIngester(d.store, d.tracker, mode, newTestLogger())
}

func encode(t *testing.T, kp *interfaces.KeyPart) string {
	text, err := keypart.Encode(kp, 0)
	require.NoError(t, err)
	return text
}

func TestIngestForeign(t *testing.T) {
	bob := newDevice(t, "Bob", 2, 3)
	alice := newDevice(t, "Alice", 0, 0)
	in := alice.ingester(provenance.Mode{Foreign: true})

	payload := encode(t, bob.parts[0])

	res, err := in.Ingest(alice.ctx, payload)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Nil(t, res.Holder)
	assert.True(t, res.KeyPart.Foreign)
	assert.Equal(t, "Bob", res.KeyPart.Owner)
	assert.Zero(t, res.KeyPart.ContainerID)
	assert.NotZero(t, res.KeyPart.ID)

	again, err := in.Ingest(alice.ctx, payload)
	require.NoError(t, err, "scanning the same share twice is accepted")
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.KeyPart.ID, again.KeyPart.ID)

	foreign, err := alice.inner.ListKeyParts(alice.ctx, interfaces.ForeignKeyParts())
	require.NoError(t, err)
	assert.Len(t, foreign, 1)
}

func TestIngestOwnShareAsForeignRejected(t *testing.T) {
	alice := newDevice(t, "Alice", 2, 3)
	in := alice.ingester(provenance.Mode{Foreign: true})

	_, err := in.Ingest(alice.ctx, encode(t, alice.parts[0]))
	var provErr *interfaces.ProvenanceError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, interfaces.RuleOwnShare, provErr.Rule)

	foreign, err := alice.inner.ListKeyParts(alice.ctx, interfaces.ForeignKeyParts())
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestIngestMalformed(t *testing.T) {
	alice := newDevice(t, "Alice", 0, 0)
	in := alice.ingester(provenance.Mode{Foreign: true})

	for _, payload := range []string{"", "hello", `{"key":""}`, `{"key":"AQID","timestamp":0}`} {
		_, err := in.Ingest(alice.ctx, payload)
		assert.ErrorIs(t, err, interfaces.ErrMalformedShare, payload)
	}
}

func TestIngestSelfShareScannedBack(t *testing.T) {
	alice := newDevice(t, "Alice", 2, 3)
	bob := &interfaces.Contact{Name: "Bob"}
	require.NoError(t, alice.tracker.Add(alice.ctx, bob))
	require.NoError(t, alice.tracker.Select(alice.ctx, bob, alice.parts[0], interfaces.MethodQR))
	require.NoError(t, alice.tracker.MarkSent(alice.ctx, bob))
	require.NoError(t, alice.tracker.Confirm(alice.ctx, bob))

	in := alice.ingester(provenance.Mode{})
	res, err := in.Ingest(alice.ctx, encode(t, alice.parts[0]))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, alice.parts[0].ID, res.KeyPart.ID)
	require.NotNil(t, res.Holder)
	assert.Equal(t, bob.ID, res.Holder.ID)
	assert.Equal(t, interfaces.StatusReceived, res.Holder.SendStatus)

	stored, err := alice.inner.FindContact(alice.ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReceived, stored.SendStatus)
}

func TestIngestSelfShareAfterClear(t *testing.T) {
	alice := newDevice(t, "Alice", 2, 3)
	bob := &interfaces.Contact{Name: "Bob"}
	require.NoError(t, alice.tracker.Add(alice.ctx, bob))
	require.NoError(t, alice.tracker.Select(alice.ctx, bob, alice.parts[1], interfaces.MethodPrint))
	require.NoError(t, alice.tracker.MarkSent(alice.ctx, bob))
	require.NoError(t, alice.tracker.Confirm(alice.ctx, bob))
	require.NoError(t, alice.tracker.Clear(alice.ctx, bob))

	_, err := alice.inner.FindKeyPart(alice.ctx, alice.parts[1].ID)
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	res, err := alice.ingester(provenance.Mode{}).Ingest(alice.ctx, encode(t, alice.parts[1]))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Nil(t, res.Holder)
	assert.False(t, res.KeyPart.Foreign)
	assert.Equal(t, interfaces.ActiveContainerID, res.KeyPart.ContainerID)
	assert.Equal(t, alice.parts[1].Key, res.KeyPart.Key)
}

func TestIngestSelfShareFromOtherContainerRejected(t *testing.T) {
	alice := newDevice(t, "Alice", 2, 3)
	old := alice.parts[0].Clone()
	old.Timestamp--

	_, err := alice.ingester(provenance.Mode{}).Ingest(alice.ctx, encode(t, old))
	var provErr *interfaces.ProvenanceError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, interfaces.RuleTimestampMismatch, provErr.Rule)
}

func TestIngestPersistenceFailure(t *testing.T) {
	bob := newDevice(t, "Bob", 2, 3)
	alice := newDevice(t, "Alice", 0, 0)
	alice.store.FailOn("InsertKeyParts", errors.New("disk full"))

	_, err := alice.ingester(provenance.Mode{Foreign: true}).Ingest(alice.ctx, encode(t, bob.parts[0]))
	assert.ErrorIs(t, err, interfaces.ErrPersistence)

	foreign, err := alice.inner.ListKeyParts(alice.ctx, interfaces.ForeignKeyParts())
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestRestoreOnNewDevice(t *testing.T) {
	alice := newDevice(t, "Alice", 2, 3)
	flow := recovery.NewFlow(alice.store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, nil, newTestLogger())
	b, err := flow.CreateBackup(alice.container, "wallet")
	require.NoError(t, err)
	require.NoError(t, flow.Seal(b, []byte("seed words")))

	fresh := newDevice(t, "", 0, 0)
	collector := recovery.NewCollector(0)
	in := fresh.ingester(provenance.Mode{IgnoreOrigin: true}).WithCollector(collector)

	_, err = in.Ingest(fresh.ctx, encode(t, alice.parts[2]))
	require.NoError(t, err)
	assert.Equal(t, 1, collector.Needed())

	_, err = in.Ingest(fresh.ctx, encode(t, alice.parts[2]))
	require.NoError(t, err)
	assert.Equal(t, 1, collector.Count())

	_, err = in.Ingest(fresh.ctx, encode(t, alice.parts[0]))
	require.NoError(t, err)
	require.True(t, collector.Ready())

	freshFlow := recovery.NewFlow(fresh.store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, nil, newTestLogger())
	plaintext, err := collector.Restore(freshFlow, b.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed words"), plaintext)
}
