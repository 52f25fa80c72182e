package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "backups")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))

	_, err = backend.Get(ctx, "wallet")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	locator, err := backend.Put(ctx, "wallet", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "wallet"), locator)

	again, err := backend.Put(ctx, "wallet", []byte("second"))
	require.NoError(t, err, "writing an existing name is a no-op")
	assert.Equal(t, locator, again)

	data, err := backend.Get(ctx, "wallet")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data, "existing blob must not be overwritten")

	info, err := os.Stat(filepath.Join(dir, "wallet"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileBackendRejectsPathNames(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../escape", "a/b", `a\b`} {
		_, err := backend.Put(ctx, name, []byte("x"))
		assert.Error(t, err, "name %q", name)
		_, err = backend.Get(ctx, name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestFactory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewBlobStoreFactory(logger)
	dir := t.TempDir()

	loc, err := interfaces.NewBlobStoreLocation("file://" + dir)
	require.NoError(t, err)
	backend, err := factory.BlobStoreFor(loc)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	loc, err = interfaces.NewBlobStoreLocation("s3://key:secret@bucket/prefix?region=eu-west-1")
	require.NoError(t, err)
	backend, err = factory.BlobStoreFor(loc)
	require.NoError(t, err)
	s3Backend := backend.(*S3Backend)
	assert.Equal(t, "prefix", s3Backend.prefix)
	assert.True(t, s3Backend.hasWriteAccess)
	assert.NotContains(t, s3Backend.LocationURI(), "secret")

	loc, err = interfaces.NewBlobStoreLocation("ipfs://127.0.0.1/keys?timeout=5s")
	require.NoError(t, err)
	backend, err = factory.BlobStoreFor(loc)
	require.NoError(t, err)
	assert.Equal(t, "ipfs-127.0.0.1-5001", backend.Name())

	loc, err = interfaces.NewBlobStoreLocation("vault://token@vault.local:8200/kv/keyshare?insecure=true")
	require.NoError(t, err)
	backend, err = factory.BlobStoreFor(loc)
	require.NoError(t, err)
	vaultBackend := backend.(*VaultBackend)
	assert.Equal(t, "kv/data/keyshare/wallet", vaultBackend.secretPath("wallet"))

	_, err = interfaces.NewBlobStoreLocation("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestFactoryMultiBackend(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewBlobStoreFactory(logger)

	var locations []interfaces.BlobStoreLocation
	for _, dir := range []string{t.TempDir(), t.TempDir()} {
		loc, err := interfaces.NewBlobStoreLocation("file://" + dir)
		require.NoError(t, err)
		locations = append(locations, loc)
	}

	store, err := factory.CreateMultiBackend(locations)
	require.NoError(t, err)
	assert.IsType(t, &MultiStorageBackend{}, store)

	_, err = store.Put(ctx, "wallet", []byte("data"))
	require.NoError(t, err)

	_, err = store.Put(ctx, "wallet", []byte("other"))
	require.NoError(t, err)

	data, err := store.Get(ctx, "wallet")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	_, err = factory.CreateMultiBackend(nil)
	assert.Error(t, err)
}
