package recovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/keyshare-backup/container"
	"github.com/ruteri/keyshare-backup/cryptoutils"
	"github.com/ruteri/keyshare-backup/database"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBlobStore implements interfaces.BlobStore for testing
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}

func (m *MockBlobStore) Get(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockBlobStore) Name() string {
	return "mock"
}

func (m *MockBlobStore) LocationURI() string {
	return "mock:"
}

// MockChannel implements interfaces.Channel for testing
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Method() interfaces.SendMethod {
	return interfaces.MethodEmail
}

func (m *MockChannel) Send(ctx context.Context, d interfaces.Delivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type splitResult struct {
	container *interfaces.Container
	parts     []*interfaces.KeyPart
	store     *database.MemoryStore
}

func splitContainer(t *testing.T, threshold, total int) splitResult {
	ctx := context.Background()
	store := database.NewMemoryStore()
	require.NoError(t, store.SavePreferences(ctx, interfaces.Preferences{UserName: "Alice"}))

	m := container.NewManager(store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, newTestLogger())
	c, err := m.NewContainer("primary", threshold, total)
	require.NoError(t, err)
	parts, err := m.Split(ctx, c)
	require.NoError(t, err)

	return splitResult{container: c, parts: parts, store: store}
}

func newTestFlow(store interfaces.Store, blobs interfaces.BlobStore) *Flow {
	f := NewFlow(store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, blobs, newTestLogger())
	f.now = func() time.Time { return time.UnixMilli(1700000001000) }
	return f
}

func sealedBackup(t *testing.T, f *Flow, c *interfaces.Container, plaintext []byte) *interfaces.Backup {
	b, err := f.CreateBackup(c, "wallet")
	require.NoError(t, err)
	require.NoError(t, f.Seal(b, plaintext))
	return b
}

func pick(parts []*interfaces.KeyPart, indexes ...int) []*interfaces.KeyPart {
	result := make([]*interfaces.KeyPart, 0, len(indexes))
	for _, i := range indexes {
		result = append(result, parts[i])
	}
	return result
}

func TestRestoreThreeOfFive(t *testing.T) {
	s := splitContainer(t, 3, 5)
	f := newTestFlow(s.store, nil)
	plaintext := []byte("correct horse battery staple")

	b := sealedBackup(t, f, s.container, plaintext)
	require.NoError(t, f.Store(context.Background(), b, interfaces.StorePrint))

	restored, err := f.RestoreBackup(s.container, pick(s.parts, 0, 2, 4), b.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, restored)
}

func TestRestoreAnySubset(t *testing.T) {
	s := splitContainer(t, 3, 5)
	f := newTestFlow(s.store, nil)
	plaintext := []byte("secret")
	b := sealedBackup(t, f, s.container, plaintext)

	for mask := 0; mask < 1<<5; mask++ {
		var subset []int
		for i := 0; i < 5; i++ {
			if mask&(1<<i) != 0 {
				subset = append(subset, i)
			}
		}

		restored, err := f.RestoreBackup(s.container, pick(s.parts, subset...), b.Ciphertext)
		if len(subset) >= 3 {
			require.NoError(t, err, "subset %v", subset)
			assert.Equal(t, plaintext, restored)
			continue
		}

		assert.Nil(t, restored)
		assert.ErrorIs(t, err, interfaces.ErrReconstruction, "subset %v", subset)
		var recErr *interfaces.ReconstructionError
		require.True(t, errors.As(err, &recErr))
		assert.Equal(t, len(subset), recErr.Have)
		assert.Equal(t, 3, recErr.Need)
	}
}

func TestRestoreSingleThreshold(t *testing.T) {
	s := splitContainer(t, 1, 3)
	f := newTestFlow(s.store, nil)
	plaintext := []byte("one is enough")
	b := sealedBackup(t, f, s.container, plaintext)

	for i := range s.parts {
		restored, err := f.RestoreBackup(s.container, pick(s.parts, i), b.Ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, restored)
	}

	restored, err := f.RestoreBackup(s.container, s.parts, b.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, restored)
}

func TestRestoreDuplicateSharesCountOnce(t *testing.T) {
	s := splitContainer(t, 3, 5)
	f := newTestFlow(s.store, nil)
	b := sealedBackup(t, f, s.container, []byte("secret"))

	_, err := f.RestoreBackup(s.container, pick(s.parts, 0, 0, 2), b.Ciphertext)
	var recErr *interfaces.ReconstructionError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 2, recErr.Have)
}

func TestRestoreCorruptShare(t *testing.T) {
	s := splitContainer(t, 2, 3)
	f := newTestFlow(s.store, nil)
	b := sealedBackup(t, f, s.container, []byte("secret"))

	corrupt := s.parts[1].Clone()
	corrupt.Key[0] ^= 0xff

	restored, err := f.RestoreBackup(s.container, []*interfaces.KeyPart{s.parts[0], corrupt}, b.Ciphertext)
	assert.Nil(t, restored)
	assert.ErrorIs(t, err, interfaces.ErrDecryption)
}

func TestRestoreWithOtherContainerShares(t *testing.T) {
	a := splitContainer(t, 2, 3)
	other := splitContainer(t, 2, 3)
	f := newTestFlow(a.store, nil)
	b := sealedBackup(t, f, a.container, []byte("secret"))

	restored, err := f.RestoreBackup(a.container, other.parts, b.Ciphertext)
	assert.Nil(t, restored)
	assert.ErrorIs(t, err, interfaces.ErrDecryption)
}

func TestRestoreMalformedCiphertext(t *testing.T) {
	s := splitContainer(t, 2, 3)
	f := newTestFlow(s.store, nil)

	for _, ciphertext := range []string{"", "not base64!", "AAAA"} {
		restored, err := f.RestoreBackup(s.container, s.parts, ciphertext)
		assert.Nil(t, restored)
		assert.ErrorIs(t, err, interfaces.ErrDecryption, "ciphertext %q", ciphertext)
	}
}

func TestRestoreAcceptsWrappedBase64(t *testing.T) {
	s := splitContainer(t, 2, 3)
	f := newTestFlow(s.store, nil)
	plaintext := bytes.Repeat([]byte("long secret "), 20)
	b := sealedBackup(t, f, s.container, plaintext)

	var wrapped []byte
	for i, r := range []byte(b.Ciphertext) {
		if i > 0 && i%76 == 0 {
			wrapped = append(wrapped, '\n')
		}
		wrapped = append(wrapped, r)
	}

	restored, err := f.RestoreBackup(s.container, s.parts[:2], string(wrapped))
	require.NoError(t, err)
	assert.Equal(t, plaintext, restored)
}

func TestRestoreWithoutContainer(t *testing.T) {
	f := newTestFlow(database.NewMemoryStore(), nil)
	_, err := f.RestoreBackup(nil, nil, "AAAA")
	assert.ErrorIs(t, err, interfaces.ErrNoContainer)
}

func TestCreateBackup(t *testing.T) {
	s := splitContainer(t, 2, 3)
	f := newTestFlow(s.store, nil)

	b, err := f.CreateBackup(s.container, "wallet")
	require.NoError(t, err)
	assert.Equal(t, "wallet", b.Name)
	assert.Equal(t, s.container.Timestamp, b.Timestamp)
	assert.Equal(t, s.container.PublicKey, b.PublicKey)
	assert.Nil(t, b.PrivateKey)
	assert.Equal(t, int64(1700000001000), b.CreatedAt.UnixMilli())

	b, err = f.CreateBackup(s.container, "")
	require.NoError(t, err)
	assert.Regexp(t, `^backup-[0-9a-f]{8}$`, b.Name)

	_, err = f.CreateBackup(&interfaces.Container{}, "x")
	assert.ErrorIs(t, err, ErrNoPublicKey)
}

func TestSealDropsPlaintext(t *testing.T) {
	s := splitContainer(t, 2, 3)
	f := newTestFlow(s.store, nil)

	b, err := f.CreateBackup(s.container, "wallet")
	require.NoError(t, err)
	b.Plaintext = []byte("secret")
	require.NoError(t, f.Seal(b, b.Plaintext))

	assert.Nil(t, b.Plaintext)
	assert.True(t, b.HasCiphertext())
	assert.NotContains(t, b.Ciphertext, "secret")
}

func TestStoreCloud(t *testing.T) {
	ctx := context.Background()
	s := splitContainer(t, 2, 3)
	blobs := new(MockBlobStore)
	f := newTestFlow(s.store, blobs)
	b := sealedBackup(t, f, s.container, []byte("secret"))

	blobs.On("Put", mock.Anything, "wallet", []byte(b.Ciphertext)).Return("file:///cloud/wallet", nil)
	require.NoError(t, f.Store(ctx, b, interfaces.StoreCloud))
	assert.Equal(t, "file:///cloud/wallet", b.Locator)
	assert.NotZero(t, b.ID)

	stored, err := s.store.FindBackup(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StoreCloud, stored.StoreMethod)
	assert.True(t, stored.InCloud())

	require.NoError(t, f.RemoveData(ctx, stored))
	assert.False(t, stored.HasCiphertext())

	blobs.On("Get", mock.Anything, "wallet").Return([]byte(b.Ciphertext+"\n"), nil)
	require.NoError(t, f.Fetch(ctx, stored))
	assert.Equal(t, b.Ciphertext, stored.Ciphertext)

	restored, err := f.RestoreBackup(s.container, s.parts[1:], stored.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), restored)

	blobs.AssertExpectations(t)
}

func TestStoreCloudExistingName(t *testing.T) {
	ctx := context.Background()
	s := splitContainer(t, 2, 3)
	dir := t.TempDir()
	blobs, err := storage.NewFileBackend(dir, newTestLogger())
	require.NoError(t, err)
	f := newTestFlow(s.store, blobs)

	first := sealedBackup(t, f, s.container, []byte("secret"))
	require.NoError(t, f.Store(ctx, first, interfaces.StoreCloud))

	second := sealedBackup(t, f, s.container, []byte("another secret"))
	require.NoError(t, f.Store(ctx, second, interfaces.StoreCloud), "writing a taken name is a no-op")
	assert.Equal(t, first.Locator, second.Locator)
	assert.NotZero(t, second.ID)

	data, err := os.ReadFile(filepath.Join(dir, "wallet"))
	require.NoError(t, err)
	assert.Equal(t, first.Ciphertext, string(data), "the first blob is kept")

	backups, err := f.List(ctx, interfaces.BackupFilter{})
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestStoreCloudWithoutBackend(t *testing.T) {
	s := splitContainer(t, 2, 3)
	f := newTestFlow(s.store, nil)
	b := sealedBackup(t, f, s.container, []byte("secret"))

	assert.ErrorIs(t, f.Store(context.Background(), b, interfaces.StoreCloud), interfaces.ErrBackendUnavailable)
}

func TestStoreEmail(t *testing.T) {
	ctx := context.Background()
	s := splitContainer(t, 2, 3)
	ch := new(MockChannel)
	f := newTestFlow(s.store, nil).WithChannel(interfaces.StoreEmail, ch)
	b := sealedBackup(t, f, s.container, []byte("secret"))

	ch.On("Send", mock.Anything, mock.MatchedBy(func(d interfaces.Delivery) bool {
		return d.Payload == b.Ciphertext && d.Recipient == "wallet"
	})).Return(nil)

	require.NoError(t, f.Store(ctx, b, interfaces.StoreEmail))
	ch.AssertExpectations(t)

	available, err := f.List(ctx, interfaces.BackupFilter{WithCiphertext: true})
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, interfaces.StoreEmail, available[0].StoreMethod)
}

func TestStoreTooLargeForTransport(t *testing.T) {
	s := splitContainer(t, 2, 3)
	ch := new(MockChannel)
	f := newTestFlow(s.store, nil).WithChannel(interfaces.StorePrint, ch)
	b := sealedBackup(t, f, s.container, make([]byte, 3000))

	err := f.Store(context.Background(), b, interfaces.StorePrint)
	assert.ErrorIs(t, err, interfaces.ErrTransportSizeExceeded)

	var sizeErr *interfaces.TransportSizeError
	require.True(t, errors.As(err, &sizeErr))
	assert.Equal(t, len(b.Ciphertext), sizeErr.Length)
	ch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestStoreUnsealed(t *testing.T) {
	f := newTestFlow(database.NewMemoryStore(), nil)
	assert.ErrorIs(t, f.Store(context.Background(), &interfaces.Backup{Name: "x"}, interfaces.StorePrint), ErrNotSealed)
}

func TestStorePersistenceFailure(t *testing.T) {
	s := splitContainer(t, 2, 3)
	store := database.NewFaultyStore(s.store)
	store.FailOn("InsertBackup", errors.New("disk full"))
	f := newTestFlow(store, nil)
	b := sealedBackup(t, f, s.container, []byte("secret"))

	err := f.Store(context.Background(), b, interfaces.StorePrint)
	assert.ErrorIs(t, err, interfaces.ErrPersistence)
}

func TestFetchWithoutCloudCopy(t *testing.T) {
	f := newTestFlow(database.NewMemoryStore(), new(MockBlobStore))
	err := f.Fetch(context.Background(), &interfaces.Backup{Name: "x"})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
