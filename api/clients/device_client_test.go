package clients

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/keyshare-backup/api"
	"github.com/ruteri/keyshare-backup/container"
	"github.com/ruteri/keyshare-backup/contacts"
	"github.com/ruteri/keyshare-backup/cryptoutils"
	"github.com/ruteri/keyshare-backup/database"
	"github.com/ruteri/keyshare-backup/httpserver"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/ruteri/keyshare-backup/provenance"
	"github.com/ruteri/keyshare-backup/recovery"
	"github.com/ruteri/keyshare-backup/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	client *DeviceClient
	parts  []*interfaces.KeyPart
	backup *interfaces.Backup
}

func setup(t *testing.T, userName string) *fixture {
	ctx := context.Background()
	store := database.NewMemoryStore()
	require.NoError(t, store.SavePreferences(ctx, interfaces.Preferences{UserName: userName}))

	manager := container.NewManager(store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, newTestLogger())
	c, err := manager.NewContainer("primary", 2, 3)
	require.NoError(t, err)
	parts, err := manager.Split(ctx, c)
	require.NoError(t, err)

	flow := recovery.NewFlow(store, cryptoutils.ShamirSplitter{}, cryptoutils.ECIESCipher{}, nil, newTestLogger())
	b, err := flow.CreateBackup(c, "wallet")
	require.NoError(t, err)
	require.NoError(t, flow.Seal(b, []byte("seed words")))
	require.NoError(t, store.InsertBackup(ctx, b))

	tracker := contacts.NewTracker(store, newTestLogger())
	ingester := scanner.NewIngester(store, tracker, provenance.Mode{Foreign: true}, newTestLogger())
	srv, err := httpserver.New(&httpserver.Config{ListenAddr: "127.0.0.1:0", Log: newTestLogger()},
		httpserver.NewHandler(store, manager, tracker, flow, ingester, newTestLogger()),
		httpserver.NewRestoreHandler(store, flow, newTestLogger()))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{client: NewDeviceClient(ts.URL + "/"), parts: parts, backup: b}
}

func encode(t *testing.T, kp *interfaces.KeyPart) string {
	text, err := keypart.Encode(kp, kp.Threshold)
	require.NoError(t, err)
	return text
}

func TestDeviceClient_Views(t *testing.T) {
	f := setup(t, "Alice")

	status, err := f.client.Status()
	require.NoError(t, err)
	assert.Equal(t, "Alice", status.UserName)
	require.NotNil(t, status.Container)
	assert.Equal(t, 3, status.Container.Spares)

	list, err := f.client.Contacts()
	require.NoError(t, err)
	assert.Empty(t, list)

	backups, err := f.client.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "wallet", backups[0].Name)
}

func TestDeviceClient_Scan(t *testing.T) {
	alice := setup(t, "Alice")
	bob := setup(t, "Bob")

	res, err := alice.client.Scan(encode(t, bob.parts[0]))
	require.NoError(t, err)
	assert.Equal(t, "Bob", res.Owner)
	assert.False(t, res.Duplicate)

	_, err = alice.client.Scan(encode(t, alice.parts[0]))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, string(interfaces.RuleOwnShare), apiErr.Rule)

	_, err = alice.client.Scan("garbage")
	assert.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestDeviceClient_Restore(t *testing.T) {
	f := setup(t, "Alice")

	_, err := f.client.SubmitShare(encode(t, f.parts[0]))
	assert.True(t, IsStatus(err, http.StatusConflict))

	require.NoError(t, f.client.InitRestore(0))

	status, err := f.client.SubmitShare(encode(t, f.parts[0]))
	require.NoError(t, err)
	assert.Equal(t, 1, status.Needed)

	_, err = f.client.RestoreBackup(api.RestoreRequest{BackupID: f.backup.ID})
	assert.True(t, IsStatus(err, http.StatusConflict))

	_, err = f.client.SubmitShare(encode(t, f.parts[1]))
	require.NoError(t, err)

	plaintext, err := f.client.RestoreBackup(api.RestoreRequest{BackupID: f.backup.ID})
	require.NoError(t, err)
	assert.Equal(t, []byte("seed words"), plaintext)

	status, err = f.client.RestoreStatus()
	require.NoError(t, err)
	assert.Equal(t, "complete", status.State)
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{StatusCode: 422, Message: "rejected", Rule: "own-share"}
	assert.Equal(t, "request failed with code 422: rejected (own-share)", err.Error())
	assert.False(t, IsStatus(io.EOF, 422))
}
