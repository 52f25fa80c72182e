package httpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/keyshare-backup/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, url string, body any, v any) int {
	reqJSON, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(reqJSON))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestRestoreHandler_EndToEnd(t *testing.T) {
	alice := newTestDevice(t, "Alice")
	b := alice.sealBackup(t, "seed words")

	// Restore runs on a fresh device that only knows the backup.
	fresh := newTestDevice(t, "")
	copied := *b
	copied.ID = 0
	require.NoError(t, fresh.store.InsertBackup(context.Background(), &copied))
	ts := newTestServer(t, fresh)
	restore := ts.URL + "/api/restore"

	var status api.RestoreStatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, restore+"/status", &status))
	assert.Equal(t, "idle", status.State)

	assert.Equal(t, http.StatusConflict, postText(t, restore+"/share", encodePart(t, alice.parts[0]), nil))

	require.Equal(t, http.StatusOK, postJSON(t, restore+"/init", map[string]int{}, &status))
	assert.Equal(t, "collecting", status.State)
	assert.Equal(t, -1, status.Needed)
	assert.Equal(t, http.StatusConflict, postJSON(t, restore+"/init", map[string]int{}, nil))

	require.Equal(t, http.StatusOK, postText(t, restore+"/share", encodePart(t, alice.parts[0]), &status))
	assert.Equal(t, 2, status.Threshold, "threshold is learned from the share")
	assert.Equal(t, 1, status.Collected)
	assert.Equal(t, 1, status.Needed)

	require.Equal(t, http.StatusOK, postText(t, restore+"/share", encodePart(t, alice.parts[0]), &status))
	assert.Equal(t, 1, status.Collected, "resubmitting a share does not count twice")

	assert.Equal(t, http.StatusBadRequest, postText(t, restore+"/share", "not a key part", nil))

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusConflict, postJSON(t, restore+"/backup", api.RestoreRequest{BackupID: copied.ID}, &apiErr))

	require.Equal(t, http.StatusOK, postText(t, restore+"/share", encodePart(t, alice.parts[2]), &status))
	assert.Zero(t, status.Needed)

	assert.Equal(t, http.StatusNotFound, postJSON(t, restore+"/backup", api.RestoreRequest{BackupID: 999}, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, restore+"/backup", api.RestoreRequest{}, nil))

	var resp api.RestoreResponse
	require.Equal(t, http.StatusOK, postJSON(t, restore+"/backup", api.RestoreRequest{BackupID: copied.ID}, &resp))
	plaintext, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, "seed words", string(plaintext))

	require.Equal(t, http.StatusOK, getJSON(t, restore+"/status", &status))
	assert.Equal(t, "complete", status.State)
	assert.Zero(t, status.Collected)
}

func TestRestoreHandler_WrongCiphertext(t *testing.T) {
	alice := newTestDevice(t, "Alice")
	other := newTestDevice(t, "Alice")
	foreign := other.sealBackup(t, "not yours")
	ts := newTestServer(t, alice)
	restore := ts.URL + "/api/restore"

	require.Equal(t, http.StatusOK, postJSON(t, restore+"/init", map[string]int{"threshold": 2}, nil))
	for _, kp := range alice.parts[:2] {
		require.Equal(t, http.StatusOK, postText(t, restore+"/share", encodePart(t, kp), nil))
	}

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusUnprocessableEntity,
		postJSON(t, restore+"/backup", api.RestoreRequest{Ciphertext: foreign.Ciphertext}, &apiErr))

	var status api.RestoreStatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, restore+"/status", &status))
	assert.Equal(t, "collecting", status.State, "a failed restore keeps the session open")
	assert.Equal(t, 2, status.Collected)
}

func TestRestoreHandler_InvalidInit(t *testing.T) {
	ts := newTestServer(t, newTestDevice(t, "Alice"))

	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/api/restore/init", map[string]int{"threshold": -1}, nil))
	assert.Equal(t, http.StatusBadRequest, postText(t, ts.URL+"/api/restore/init", "{", nil))
}

func TestRestoreHandler_WaitForRestore(t *testing.T) {
	d := newTestDevice(t, "Alice")
	b := d.sealBackup(t, "seed words")
	h := NewRestoreHandler(d.store, d.flow, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.WaitForRestore(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- h.WaitForRestore(context.Background()) }()

	srv, err := New(&Config{ListenAddr: "127.0.0.1:0", Log: newTestLogger()},
		NewHandler(d.store, d.manager, d.tracker, d.flow, nil, newTestLogger()), h)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	hs := ts.URL

	require.Equal(t, http.StatusOK, postJSON(t, hs+"/api/restore/init", map[string]int{}, nil))
	for _, kp := range d.parts[1:] {
		require.Equal(t, http.StatusOK, postText(t, hs+"/api/restore/share", encodePart(t, kp), nil))
	}
	require.Equal(t, http.StatusOK, postJSON(t, hs+"/api/restore/backup", api.RestoreRequest{BackupID: b.ID}, nil))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForRestore did not return")
	}
	assert.Equal(t, StateComplete, h.State())
}

func TestRestoreStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "collecting", StateCollecting.String())
	assert.Equal(t, "complete", StateComplete.String())
	assert.Equal(t, "unknown", RestoreState(9).String())
}
