package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/keyshare-backup/api"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/keypart"
	"github.com/ruteri/keyshare-backup/recovery"
)

// RestoreState is the state of a share collection session.
type RestoreState int

const (
	// StateIdle means no session was started.
	StateIdle RestoreState = iota
	// StateCollecting means shares are being collected.
	StateCollecting
	// StateComplete means a backup was opened with the collected shares.
	StateComplete
)

func (s RestoreState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// RestoreHandler collects key parts submitted by their holders and opens a
// backup once enough are present. Submitted shares are kept in memory only.
type RestoreHandler struct {
	mu        sync.Mutex
	log       *slog.Logger
	store     interfaces.Store
	flow      *recovery.Flow
	state     RestoreState
	collector *recovery.Collector

	completeOnce sync.Once
	completeChan chan struct{}
}

// NewRestoreHandler creates an idle restore handler.
func NewRestoreHandler(store interfaces.Store, flow *recovery.Flow, log *slog.Logger) *RestoreHandler {
	return &RestoreHandler{
		log:          log,
		store:        store,
		flow:         flow,
		state:        StateIdle,
		completeChan: make(chan struct{}),
	}
}

// WaitForRestore blocks until a backup was opened or ctx is done.
func (h *RestoreHandler) WaitForRestore(ctx context.Context) error {
	select {
	case <-h.completeChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current session state.
func (h *RestoreHandler) State() RestoreState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// RestoreRouter returns the restore API router.
func (h *RestoreHandler) RestoreRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.handleStatus)
	r.Post("/init", h.handleInit)
	r.Post("/share", h.handleSubmitShare)
	r.Post("/backup", h.handleRestoreBackup)

	return r
}

func (h *RestoreHandler) status() api.RestoreStatusResponse {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := api.RestoreStatusResponse{State: h.state.String()}
	if h.collector != nil {
		resp.Threshold = h.collector.Threshold()
		resp.Collected = h.collector.Count()
		resp.Needed = h.collector.Needed()
	}
	return resp
}

// handleStatus reports the session progress.
//
// Endpoint: GET /api/restore/status
func (h *RestoreHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.log, w, http.StatusOK, h.status())
}

// handleInit starts a new session, dropping shares of a previous one.
//
// Endpoint: POST /api/restore/init
// Body: {"threshold": <int>}, a zero or missing threshold is learned from the shares
func (h *RestoreHandler) handleInit(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Threshold int `json:"threshold"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&params); err != nil {
			writeJSON(h.log, w, http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
			return
		}
	}
	if params.Threshold < 0 || params.Threshold > interfaces.MaxShares {
		writeJSON(h.log, w, http.StatusBadRequest, api.ErrorResponse{Error: "Invalid threshold"})
		return
	}

	h.mu.Lock()
	if h.state == StateCollecting {
		h.mu.Unlock()
		writeJSON(h.log, w, http.StatusConflict, api.ErrorResponse{Error: "Restore already in progress"})
		return
	}
	h.state = StateCollecting
	h.collector = recovery.NewCollector(params.Threshold)
	h.mu.Unlock()

	h.log.Info("Restore session started", "threshold", params.Threshold)
	writeJSON(h.log, w, http.StatusOK, h.status())
}

// handleSubmitShare adds one encoded key part to the session.
//
// Endpoint: POST /api/restore/share
// Body: the encoded key part
func (h *RestoreHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	collector, ok := h.collecting()
	if !ok {
		writeJSON(h.log, w, http.StatusConflict, api.ErrorResponse{Error: "No restore in progress"})
		return
	}

	payload, err := readPayload(r)
	if err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	kp, err := keypart.Decode(payload)
	if err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	defer interfaces.Wipe(kp.Key)

	if collector.Add(kp) {
		h.log.Info("Share submitted", "owner", kp.Owner, "collected", collector.Count())
	} else {
		h.log.Debug("Share already collected", "owner", kp.Owner)
	}
	writeJSON(h.log, w, http.StatusOK, h.status())
}

// handleRestoreBackup opens a backup with the collected shares and returns the
// plaintext. The session completes on success and keeps collecting otherwise.
//
// Endpoint: POST /api/restore/backup
// Body: {"backup_id": <int>} or {"ciphertext": "<base64>"}
func (h *RestoreHandler) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	collector, ok := h.collecting()
	if !ok {
		writeJSON(h.log, w, http.StatusConflict, api.ErrorResponse{Error: "No restore in progress"})
		return
	}

	var req api.RestoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}

	ciphertext := req.Ciphertext
	if ciphertext == "" {
		if req.BackupID <= 0 {
			writeJSON(h.log, w, http.StatusBadRequest, api.ErrorResponse{Error: "Missing backup id or ciphertext"})
			return
		}
		b, err := h.store.FindBackup(r.Context(), req.BackupID)
		if errors.Is(err, interfaces.ErrNotFound) {
			writeJSON(h.log, w, http.StatusNotFound, api.ErrorResponse{Error: "Backup not found"})
			return
		}
		if err != nil {
			h.log.Error("Failed to load backup", "err", err, "backupID", req.BackupID)
			writeJSON(h.log, w, http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to load backup"})
			return
		}
		if err := h.flow.Fetch(r.Context(), b); err != nil {
			h.log.Error("Failed to fetch backup", "err", err, "backup", b.Name)
			writeJSON(h.log, w, http.StatusBadGateway, api.ErrorResponse{Error: err.Error()})
			return
		}
		ciphertext = b.Ciphertext
	}

	plaintext, err := collector.Restore(h.flow, ciphertext)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, interfaces.ErrReconstruction):
			status = http.StatusConflict
		case errors.Is(err, interfaces.ErrDecryption):
			status = http.StatusUnprocessableEntity
		}
		h.log.Warn("Restore failed", "err", err, "collected", collector.Count())
		writeJSON(h.log, w, status, api.ErrorResponse{Error: err.Error()})
		return
	}
	defer interfaces.Wipe(plaintext)

	h.mu.Lock()
	h.state = StateComplete
	h.collector = nil
	h.mu.Unlock()
	h.completeOnce.Do(func() { close(h.completeChan) })

	h.log.Info("Backup restored")
	writeJSON(h.log, w, http.StatusOK, api.RestoreResponse{Plaintext: base64.StdEncoding.EncodeToString(plaintext)})
}

func (h *RestoreHandler) collecting() (*recovery.Collector, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateCollecting {
		return nil, false
	}
	return h.collector, true
}
