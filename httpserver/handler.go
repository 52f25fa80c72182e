package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ruteri/keyshare-backup/api"
	"github.com/ruteri/keyshare-backup/container"
	"github.com/ruteri/keyshare-backup/contacts"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/ruteri/keyshare-backup/recovery"
	"github.com/ruteri/keyshare-backup/scanner"
)

// maxBodySize bounds request bodies. Encoded key parts and backups are small.
const maxBodySize = 64 * 1024

// Handler serves the read-only views of the device state and the scan endpoint.
type Handler struct {
	store    interfaces.Store
	manager  *container.Manager
	tracker  *contacts.Tracker
	flow     *recovery.Flow
	ingester *scanner.Ingester
	log      *slog.Logger
}

// NewHandler creates a handler. Scanned payloads are passed to ingester.
func NewHandler(store interfaces.Store, manager *container.Manager, tracker *contacts.Tracker, flow *recovery.Flow, ingester *scanner.Ingester, log *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		manager:  manager,
		tracker:  tracker,
		flow:     flow,
		ingester: ingester,
		log:      log,
	}
}

// HandleStatus summarizes the container and the hand-out progress.
//
// URL format: GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prefs, err := h.store.Preferences(ctx)
	if err != nil {
		h.internalError(w, "Failed to load preferences", err)
		return
	}
	resp := api.StatusResponse{UserName: prefs.UserName, KeyShared: prefs.KeyShared}

	c, err := h.manager.Active(ctx)
	if err != nil {
		h.internalError(w, "Failed to load container", err)
		return
	}
	if c != nil {
		status := &api.ContainerStatus{
			Name:      c.Name,
			Threshold: c.Threshold,
			Total:     c.Total,
			Split:     c.IsSplit(),
			Timestamp: c.Timestamp,
			Holders:   make(map[string]int),
		}

		spares, err := h.manager.SparesAvailable(ctx)
		if err != nil {
			h.internalError(w, "Failed to list spare key parts", err)
			return
		}
		status.Spares = len(spares)

		all, err := h.tracker.List(ctx)
		if err != nil {
			h.internalError(w, "Failed to list contacts", err)
			return
		}
		for _, contact := range all {
			status.Holders[contact.SendStatus.String()]++
		}
		resp.Container = status
	}

	foreign, err := h.store.ListKeyParts(ctx, interfaces.ForeignKeyParts())
	if err != nil {
		h.internalError(w, "Failed to list foreign key parts", err)
		return
	}
	resp.ForeignKeyParts = len(foreign)

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleContacts lists the contacts of the active container.
//
// URL format: GET /api/contacts
func (h *Handler) HandleContacts(w http.ResponseWriter, r *http.Request) {
	all, err := h.tracker.List(r.Context())
	if err != nil {
		h.internalError(w, "Failed to list contacts", err)
		return
	}

	views := make([]api.ContactView, 0, len(all))
	for _, c := range all {
		views = append(views, api.NewContactView(c))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// HandleContact returns one contact.
//
// URL format: GET /api/contacts/{id}
func (h *Handler) HandleContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid contact id", "")
		return
	}

	c, err := h.store.FindContact(r.Context(), id)
	if errors.Is(err, interfaces.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Contact not found", "")
		return
	}
	if err != nil {
		h.internalError(w, "Failed to load contact", err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.NewContactView(c))
}

// HandleBackups lists the backups, oldest first.
//
// URL format: GET /api/backups
func (h *Handler) HandleBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.flow.List(r.Context(), interfaces.BackupFilter{})
	if err != nil {
		h.internalError(w, "Failed to list backups", err)
		return
	}

	views := make([]api.BackupView, 0, len(backups))
	for _, b := range backups {
		views = append(views, api.NewBackupView(b))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// HandleScan ingests one encoded key part.
//
// URL format: POST /api/scan
// Request body: the scanned text, as rendered into the QR code
//
// Malformed payloads are answered with 400, rejected key parts with 422 and
// the violated rule.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := h.ingester.Ingest(r.Context(), payload)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	resp := api.ScanResponse{
		ID:        res.KeyPart.ID,
		Owner:     res.KeyPart.Owner,
		Foreign:   res.KeyPart.Foreign,
		Duplicate: res.Duplicate,
	}
	if res.Holder != nil {
		view := api.NewContactView(res.Holder)
		resp.Holder = &view
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeIngestError(w http.ResponseWriter, err error) {
	var provErr *interfaces.ProvenanceError
	switch {
	case errors.Is(err, interfaces.ErrMalformedShare):
		h.writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.As(err, &provErr):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), string(provErr.Rule))
	default:
		h.internalError(w, "Failed to ingest key part", err)
	}
}

// readPayload reads a text body bounded by maxBodySize.
func readPayload(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBodySize {
		return "", errors.New("request body too large")
	}
	payload := strings.TrimSpace(string(body))
	if payload == "" {
		return "", errors.New("empty request body")
	}
	return payload, nil
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, "err", err)
	h.writeError(w, http.StatusInternalServerError, msg, "")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg, rule string) {
	writeJSON(h.log, w, status, api.ErrorResponse{Error: msg, Rule: rule})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(h.log, w, status, v)
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
